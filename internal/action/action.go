package action

import (
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/robalyx/rewind/internal/world"
)

// SerializerVersion is written next to every custom data blob.
const SerializerVersion = 1

// ApplyContext carries everything an action needs to undo or redo itself.
type ApplyContext struct {
	World    world.World
	Rules    *Ruleset
	Owner    world.Owner
	Location world.Location
	Mode     Mode
}

// Action is a single reversible change descriptor.
type Action interface {
	// Type returns the action type.
	Type() *ActionType
	// Descriptor returns a free-text label such as a material or entity name.
	Descriptor() string
	// Metadata returns the optional tagged payload.
	Metadata() *Metadata
	// ApplyRollback undoes the action.
	ApplyRollback(ac ApplyContext) Result
	// ApplyRestore redoes the action.
	ApplyRestore(ac ApplyContext) Result
	// Data flattens the action into its storage form.
	Data() (Data, error)
}

// Metadata is a tagged payload such as a teleport source or a reason text.
type Metadata struct {
	Kind   string            `json:"kind"`
	Values map[string]string `json:"values,omitempty"`
}

// Encode serializes metadata to JSON.
func (m *Metadata) Encode() (string, error) {
	if m == nil {
		return "", nil
	}

	data, err := sonic.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}

	return string(data), nil
}

// DecodeMetadata parses metadata JSON. Empty input yields nil.
func DecodeMetadata(raw string) (*Metadata, error) {
	if raw == "" {
		return nil, nil //nolint:nilnil // absent metadata is not an error
	}

	var m Metadata
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return &m, nil
}

// Data is the flattened storage form shared by every variant.
type Data struct {
	Key               string
	Descriptor        string
	Metadata          *Metadata
	Block             world.BlockState
	Replaced          world.BlockState
	Item              world.ItemStack
	EntityType        string
	CustomData        string
	CustomDataVersion int
}

// base holds the fields every variant shares.
type base struct {
	typ        *ActionType
	descriptor string
	metadata   *Metadata
}

func (b *base) Type() *ActionType {
	return b.typ
}

func (b *base) Descriptor() string {
	return b.descriptor
}

func (b *base) Metadata() *Metadata {
	return b.metadata
}

func (b *base) data() Data {
	return Data{
		Key:        b.typ.Key,
		Descriptor: b.descriptor,
		Metadata:   b.metadata,
	}
}
