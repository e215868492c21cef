package action

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
)

var (
	// ErrDuplicateActionType is returned when a key is registered twice.
	ErrDuplicateActionType = errors.New("action type already registered")
	// ErrUnknownActionType is returned when a key has no registered type.
	ErrUnknownActionType = errors.New("unknown action type")
	// ErrUnsupportedVersion is returned for custom data written by a newer serializer.
	ErrUnsupportedVersion = errors.New("unsupported serializer version")
)

// Registry maps action keys to their types.
type Registry struct {
	types map[string]*ActionType
	mu    sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]*ActionType)}
}

// DefaultRegistry creates a registry holding the built-in action types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range builtinTypes() {
		_ = r.Register(t)
	}

	return r
}

func builtinTypes() []*ActionType {
	return []*ActionType{
		NewActionType("block-break", Removes, VariantBlock, true),
		NewActionType("block-burn", Removes, VariantBlock, true),
		NewActionType("block-explode", Removes, VariantBlock, true),
		NewActionType("block-fade", Removes, VariantBlock, true),
		NewActionType("block-form", Creates, VariantBlock, true),
		NewActionType("block-place", Creates, VariantBlock, true),
		NewActionType("block-replace", Replaces, VariantBlock, true),
		NewActionType("block-spread", Creates, VariantBlock, true),
		NewActionType("bucket-empty", Creates, VariantBlock, true),
		NewActionType("bucket-fill", Removes, VariantBlock, true),
		NewActionType("entity-kill", Removes, VariantEntity, true),
		NewActionType("entity-spawn", Creates, VariantEntity, true),
		NewActionType("entity-remove", Removes, VariantEntity, true),
		NewActionType("entity-dye", Replaces, VariantEntity, true),
		NewActionType("hanging-break", Removes, VariantEntity, true),
		NewActionType("hanging-place", Creates, VariantEntity, true),
		NewActionType("item-drop", Removes, VariantItem, false),
		NewActionType("item-pickup", Creates, VariantItem, false),
		NewActionType("item-insert", Creates, VariantItem, true),
		NewActionType("item-remove", Removes, VariantItem, true),
		NewActionType("player-join", Creates, VariantGeneric, false),
		NewActionType("player-quit", Removes, VariantGeneric, false),
		NewActionType("player-command", Creates, VariantGeneric, false),
	}
}

// Register adds a type to the registry.
func (r *Registry) Register(t *ActionType) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.types[t.Key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateActionType, t.Key)
	}

	r.types[t.Key] = t

	return nil
}

// Get returns the type registered under key.
func (r *Registry) Get(key string) (*ActionType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.types[key]

	return t, ok
}

// Types returns every registered type ordered by key.
func (r *Registry) Types() []*ActionType {
	r.mu.RLock()
	types := make([]*ActionType, 0, len(r.types))
	for _, t := range r.types {
		types = append(types, t)
	}
	r.mu.RUnlock()

	sort.Slice(types, func(i, j int) bool { return types[i].Key < types[j].Key })

	return types
}

// KeysForFamily returns the keys of every type in a family, ordered by key.
func (r *Registry) KeysForFamily(family string) []string {
	var keys []string
	for _, t := range r.Types() {
		if t.Family == family {
			keys = append(keys, t.Key)
		}
	}

	return keys
}

// Families returns every distinct family.
func (r *Registry) Families() []string {
	var families []string
	for _, t := range r.Types() {
		if !slices.Contains(families, t.Family) {
			families = append(families, t.Family)
		}
	}

	slices.Sort(families)

	return families
}

// Decode rebuilds an action from its storage form.
func (r *Registry) Decode(d Data) (Action, error) {
	typ, ok := r.Get(d.Key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActionType, d.Key)
	}

	if d.CustomDataVersion > SerializerVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, d.CustomDataVersion)
	}

	switch typ.Variant {
	case VariantBlock:
		return &BlockAction{
			base:     base{typ: typ, descriptor: d.Descriptor, metadata: d.Metadata},
			Block:    d.Block,
			Replaced: d.Replaced,
		}, nil
	case VariantEntity:
		return decodeEntity(typ, d)
	case VariantItem:
		return &ItemStackAction{
			base: base{typ: typ, descriptor: d.Descriptor, metadata: d.Metadata},
			Item: d.Item,
		}, nil
	case VariantGeneric:
	}

	return &GenericAction{base: base{typ: typ, descriptor: d.Descriptor, metadata: d.Metadata}}, nil
}

// MustGet returns a registered type or panics. Used for built-in keys.
func (r *Registry) MustGet(key string) *ActionType {
	t, ok := r.Get(key)
	if !ok {
		panic(fmt.Sprintf("action type %q is not registered", key))
	}

	return t
}

