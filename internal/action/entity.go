package action

import (
	"errors"
	"fmt"
	"maps"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/world"
)

// transientEntityKeys are stripped from entity data before respawning.
var transientEntityKeys = []string{
	"DeathTime",
	"Fire",
	"Health",
	"HurtByTimestamp",
	"HurtTime",
	"OnGround",
	"Pos",
	"WorldUUIDLeast",
	"WorldUUIDMost",
}

// EntityAction records an entity being spawned, killed or modified.
// For REPLACES actions State is the prior state and Changed is what the action set.
type EntityAction struct {
	base
	EntityType string
	EntityID   uuid.UUID
	State      map[string]any
	Changed    map[string]any
}

// entityPayload is the custom data blob stored for entity actions.
type entityPayload struct {
	ID      uuid.UUID      `json:"id"`
	Data    map[string]any `json:"data,omitempty"`
	Changed map[string]any `json:"changed,omitempty"`
}

// NewEntityAction creates an entity action from a snapshot of the entity.
func NewEntityAction(typ *ActionType, entity world.EntitySnapshot, changed map[string]any, metadata *Metadata) *EntityAction {
	return &EntityAction{
		base:       base{typ: typ, descriptor: entity.Type, metadata: metadata},
		EntityType: entity.Type,
		EntityID:   entity.ID,
		State:      maps.Clone(entity.Data),
		Changed:    maps.Clone(changed),
	}
}

// ApplyRollback undoes the entity change.
func (a *EntityAction) ApplyRollback(ac ApplyContext) Result {
	switch a.typ.ResultKind {
	case Removes:
		return a.spawn(ac)
	case Creates:
		return a.remove(ac)
	case Replaces:
		return a.merge(ac, a.State)
	}

	return Skipped(ReasonUnsupported)
}

// ApplyRestore redoes the entity change.
func (a *EntityAction) ApplyRestore(ac ApplyContext) Result {
	switch a.typ.ResultKind {
	case Removes:
		return a.remove(ac)
	case Creates:
		return a.spawn(ac)
	case Replaces:
		return a.merge(ac, a.Changed)
	}

	return Skipped(ReasonUnsupported)
}

func (a *EntityAction) precheck(ac ApplyContext) (Result, bool) {
	if !a.typ.Reversible {
		return Skipped(ReasonNotReversible), false
	}

	if ac.Rules.EntityBlacklisted(a.EntityType) {
		return Skipped(ReasonBlacklisted), false
	}

	// Entities have no client-only representation, so previews only plan
	if ac.Mode == ModePlanning {
		return Result{Status: StatusPlanned}, false
	}

	return Result{}, true
}

func (a *EntityAction) spawn(ac ApplyContext) Result {
	if result, ok := a.precheck(ac); !ok {
		return result
	}

	data := maps.Clone(a.State)
	for _, key := range transientEntityKeys {
		delete(data, key)
	}

	_, err := ac.World.SpawnEntity(world.EntitySnapshot{
		ID:       a.EntityID,
		Type:     a.EntityType,
		Location: ac.Location,
		Data:     data,
	})
	if errors.Is(err, world.ErrEntityExists) {
		return Skipped(ReasonTargetExists)
	}

	if err != nil {
		return Skipped(ReasonFailed)
	}

	return Result{Status: StatusApplied}
}

func (a *EntityAction) remove(ac ApplyContext) Result {
	if result, ok := a.precheck(ac); !ok {
		return result
	}

	if !ac.World.RemoveEntity(a.EntityID) {
		return Skipped(ReasonMissingTarget)
	}

	return Result{Status: StatusApplied}
}

func (a *EntityAction) merge(ac ApplyContext, data map[string]any) Result {
	if result, ok := a.precheck(ac); !ok {
		return result
	}

	if len(data) == 0 {
		return Skipped(ReasonUnsupported)
	}

	if !ac.World.UpdateEntity(a.EntityID, data) {
		return Skipped(ReasonMissingTarget)
	}

	return Result{Status: StatusApplied}
}

// Data flattens the action into its storage form.
func (a *EntityAction) Data() (Data, error) {
	raw, err := sonic.MarshalString(entityPayload{ID: a.EntityID, Data: a.State, Changed: a.Changed})
	if err != nil {
		return Data{}, fmt.Errorf("failed to encode entity data: %w", err)
	}

	d := a.data()
	d.EntityType = a.EntityType
	d.CustomData = raw
	d.CustomDataVersion = SerializerVersion

	return d, nil
}

func decodeEntity(typ *ActionType, d Data) (*EntityAction, error) {
	var payload entityPayload
	if d.CustomData != "" {
		if err := sonic.UnmarshalString(d.CustomData, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode entity data: %w", err)
		}
	}

	return &EntityAction{
		base:       base{typ: typ, descriptor: d.Descriptor, metadata: d.Metadata},
		EntityType: d.EntityType,
		EntityID:   payload.ID,
		State:      payload.Data,
		Changed:    payload.Changed,
	}, nil
}
