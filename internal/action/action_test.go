package action_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	world    *world.Memory
	registry *action.Registry
	worldID  uuid.UUID
	owner    world.Owner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	m := world.NewMemory()
	id := uuid.New()
	m.AddWorld(id, "overworld")

	return &fixture{
		world:    m,
		registry: action.DefaultRegistry(),
		worldID:  id,
		owner:    world.Owner{ID: uuid.New(), Name: "alice"},
	}
}

func (f *fixture) ctx(loc world.Location, mode action.Mode, rules *action.Ruleset) action.ApplyContext {
	return action.ApplyContext{World: f.world, Rules: rules, Owner: f.owner, Location: loc, Mode: mode}
}

func (f *fixture) loc(x, y, z float64) world.Location {
	return world.NewLocation(f.worldID, "overworld", x, y, z)
}

var stone = world.BlockState{Material: "minecraft:stone"}

func TestBlockBreakRollbackAndRestore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(1, 64, 1)
	a := action.NewBlockAction(f.registry.MustGet("block-break"), stone, world.Air(), nil)

	result := a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil))
	require.Equal(t, action.StatusApplied, result.Status)
	require.NotNil(t, result.Change)
	assert.True(t, result.Change.Old.IsAir())
	assert.Equal(t, stone, result.Change.New)
	assert.Equal(t, stone, f.world.Block(loc))

	result = a.ApplyRestore(f.ctx(loc, action.ModeCompleting, nil))
	require.Equal(t, action.StatusApplied, result.Status)
	assert.True(t, result.RemovedBlock)
	assert.True(t, f.world.Block(loc).IsAir())
}

func TestBlockPlaceUndoRedoRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(3, 64, 3)
	planks := world.BlockState{Material: "minecraft:oak_planks"}
	grass := world.BlockState{Material: "minecraft:short_grass"}

	f.world.SetBlock(loc, planks)
	before := f.world.Snapshot()

	a := action.NewBlockAction(f.registry.MustGet("block-place"), planks, grass, nil)
	require.Equal(t, action.StatusApplied, a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil)).Status)
	assert.Equal(t, grass, f.world.Block(loc))

	require.Equal(t, action.StatusApplied, a.ApplyRestore(f.ctx(loc, action.ModeCompleting, nil)).Status)
	assert.Equal(t, before, f.world.Snapshot())
}

func TestBlockPreviewDoesNotMutate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(0, 64, 0)
	before := f.world.Snapshot()

	a := action.NewBlockAction(f.registry.MustGet("block-break"), stone, world.Air(), nil)
	result := a.ApplyRollback(f.ctx(loc, action.ModePlanning, nil))

	assert.Equal(t, action.StatusPlanned, result.Status)
	assert.Equal(t, before, f.world.Snapshot())

	state, ok := f.world.PreviewState(f.owner, loc)
	require.True(t, ok)
	assert.Equal(t, stone, state)
}

func TestStackedPreviewMatchesApply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(0, 64, 0)
	dirt := world.BlockState{Material: "minecraft:dirt"}
	f.world.SetBlock(loc, dirt)

	// Newest first: stone was replaced by dirt after being placed on air
	stack := []*action.BlockAction{
		action.NewBlockAction(f.registry.MustGet("block-replace"), dirt, stone, nil),
		action.NewBlockAction(f.registry.MustGet("block-place"), stone, world.Air(), nil),
	}

	for _, a := range stack {
		result := a.ApplyRollback(f.ctx(loc, action.ModePlanning, nil))
		assert.Equal(t, action.StatusPlanned, result.Status, result.Reason)
	}

	assert.Equal(t, dirt, f.world.Block(loc))

	state, ok := f.world.PreviewState(f.owner, loc)
	require.True(t, ok)
	assert.True(t, state.IsAir())

	for _, a := range stack {
		result := a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil))
		assert.Equal(t, action.StatusApplied, result.Status, result.Reason)
	}

	assert.True(t, f.world.Block(loc).IsAir())
}

func TestBlockSkips(t *testing.T) {
	t.Parallel()

	dirt := world.BlockState{Material: "minecraft:dirt"}

	tests := []struct {
		name     string
		rules    *action.Ruleset
		existing world.BlockState
		reason   string
		status   action.Status
	}{
		{
			name:   "blacklisted",
			rules:  &action.Ruleset{BlockBlacklist: []string{"minecraft:stone"}},
			reason: action.ReasonBlacklisted,
			status: action.StatusSkipped,
		},
		{
			name:     "occupied",
			existing: dirt,
			reason:   action.ReasonOccupied,
			status:   action.StatusSkipped,
		},
		{
			name:     "overwrite",
			rules:    &action.Ruleset{Overwrite: true},
			existing: dirt,
			status:   action.StatusApplied,
		},
		{
			name:     "state changed",
			rules:    &action.Ruleset{RequireMatch: true, Overwrite: true},
			existing: dirt,
			reason:   action.ReasonStateChanged,
			status:   action.StatusSkipped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			loc := f.loc(0, 64, 0)
			if tt.existing.Material != "" {
				f.world.SetBlock(loc, tt.existing)
			}

			a := action.NewBlockAction(f.registry.MustGet("block-break"), stone, world.Air(), nil)
			result := a.ApplyRollback(f.ctx(loc, action.ModeCompleting, tt.rules))

			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestNotReversibleNeverTouchesWorld(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(0, 64, 0)
	before := f.world.Snapshot()

	actions := []action.Action{
		action.NewItemStackAction(f.registry.MustGet("item-drop"), world.ItemStack{Material: "minecraft:apple", Quantity: 1}, nil),
		action.NewGenericAction(f.registry.MustGet("player-join"), "alice", nil),
		action.NewBlockAction(action.NewActionType("block-ignite", action.Creates, action.VariantBlock, false), stone, world.Air(), nil),
	}

	for _, a := range actions {
		for _, mode := range []action.Mode{action.ModePlanning, action.ModeCompleting} {
			assert.Equal(t, action.StatusSkipped, a.ApplyRollback(f.ctx(loc, mode, nil)).Status)
			assert.Equal(t, action.StatusSkipped, a.ApplyRestore(f.ctx(loc, mode, nil)).Status)
		}
	}

	assert.Equal(t, before, f.world.Snapshot())
	assert.Zero(t, f.world.PreviewCount(f.owner))
}

func TestEntityKillRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(5, 64, 5)
	cow := world.EntitySnapshot{
		ID:       uuid.New(),
		Type:     "minecraft:cow",
		Location: loc,
		Data:     map[string]any{"CustomName": "Bessie", "Health": 0.0},
	}
	a := action.NewEntityAction(f.registry.MustGet("entity-kill"), cow, nil, nil)

	assert.Equal(t, action.StatusPlanned, a.ApplyRollback(f.ctx(loc, action.ModePlanning, nil)).Status)
	assert.Empty(t, f.world.Entities(f.worldID))

	require.Equal(t, action.StatusApplied, a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil)).Status)
	entity, ok := f.world.Entity(cow.ID)
	require.True(t, ok)
	assert.Equal(t, "Bessie", entity.Data["CustomName"])
	assert.NotContains(t, entity.Data, "Health")

	result := a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil))
	assert.Equal(t, action.ReasonTargetExists, result.Reason)

	require.Equal(t, action.StatusApplied, a.ApplyRestore(f.ctx(loc, action.ModeCompleting, nil)).Status)
	assert.Empty(t, f.world.Entities(f.worldID))

	blacklisted := a.ApplyRollback(f.ctx(loc, action.ModeCompleting, &action.Ruleset{EntityBlacklist: []string{"minecraft:cow"}}))
	assert.Equal(t, action.ReasonBlacklisted, blacklisted.Reason)
}

func TestEntityReplaceMergesData(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	loc := f.loc(5, 64, 5)
	id, err := f.world.SpawnEntity(world.EntitySnapshot{
		Type:     "minecraft:sheep",
		Location: loc,
		Data:     map[string]any{"Color": "blue"},
	})
	require.NoError(t, err)

	entity, _ := f.world.Entity(id)
	a := action.NewEntityAction(f.registry.MustGet("entity-dye"), entity, map[string]any{"Color": "blue"}, nil)
	a.State = map[string]any{"Color": "white"}

	require.Equal(t, action.StatusApplied, a.ApplyRollback(f.ctx(loc, action.ModeCompleting, nil)).Status)
	entity, _ = f.world.Entity(id)
	assert.Equal(t, "white", entity.Data["Color"])

	require.Equal(t, action.StatusApplied, a.ApplyRestore(f.ctx(loc, action.ModeCompleting, nil)).Status)
	entity, _ = f.world.Entity(id)
	assert.Equal(t, "blue", entity.Data["Color"])
}

func TestItemInsertRollback(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	chest := f.loc(0, 64, 0)
	diamonds := world.ItemStack{Material: "minecraft:diamond", Quantity: 4}
	f.world.AddItems(chest, diamonds)

	a := action.NewItemStackAction(f.registry.MustGet("item-insert"), diamonds, nil)

	require.Equal(t, action.StatusApplied, a.ApplyRollback(f.ctx(chest, action.ModeCompleting, nil)).Status)
	assert.Empty(t, f.world.Container(chest))

	assert.Equal(t, action.ReasonMissingTarget, a.ApplyRollback(f.ctx(chest, action.ModeCompleting, nil)).Reason)

	require.Equal(t, action.StatusApplied, a.ApplyRestore(f.ctx(chest, action.ModeCompleting, nil)).Status)
	assert.Equal(t, 4, f.world.Container(chest)[0].Quantity)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := action.DefaultRegistry()

	err := r.Register(action.NewActionType("block-break", action.Removes, action.VariantBlock, true))
	require.ErrorIs(t, err, action.ErrDuplicateActionType)

	breakType, ok := r.Get("block-break")
	require.True(t, ok)
	assert.Equal(t, "break", breakType.Family)

	assert.Equal(t, []string{"block-break", "hanging-break"}, r.KeysForFamily("break"))
	assert.Contains(t, r.Families(), "place")

	_, err = r.Decode(action.Data{Key: "block-unknown"})
	require.ErrorIs(t, err, action.ErrUnknownActionType)

	_, err = r.Decode(action.Data{Key: "block-break", CustomDataVersion: action.SerializerVersion + 1})
	require.ErrorIs(t, err, action.ErrUnsupportedVersion)
}

func TestDecodeRestoresVariants(t *testing.T) {
	t.Parallel()

	r := action.DefaultRegistry()
	metadata := &action.Metadata{Kind: "reason", Values: map[string]string{"text": "griefing"}}
	entity := world.EntitySnapshot{ID: uuid.New(), Type: "minecraft:pig", Data: map[string]any{"Saddle": true}}

	originals := []action.Action{
		action.NewBlockAction(r.MustGet("block-place"), stone, world.Air(), metadata),
		action.NewEntityAction(r.MustGet("entity-kill"), entity, nil, nil),
		action.NewItemStackAction(r.MustGet("item-remove"), world.ItemStack{Material: "minecraft:bread", Quantity: 2}, nil),
		action.NewGenericAction(r.MustGet("player-command"), "/home", nil),
	}

	for _, original := range originals {
		t.Run(original.Type().Key, func(t *testing.T) {
			t.Parallel()

			data, err := original.Data()
			require.NoError(t, err)

			decoded, err := r.Decode(data)
			require.NoError(t, err)
			assert.IsType(t, original, decoded)
			assert.Equal(t, original.Descriptor(), decoded.Descriptor())

			redata, err := decoded.Data()
			require.NoError(t, err)
			assert.Equal(t, data, redata)
		})
	}
}

func TestMetadataEncoding(t *testing.T) {
	t.Parallel()

	var empty *action.Metadata
	raw, err := empty.Encode()
	require.NoError(t, err)
	assert.Empty(t, raw)

	decoded, err := action.DecodeMetadata("")
	require.NoError(t, err)
	assert.Nil(t, decoded)

	m := &action.Metadata{Kind: "teleport", Values: map[string]string{"from": "0,64,0"}}
	raw, err = m.Encode()
	require.NoError(t, err)

	decoded, err = action.DecodeMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, m, decoded)
}
