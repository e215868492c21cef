package command_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/command"
	"github.com/robalyx/rewind/internal/database"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/purge"
	"github.com/robalyx/rewind/internal/query"
	"github.com/robalyx/rewind/internal/recording"
	"github.com/robalyx/rewind/internal/scheduler"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	handler  *command.Handler
	client   database.Client
	world    *world.Memory
	worldID  uuid.UUID
	registry *action.Registry
	queue    *recording.Queue
	main     *scheduler.MainThread
	alice    command.Caller
	bob      command.Caller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	return newFixtureWithWorld(t, nil)
}

// newFixtureWithWorld lets a test wrap the memory world the modification queues act on.
func newFixtureWithWorld(t *testing.T, wrap func(*world.Memory) world.World) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Core.Lookup.PerPage = 2
	registry := action.DefaultRegistry()
	logger := zap.NewNop()

	storage := &config.Storage{Engine: config.EngineSQLite, SQLite: config.SQLite{Path: ":memory:"}}
	client, err := database.NewConnection(t.Context(), storage, registry, logger, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	mem := world.NewMemory()
	worldID := uuid.New()
	mem.AddWorld(worldID, "overworld")

	main := scheduler.NewMainThread(logger)
	main.Start(t.Context())
	t.Cleanup(main.Stop)

	store := client.Service().Activity()
	pipeline := scheduler.NewPipeline(main, 2, logger)
	var target world.World = mem
	if wrap != nil {
		target = wrap(mem)
	}

	mods := modification.NewService(target, store, main, &cfg.Core.Modifications, logger)
	t.Cleanup(mods.Close)

	queue := recording.NewQueue(store, &cfg.Core.Recording, logger)
	recorder := recording.NewRecorder(&cfg.Core, nil, queue, logger)
	parser := query.NewParser(registry, mem, &cfg.Core)

	handler := command.NewHandler(parser, store, pipeline, mods, recorder, registry, &cfg.Core, logger)

	aliceLoc := world.NewLocation(worldID, "overworld", 0, 64, 0)
	bobLoc := world.NewLocation(worldID, "overworld", 5, 64, 5)

	return &fixture{
		handler:  handler,
		client:   client,
		world:    mem,
		worldID:  worldID,
		registry: registry,
		queue:    queue,
		main:     main,
		alice:    command.Caller{Owner: world.Owner{ID: uuid.New(), Name: "alice"}, Location: &aliceLoc},
		bob:      command.Caller{Owner: world.Owner{ID: uuid.New(), Name: "bob"}, Location: &bobLoc},
	}
}

func (f *fixture) loc(x, y, z float64) world.Location {
	return world.NewLocation(f.worldID, "overworld", x, y, z)
}

// breakBlocks records block breaks by bob and removes the blocks from the world.
func (f *fixture) breakBlocks(t *testing.T, material string, locs ...world.Location) {
	t.Helper()

	cause := activity.PlayerCause(f.bob.Owner.ID, f.bob.Owner.Name)

	batch := make([]*activity.Activity, 0, len(locs))
	for _, loc := range locs {
		a := action.NewBlockAction(f.registry.MustGet("block-break"), world.BlockState{Material: material}, world.Air(), nil)
		batch = append(batch, activity.New(a, loc, cause))
	}

	require.NoError(t, f.client.Service().Activity().InsertActivities(t.Context(), batch))
}

func (f *fixture) count(t *testing.T, q *activity.Query) int {
	t.Helper()

	n, err := f.client.Service().Activity().CountActivities(t.Context(), q)
	require.NoError(t, err)

	return n
}

func (f *fixture) onMain(t *testing.T, fn func()) {
	t.Helper()

	require.NoError(t, f.main.Call(t.Context(), func() error {
		fn()
		return nil
	}))
}

func TestLookup(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.breakBlocks(t, "minecraft:stone", f.loc(1, 64, 1), f.loc(2, 64, 1), f.loc(3, 64, 1))
	f.breakBlocks(t, "minecraft:dirt", f.loc(1, 63, 1))
	f.breakBlocks(t, "minecraft:sand", f.loc(1, 62, 1))

	result, err := f.handler.Lookup(t.Context(), f.alice, []string{"a:break"}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"r:32", "since:3d"}, result.DefaultsUsed)
	assert.True(t, result.HasMore)
	require.Len(t, result.Results, 2)

	result, err = f.handler.Lookup(t.Context(), f.alice, []string{"a:break"}, 2)
	require.NoError(t, err)
	assert.False(t, result.HasMore)
	require.Len(t, result.Results, 1)

	result, err = f.handler.Lookup(t.Context(), f.alice, []string{"b:stone"}, 1)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 3, result.Results[0].Count)

	_, err = f.handler.Lookup(t.Context(), f.alice, []string{"b:gold_block"}, 1)
	require.ErrorIs(t, err, command.ErrNoResults)

	var verr *query.ValidationError
	_, err = f.handler.Lookup(t.Context(), command.Console(), []string{"in:chunk"}, 1)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, query.CodeConsoleIn, verr.Code)
}

func TestNear(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.breakBlocks(t, "minecraft:stone", f.loc(2, 64, 2))
	f.breakBlocks(t, "minecraft:dirt", f.loc(40, 64, 40))

	result, err := f.handler.Near(t.Context(), f.alice, 1)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, "minecraft:stone", result.Results[0].Action.Descriptor())
	assert.Empty(t, result.DefaultsUsed)
}

func TestRollbackAndRestore(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := f.loc(1, 64, 1)
	f.breakBlocks(t, "minecraft:stone", target)

	result, err := f.handler.Rollback(t.Context(), f.alice, []string{"p:bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	var material string
	f.onMain(t, func() { material = f.world.Block(target).Material })
	assert.Equal(t, "minecraft:stone", material)

	reversed := activity.NewPurge()
	reversed.Reversed = new(bool)
	*reversed.Reversed = true
	assert.Equal(t, 1, f.count(t, reversed))

	// The activity is already reversed, so a second rollback finds nothing
	_, err = f.handler.Rollback(t.Context(), f.alice, []string{"p:bob"})
	require.ErrorIs(t, err, command.ErrNoResults)

	result, err = f.handler.Restore(t.Context(), f.alice, []string{"p:bob"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	f.onMain(t, func() { material = f.world.Block(target).Material })
	assert.Equal(t, world.AirMaterial, material)
	assert.Zero(t, f.count(t, reversed))
}

func TestPreviewCancelLeavesStoreUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := f.loc(1, 64, 1)
	f.breakBlocks(t, "minecraft:stone", target, f.loc(2, 64, 1))

	reversed := activity.NewPurge()
	reversed.Reversed = new(bool)
	*reversed.Reversed = true
	before := f.count(t, activity.NewPurge())

	result, err := f.handler.PreviewRollback(t.Context(), f.alice, []string{"p:bob"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Planned)

	var faux int
	f.onMain(t, func() { faux = f.world.PreviewCount(f.alice.Owner) })
	assert.Equal(t, 2, faux)

	_, err = f.handler.Rollback(t.Context(), f.bob, []string{"p:bob"})
	require.ErrorIs(t, err, command.ErrQueueUnavailable)

	require.ErrorIs(t, f.handler.Cancel(t.Context(), f.bob), command.ErrNoQueue)
	require.NoError(t, f.handler.Cancel(t.Context(), f.alice))

	f.onMain(t, func() { faux = f.world.PreviewCount(f.alice.Owner) })
	assert.Zero(t, faux)
	assert.Equal(t, before, f.count(t, activity.NewPurge()))
	assert.Zero(t, f.count(t, reversed))

	_, err = f.handler.Apply(t.Context(), f.alice)
	require.ErrorIs(t, err, command.ErrNoQueue)
}

func TestPreviewThenApply(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := f.loc(1, 64, 1)
	f.breakBlocks(t, "minecraft:stone", target)

	_, err := f.handler.PreviewRollback(t.Context(), f.alice, []string{"b:stone"})
	require.NoError(t, err)

	result, err := f.handler.Apply(t.Context(), f.alice)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	var material string
	f.onMain(t, func() { material = f.world.Block(target).Material })
	assert.Equal(t, "minecraft:stone", material)

	_, err = f.handler.Rollback(t.Context(), f.bob, []string{"b:stone"})
	require.ErrorIs(t, err, command.ErrNoResults)
}

func TestWand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	target := f.loc(7, 70, -3)
	f.breakBlocks(t, "minecraft:stone", target, f.loc(7, 71, -3))

	result, err := f.handler.Wand(t.Context(), f.alice, command.WandInspect, target)
	require.NoError(t, err)
	require.NotNil(t, result.Lookup)
	require.Len(t, result.Lookup.Results, 1)
	assert.Equal(t, 1, result.Lookup.Results[0].Count)

	result, err = f.handler.Wand(t.Context(), f.alice, command.WandRollback, target)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Modification.Applied)

	_, err = f.handler.Wand(t.Context(), f.alice, command.WandMode("teleport"), target)
	require.Error(t, err)
}

func TestPlayerQuit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.breakBlocks(t, "minecraft:stone", f.loc(1, 64, 1))

	_, err := f.handler.PreviewRollback(t.Context(), f.alice, []string{"b:stone"})
	require.NoError(t, err)

	require.NoError(t, f.handler.PlayerQuit(t.Context(), f.alice))

	_, err = f.handler.Rollback(t.Context(), f.bob, []string{"b:stone"})
	require.NoError(t, err)

	_, err = f.queue.Flush(t.Context())
	require.NoError(t, err)

	result, err := f.handler.Lookup(t.Context(), f.bob, []string{"a:player-quit", "p:alice"}, 1)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
}

func TestPurgeCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.breakBlocks(t, "minecraft:stone", f.loc(1, 64, 1), f.loc(2, 64, 1))
	f.breakBlocks(t, "minecraft:dirt", f.loc(3, 64, 1))

	var cycles int

	summary, err := f.handler.Purge(t.Context(), command.Console(), []string{"b:stone"}, func(purge.CycleResult) { cycles++ })
	require.NoError(t, err)
	assert.Equal(t, int64(2), summary.Deleted)
	assert.Equal(t, summary.Cycles, cycles)
	assert.Equal(t, 1, f.count(t, activity.NewPurge()))
}

func TestStorageFailureIsReported(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	require.NoError(t, f.client.Close())

	_, err := f.handler.Lookup(t.Context(), f.alice, []string{"b:stone"}, 1)
	require.ErrorIs(t, err, command.ErrQueryFailed)

	_, err = f.handler.Rollback(t.Context(), f.alice, []string{"b:stone"})
	require.ErrorIs(t, err, command.ErrQueryFailed)
}

// cancellingWorld cancels a command's context in the middle of a durable change.
type cancellingWorld struct {
	*world.Memory
	cancel context.CancelFunc
}

func (w *cancellingWorld) SetBlock(loc world.Location, state world.BlockState) (world.BlockState, int) {
	w.cancel()
	return w.Memory.SetBlock(loc, state)
}

func TestCancelledModificationStillCommits(t *testing.T) {
	t.Parallel()

	reversed := activity.NewPurge()
	reversed.Reversed = new(bool)
	*reversed.Reversed = true

	t.Run("rollback", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		f := newFixtureWithWorld(t, func(mem *world.Memory) world.World {
			return &cancellingWorld{Memory: mem, cancel: cancel}
		})
		f.breakBlocks(t, "minecraft:stone", f.loc(1, 64, 1))

		result, err := f.handler.Rollback(ctx, f.alice, []string{"r:10", "-nodefaults"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Applied)
		assert.Equal(t, 1, f.count(t, reversed))

		result, err = f.handler.Restore(t.Context(), f.alice, []string{"r:10", "-nodefaults"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Applied)
		assert.Zero(t, f.count(t, reversed))
	})

	t.Run("apply after preview", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		f := newFixtureWithWorld(t, func(mem *world.Memory) world.World {
			return &cancellingWorld{Memory: mem, cancel: cancel}
		})
		f.breakBlocks(t, "minecraft:stone", f.loc(1, 64, 1))

		_, err := f.handler.PreviewRollback(t.Context(), f.alice, []string{"r:10", "-nodefaults"})
		require.NoError(t, err)

		result, err := f.handler.Apply(ctx, f.alice)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Applied)
		assert.Equal(t, 1, f.count(t, reversed))

		_, err = f.handler.PreviewRestore(t.Context(), f.bob, []string{"p:bob", "-nodefaults"})
		require.NoError(t, err)
		require.NoError(t, f.handler.Cancel(t.Context(), f.bob))
	})
}

func TestLookupNamedCauseIgnoresCase(t *testing.T) {
	t.Parallel()

	f := newFixture(t)

	a := action.NewBlockAction(f.registry.MustGet("block-explode"), world.BlockState{Material: "minecraft:stone"}, world.Air(), nil)
	act := activity.New(a, f.loc(1, 64, 1), activity.NamedCause("TNT"))
	require.NoError(t, f.client.Service().Activity().InsertActivities(t.Context(), []*activity.Activity{act}))

	for _, arg := range []string{"c:TNT", "c:tnt"} {
		result, err := f.handler.Lookup(t.Context(), f.alice, []string{arg}, 1)
		require.NoError(t, err, arg)
		require.Len(t, result.Results, 1)
		assert.Equal(t, "tnt", result.Results[0].Cause.Name)
	}
}

func TestExtinguish(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := t.Context()

	near := f.loc(2, 64, -2)
	edge := f.loc(10, 64, 0)
	far := f.loc(11, 64, 0)
	f.world.SetBlock(near, world.BlockState{Material: "minecraft:fire"})
	f.world.SetBlock(edge, world.BlockState{Material: "minecraft:soul_fire"})
	f.world.SetBlock(far, world.BlockState{Material: "minecraft:fire"})
	f.world.SetBlock(f.loc(1, 64, 1), world.BlockState{Material: "minecraft:netherrack"})

	_, err := f.handler.Extinguish(ctx, command.Console(), 5)
	require.ErrorIs(t, err, command.ErrNoLocation)

	removed, err := f.handler.Extinguish(ctx, f.alice, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, f.world.Block(near).IsAir())
	assert.Equal(t, "minecraft:soul_fire", f.world.Block(edge).Material)

	// Zero falls back to the configured radius of 10
	removed, err = f.handler.Extinguish(ctx, f.alice, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.True(t, f.world.Block(edge).IsAir())
	assert.Equal(t, "minecraft:fire", f.world.Block(far).Material)
	assert.Equal(t, "minecraft:netherrack", f.world.Block(f.loc(1, 64, 1)).Material)

	_, err = f.handler.Extinguish(ctx, f.alice, 0)
	require.ErrorIs(t, err, command.ErrNothingRemoved)
}
