package modification_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errStoreDown = errors.New("store down")

type memoryStore struct {
	mu       sync.Mutex
	reversed map[int64]bool
	calls    int
	fail     bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{reversed: make(map[int64]bool)}
}

func (s *memoryStore) MarkReversed(_ context.Context, ids []int64, reversed bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.fail {
		return 0, errStoreDown
	}

	for _, id := range ids {
		s.reversed[id] = reversed
	}

	return int64(len(ids)), nil
}

type inlineExecutor struct{}

func (inlineExecutor) Submit(fn func()) error {
	fn()
	return nil
}

type fixture struct {
	world    *world.Memory
	worldID  uuid.UUID
	store    *memoryStore
	service  *modification.Service
	registry *action.Registry
	owner    world.Owner
	nextID   int64
}

func newFixture(t *testing.T, mutate func(*config.Modifications)) *fixture {
	t.Helper()

	cfg := config.Default().Core.Modifications
	if mutate != nil {
		mutate(&cfg)
	}

	mem := world.NewMemory()
	worldID := uuid.New()
	mem.AddWorld(worldID, "overworld")

	store := newMemoryStore()
	svc := modification.NewService(mem, store, inlineExecutor{}, &cfg, zap.NewNop())
	t.Cleanup(svc.Close)

	return &fixture{
		world:    mem,
		worldID:  worldID,
		store:    store,
		service:  svc,
		registry: action.DefaultRegistry(),
		owner:    world.Owner{ID: uuid.New(), Name: "alice"},
	}
}

func (f *fixture) loc(x, y, z float64) world.Location {
	return world.NewLocation(f.worldID, "overworld", x, y, z)
}

func (f *fixture) blockActivity(key, material string, replaced world.BlockState, loc world.Location) *activity.Activity {
	f.nextID++

	a := action.NewBlockAction(f.registry.MustGet(key), world.BlockState{Material: material}, replaced, nil)
	act := activity.New(a, loc, activity.PlayerCause(uuid.New(), "bob"))
	act.ID = f.nextID

	return act
}

type panicAction struct {
	action.Action
}

func (panicAction) ApplyRollback(action.ApplyContext) action.Result {
	panic("corrupt payload")
}

func TestRollbackRecreatesRemovedBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	loc := f.loc(1, 64, 1)
	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), loc)

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)
	assert.False(t, f.service.QueueAvailable())

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, modification.StateCompleting, q.State())
	assert.Equal(t, "minecraft:stone", f.world.Block(loc).Material)

	require.NoError(t, q.Commit(t.Context()))
	assert.True(t, act.Reversed)
	assert.True(t, f.store.reversed[act.ID])
	assert.Equal(t, modification.StateIdle, q.State())
	assert.True(t, f.service.QueueAvailable())

	cached, ok := f.service.QueueResultForOwner(f.owner.ID)
	require.True(t, ok)
	assert.Equal(t, action.ModeCompleting, cached.Mode)

	// A second rollback of the same activity changes nothing
	q, err = f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	result, err = q.Apply()
	require.NoError(t, err)
	assert.Zero(t, result.Applied)
	require.Len(t, result.Entries, 1)
	assert.Equal(t, modification.ReasonAlreadyReversed, result.Entries[0].Result.Reason)

	require.NoError(t, q.Commit(t.Context()))
	assert.Equal(t, 1, f.store.calls)
}

func TestRollbackThenRestoreRoundTrip(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	var acts []*activity.Activity

	for i := range 3 {
		loc := f.loc(float64(i), 70, 0)
		f.world.SetBlock(loc, world.BlockState{Material: "minecraft:oak_planks"})
		acts = append(acts, f.blockActivity("block-place", "minecraft:oak_planks", world.Air(), loc))
	}

	before := f.world.Snapshot()

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), acts)
	require.NoError(t, err)

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 3, result.Applied)
	assert.Equal(t, 3, result.RemovedBlocks)
	require.NoError(t, q.Commit(t.Context()))

	for _, act := range acts {
		assert.True(t, f.world.Block(act.Location).IsAir())
	}

	q, err = f.service.NewRestoreQueue(f.owner, f.service.Ruleset(), acts)
	require.NoError(t, err)

	result, err = q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 3, result.Applied)
	require.NoError(t, q.Commit(t.Context()))

	assert.Equal(t, before, f.world.Snapshot())

	for _, act := range acts {
		assert.False(t, act.Reversed)
		assert.False(t, f.store.reversed[act.ID])
	}
}

func TestRestoreSkipsUnreversed(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	act := f.blockActivity("block-place", "minecraft:dirt", world.Air(), f.loc(0, 0, 0))

	q, err := f.service.NewRestoreQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, modification.ReasonNotReversed, result.Entries[0].Result.Reason)
	assert.True(t, f.world.Block(act.Location).IsAir())
}

func TestPreviewThenCancelLeavesNothingBehind(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	loc := f.loc(5, 64, 5)
	act := f.blockActivity("block-break", "minecraft:diamond_ore", world.Air(), loc)

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	result, err := q.Preview()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Planned)
	assert.Equal(t, modification.StatePlanning, q.State())
	assert.True(t, f.world.Block(loc).IsAir())

	faux, ok := f.world.PreviewState(f.owner, loc)
	require.True(t, ok)
	assert.Equal(t, "minecraft:diamond_ore", faux.Material)

	_, err = q.Preview()
	require.ErrorIs(t, err, modification.ErrQueueEnded)

	assert.True(t, f.service.CancelQueueForOwner(f.owner.ID))
	assert.Zero(t, f.world.PreviewCount(f.owner))
	assert.True(t, f.world.Block(loc).IsAir())
	assert.True(t, q.Ended())
	assert.True(t, f.service.QueueAvailable())
	assert.Zero(t, f.store.calls)
	assert.False(t, act.Reversed)

	assert.False(t, q.Cancel())

	_, err = q.Apply()
	require.ErrorIs(t, err, modification.ErrQueueEnded)
}

func TestPreviewThenApply(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	loc := f.loc(2, 64, 2)
	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), loc)

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	_, err = q.Preview()
	require.NoError(t, err)

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Zero(t, f.world.PreviewCount(f.owner))
	assert.Equal(t, "minecraft:stone", f.world.Block(loc).Material)

	// Cancel after apply does not unwind anything
	assert.False(t, q.Cancel())
	require.NoError(t, q.Commit(t.Context()))
	assert.Equal(t, "minecraft:stone", f.world.Block(loc).Material)

	require.ErrorIs(t, q.Commit(t.Context()), modification.ErrNotCompleting)
}

func TestSingleActiveQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	other := world.Owner{ID: uuid.New(), Name: "carol"}

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), nil)
	require.NoError(t, err)

	_, err = f.service.NewRestoreQueue(other, f.service.Ruleset(), nil)
	require.ErrorIs(t, err, modification.ErrQueueActive)

	current, ok := f.service.CurrentQueue()
	require.True(t, ok)
	assert.Same(t, q, current)

	assert.False(t, f.service.CancelQueueForOwner(other.ID))
	assert.True(t, f.service.CancelQueueForOwner(f.owner.ID))

	_, err = f.service.NewRestoreQueue(other, f.service.Ruleset(), nil)
	require.NoError(t, err)
}

func TestFailingActionIsSkipped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	bad := f.blockActivity("block-break", "minecraft:stone", world.Air(), f.loc(0, 64, 0))
	bad.Action = panicAction{Action: bad.Action}
	good := f.blockActivity("block-break", "minecraft:stone", world.Air(), f.loc(1, 64, 0))

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{bad, good})
	require.NoError(t, err)

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, action.ReasonFailed, result.Entries[0].Result.Reason)

	require.NoError(t, q.Commit(t.Context()))
	assert.False(t, bad.Reversed)
	assert.True(t, good.Reversed)
}

func TestCommitFailureReleasesQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.store.fail = true
	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), f.loc(0, 64, 0))

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	_, err = q.Apply()
	require.NoError(t, err)

	require.ErrorIs(t, q.Commit(t.Context()), errStoreDown)
	assert.False(t, act.Reversed)
	assert.True(t, f.service.QueueAvailable())
}

func TestCleanupAroundAppliedChanges(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Modifications) {
		cfg.DrainLava = true
		cfg.DrainLavaRadius = 2
		cfg.RemoveDrops = true
		cfg.RemoveDropsRadius = 1
	})

	f.world.SetBlock(f.loc(12, 64, 10), world.BlockState{Material: world.LavaMaterial})
	f.world.SetBlock(f.loc(30, 64, 10), world.BlockState{Material: world.LavaMaterial})

	_, err := f.world.SpawnEntity(world.EntitySnapshot{ID: uuid.New(), Type: world.DropEntityType, Location: f.loc(10, 65, 10)})
	require.NoError(t, err)
	_, err = f.world.SpawnEntity(world.EntitySnapshot{ID: uuid.New(), Type: world.DropEntityType, Location: f.loc(10, 70, 10)})
	require.NoError(t, err)

	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), f.loc(10, 64, 10))

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	result, err := q.Apply()
	require.NoError(t, err)
	assert.Equal(t, 1, result.DrainedLava)
	assert.Equal(t, 1, result.RemovedDrops)
	assert.Equal(t, world.LavaMaterial, f.world.Block(f.loc(30, 64, 10)).Material)
}

func TestEvictedPreviewRestoresLiveBlocks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *config.Modifications) {
		cfg.ResultCacheSize = 1
	})

	loc := f.loc(4, 64, 4)
	act := f.blockActivity("block-break", "minecraft:gold_block", world.Air(), loc)

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	_, err = q.Preview()
	require.NoError(t, err)
	require.True(t, q.Cancel())

	cached, ok := f.service.QueueResultForOwner(f.owner.ID)
	require.True(t, ok)
	assert.Equal(t, action.ModePlanning, cached.Mode)

	// The client still shows the faux block when the cached preview is evicted
	f.world.SendBlockChange(f.owner, loc, world.BlockState{Material: "minecraft:gold_block"})
	require.Equal(t, 1, f.world.PreviewCount(f.owner))

	other := world.Owner{ID: uuid.New(), Name: "dave"}
	q, err = f.service.NewRollbackQueue(other, f.service.Ruleset(), nil)
	require.NoError(t, err)
	_, err = q.Preview()
	require.NoError(t, err)
	require.True(t, q.Cancel())

	_, ok = f.service.QueueResultForOwner(f.owner.ID)
	assert.False(t, ok)
	assert.Zero(t, f.world.PreviewCount(f.owner))
}

func TestClearEverythingForOwner(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), f.loc(0, 64, 0))

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	_, err = q.Preview()
	require.NoError(t, err)

	result, ok := f.service.QueueResultForOwner(f.owner.ID)
	require.True(t, ok)
	assert.Equal(t, 1, result.Planned)

	f.service.ClearEverythingForOwner(f.owner.ID)

	assert.True(t, f.service.QueueAvailable())
	assert.Zero(t, f.world.PreviewCount(f.owner))

	_, ok = f.service.QueueResultForOwner(f.owner.ID)
	assert.False(t, ok)
}

func TestClearEverythingReleasesUncommittedQueue(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	loc := f.loc(0, 64, 0)
	act := f.blockActivity("block-break", "minecraft:stone", world.Air(), loc)

	q, err := f.service.NewRollbackQueue(f.owner, f.service.Ruleset(), []*activity.Activity{act})
	require.NoError(t, err)

	_, err = q.Apply()
	require.NoError(t, err)
	assert.Equal(t, modification.StateCompleting, q.State())
	assert.False(t, q.Cancel())
	assert.False(t, f.service.QueueAvailable())

	f.service.ClearEverythingForOwner(f.owner.ID)

	assert.True(t, q.Ended())
	assert.True(t, f.service.QueueAvailable())
	assert.Equal(t, "minecraft:stone", f.world.Block(loc).Material)
	assert.Zero(t, f.store.calls)
	require.ErrorIs(t, q.Commit(t.Context()), modification.ErrNotCompleting)
	assert.False(t, q.Abandon())
}
