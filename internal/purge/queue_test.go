package purge_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/database"
	"github.com/robalyx/rewind/internal/purge"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func seededClient(t *testing.T, rows int) database.Client {
	t.Helper()

	cfg := &config.Storage{Engine: config.EngineSQLite, SQLite: config.SQLite{Path: ":memory:"}}
	registry := action.DefaultRegistry()

	client, err := database.NewConnection(t.Context(), cfg, registry, zap.NewNop(), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	worldID := uuid.New()
	cause := activity.PlayerCause(uuid.New(), "alice")

	batch := make([]*activity.Activity, 0, rows)
	for i := range rows {
		material := "minecraft:dirt"
		if i%2 == 0 {
			material = "minecraft:stone"
		}

		a := action.NewBlockAction(registry.MustGet("block-break"), world.BlockState{Material: material}, world.Air(), nil)
		batch = append(batch, activity.New(a, world.NewLocation(worldID, "overworld", float64(i), 64, 0), cause))
	}

	if rows > 0 {
		require.NoError(t, client.Service().Activity().InsertActivities(t.Context(), batch))
	}

	return client
}

func TestPurgeWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		rows       int
		cycleSize  int
		wantCycles int
	}{
		{name: "uneven windows", rows: 25, cycleSize: 7, wantCycles: 4},
		{name: "exact windows", rows: 24, cycleSize: 6, wantCycles: 4},
		{name: "single window", rows: 25, cycleSize: 100, wantCycles: 1},
		{name: "window of one", rows: 5, cycleSize: 1, wantCycles: 5},
		{name: "empty table", rows: 0, cycleSize: 10, wantCycles: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := seededClient(t, tt.rows)
			svc := client.Service().Activity()

			q := activity.NewLookup()
			q.AffectedBlocks = []string{"minecraft:stone"}

			var cycles []purge.CycleResult

			cfg := &config.Purges{CycleSize: tt.cycleSize}
			summary, err := purge.NewQueue(svc, q, cfg, zap.NewNop()).
				OnCycle(func(c purge.CycleResult) { cycles = append(cycles, c) }).
				Run(t.Context())
			require.NoError(t, err)

			stones := int64((tt.rows + 1) / 2)

			assert.True(t, summary.Complete)
			assert.Equal(t, tt.wantCycles, summary.Cycles)
			assert.Equal(t, stones, summary.Deleted)
			require.Len(t, cycles, tt.wantCycles)

			if tt.wantCycles > 0 {
				assert.Equal(t, int64(1), cycles[0].MinPrimaryKey)
				assert.Equal(t, int64(tt.rows), cycles[len(cycles)-1].MaxPrimaryKey)
			}

			remaining, err := svc.CountActivities(t.Context(), activity.NewPurge())
			require.NoError(t, err)
			assert.Equal(t, tt.rows-int(stones), remaining)
		})
	}
}

type sparseStore struct {
	maxPK   int64
	windows [][2]int64
	cancel  context.CancelFunc
}

func (s *sparseStore) MaxPrimaryKey(context.Context) (int64, error) {
	return s.maxPK, nil
}

func (s *sparseStore) DeleteActivities(_ context.Context, q *activity.Query, minPK, maxPK int64) (int64, error) {
	s.windows = append(s.windows, [2]int64{minPK, maxPK})

	if !q.Modification() {
		return 0, assert.AnError
	}

	if s.cancel != nil && len(s.windows) == 2 {
		s.cancel()
	}

	return 0, nil
}

func TestPurgeAdvancesThroughEmptyWindows(t *testing.T) {
	t.Parallel()

	store := &sparseStore{maxPK: 30}

	summary, err := purge.NewQueue(store, activity.NewLookup(), &config.Purges{CycleSize: 10}, zap.NewNop()).Run(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Cycles)
	assert.Zero(t, summary.Deleted)
	assert.Equal(t, [][2]int64{{1, 10}, {11, 20}, {21, 30}}, store.windows)
}

func TestPurgeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	store := &sparseStore{maxPK: 100, cancel: cancel}

	summary, err := purge.NewQueue(store, activity.NewPurge(), &config.Purges{CycleSize: 10, CycleDelay: 1}, zap.NewNop()).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, summary.Cycles)
	assert.False(t, summary.Complete)
}

func TestPurgeRejectsInvalidCycleSize(t *testing.T) {
	t.Parallel()

	_, err := purge.NewQueue(&sparseStore{}, activity.NewPurge(), &config.Purges{}, zap.NewNop()).Run(t.Context())
	require.ErrorIs(t, err, purge.ErrInvalidCycleSize)
}
