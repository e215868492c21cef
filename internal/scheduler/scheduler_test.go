package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robalyx/rewind/internal/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMainThread(t *testing.T) *scheduler.MainThread {
	t.Helper()

	main := scheduler.NewMainThread(zap.NewNop())
	main.Start(t.Context())
	t.Cleanup(main.Stop)

	return main
}

func TestMainThreadRunsTasksInOrder(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)

	var (
		mu    sync.Mutex
		order []int
	)

	for i := range 50 {
		require.NoError(t, main.Submit(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, main.Call(t.Context(), func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestMainThreadSurvivesPanics(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)

	require.NoError(t, main.Submit(func() { panic("boom") }))

	errWant := errors.New("after panic")
	assert.ErrorIs(t, main.Call(t.Context(), func() error { return errWant }), errWant)
}

func TestMainThreadCallReportsPanic(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)

	err := main.Call(t.Context(), func() error { panic("boom") })
	require.ErrorIs(t, err, scheduler.ErrTaskPanicked)
}

func TestMainThreadCallWaitsForStartedTask(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)
	ctx, cancel := context.WithCancel(t.Context())

	var finished atomic.Bool

	errWant := errors.New("task result")
	err := main.Call(ctx, func() error {
		cancel()
		time.Sleep(10 * time.Millisecond)
		finished.Store(true)

		return errWant
	})
	require.ErrorIs(t, err, errWant)
	assert.True(t, finished.Load())
}

func TestMainThreadCallSkipsTaskCancelledBeforeStart(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)

	release := make(chan struct{})
	require.NoError(t, main.Submit(func() { <-release }))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	var ran atomic.Bool

	err := main.Call(ctx, func() error {
		ran.Store(true)
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	require.NoError(t, main.Call(t.Context(), func() error { return nil }))
	assert.False(t, ran.Load())
}

func TestMainThreadSubmitFromMainThread(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)

	var ran atomic.Bool

	require.NoError(t, main.Call(t.Context(), func() error {
		return main.Submit(func() { ran.Store(true) })
	}))
	require.NoError(t, main.Call(t.Context(), func() error { return nil }))
	assert.True(t, ran.Load())
}

func TestMainThreadStopDrains(t *testing.T) {
	t.Parallel()

	main := scheduler.NewMainThread(zap.NewNop())

	var count atomic.Int32
	for range 10 {
		require.NoError(t, main.Submit(func() { count.Add(1) }))
	}

	main.Start(t.Context())
	main.Stop()

	assert.Equal(t, int32(10), count.Load())
	require.ErrorIs(t, main.Submit(func() {}), scheduler.ErrStopped)
	require.ErrorIs(t, main.Call(t.Context(), func() error { return nil }), scheduler.ErrStopped)
}

func TestPipelineRun(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)
	pipeline := scheduler.NewPipeline(main, 2, zap.NewNop())

	var applied string

	err := scheduler.Run(t.Context(), pipeline,
		func(context.Context) (string, error) { return "fetched", nil },
		func(v string) error {
			applied = v
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, "fetched", applied)

	errFetch := errors.New("storage down")
	err = scheduler.Run(t.Context(), pipeline,
		func(context.Context) (int, error) { return 0, errFetch },
		func(int) error {
			assert.Fail(t, "apply ran after a failed fetch")
			return nil
		})
	require.ErrorIs(t, err, errFetch)
}

func TestPipelineCancelledBeforeApply(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)
	pipeline := scheduler.NewPipeline(main, 1, zap.NewNop())

	ctx, cancel := context.WithCancel(t.Context())

	var applied atomic.Bool

	err := scheduler.Run(ctx, pipeline,
		func(context.Context) (int, error) {
			cancel()
			return 1, nil
		},
		func(int) error {
			applied.Store(true)
			return nil
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, applied.Load())
}

func TestPipelineBoundsConcurrency(t *testing.T) {
	t.Parallel()

	main := newMainThread(t)
	pipeline := scheduler.NewPipeline(main, 2, zap.NewNop())

	var (
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = pipeline.Fetch(t.Context(), func(context.Context) error {
				n := active.Add(1)
				for {
					seen := maxSeen.Load()
					if n <= seen || maxSeen.CompareAndSwap(seen, n) {
						break
					}
				}

				time.Sleep(10 * time.Millisecond)
				active.Add(-1)

				return nil
			})
		}()
	}

	wg.Wait()
	assert.LessOrEqual(t, maxSeen.Load(), int32(2))
}
