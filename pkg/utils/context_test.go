package utils_test

import (
	"context"
	"testing"
	"time"

	"github.com/robalyx/rewind/pkg/utils"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestContextSleep(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		duration       time.Duration
		cancelAfter    time.Duration
		expectedResult utils.SleepResult
	}{
		{
			name:           "sleep completes normally",
			duration:       10 * time.Millisecond,
			expectedResult: utils.SleepCompleted,
		},
		{
			name:           "context cancelled before sleep completes",
			duration:       time.Second,
			cancelAfter:    10 * time.Millisecond,
			expectedResult: utils.SleepCancelled,
		},
		{
			name:           "zero duration sleep",
			duration:       0,
			expectedResult: utils.SleepCompleted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			if tt.cancelAfter > 0 {
				go func() {
					time.Sleep(tt.cancelAfter)
					cancel()
				}()
			}

			assert.Equal(t, tt.expectedResult, utils.ContextSleep(ctx, tt.duration))
		})
	}
}

func TestContextGuard(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	assert.False(t, utils.ContextGuard(ctx))

	cancel()
	assert.True(t, utils.ContextGuard(ctx))
	assert.Equal(t, utils.SleepCancelled, utils.ContextSleep(ctx, 0))
}

func TestWorkerSleeps(t *testing.T) {
	t.Parallel()

	logger := zap.NewNop()

	t.Run("interval sleep continues", func(t *testing.T) {
		t.Parallel()
		assert.True(t, utils.IntervalSleep(t.Context(), time.Millisecond, logger, "purge worker"))
	})

	t.Run("error sleep stops on cancel", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		assert.False(t, utils.ErrorSleep(ctx, time.Second, logger, "purge worker"))
	})
}
