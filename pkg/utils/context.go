package utils

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SleepResult represents the outcome of a context-aware sleep operation.
type SleepResult int

const (
	// SleepCompleted indicates the sleep duration completed normally.
	SleepCompleted SleepResult = iota
	// SleepCancelled indicates the context was cancelled during sleep.
	SleepCancelled
)

// ContextSleep sleeps for the specified duration while respecting context cancellation.
func ContextSleep(ctx context.Context, duration time.Duration) SleepResult {
	if duration <= 0 {
		if ContextGuard(ctx) {
			return SleepCancelled
		}
		return SleepCompleted
	}

	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-timer.C:
		return SleepCompleted
	case <-ctx.Done():
		return SleepCancelled
	}
}

// ContextSleepWithLog is ContextSleep that logs cancelMessage when the context ends first.
func ContextSleepWithLog(
	ctx context.Context, duration time.Duration, logger *zap.Logger, cancelMessage string,
) SleepResult {
	result := ContextSleep(ctx, duration)
	if result == SleepCancelled && logger != nil && cancelMessage != "" {
		logger.Info(cancelMessage)
	}

	return result
}

// ContextGuard checks if the context is cancelled and returns true if so.
// This is useful at the beginning of loops or before starting long-running operations.
func ContextGuard(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// ErrorSleep pauses a worker after a failed step.
// Returns true if the worker should continue, false if the context was cancelled.
func ErrorSleep(ctx context.Context, duration time.Duration, logger *zap.Logger, workerName string) bool {
	result := ContextSleepWithLog(ctx, duration, logger,
		"Context cancelled during error wait, stopping "+workerName)
	return result == SleepCompleted
}

// IntervalSleep pauses between iterations or batches.
// Returns true if the worker should continue, false if the context was cancelled.
func IntervalSleep(ctx context.Context, duration time.Duration, logger *zap.Logger, workerName string) bool {
	result := ContextSleepWithLog(ctx, duration, logger,
		"Context cancelled during pause, stopping "+workerName)
	return result == SleepCompleted
}
