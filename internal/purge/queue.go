// Package purge deletes historical activities in primary key windows.
package purge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/pkg/utils"
	"go.uber.org/zap"
)

// ErrInvalidCycleSize is returned when the window size is not positive.
var ErrInvalidCycleSize = errors.New("purge cycle size must be positive")

// Store deletes activities inside a primary key window.
type Store interface {
	MaxPrimaryKey(ctx context.Context) (int64, error)
	DeleteActivities(ctx context.Context, q *activity.Query, minPK, maxPK int64) (int64, error)
}

// CycleResult describes one window.
type CycleResult struct {
	Deleted       int64
	MinPrimaryKey int64
	MaxPrimaryKey int64
}

// Summary totals a purge run.
type Summary struct {
	Cycles   int
	Deleted  int64
	Complete bool
}

// Queue deletes activities matching one query, one window at a time.
type Queue struct {
	store   Store
	query   *activity.Query
	size    int64
	delay   time.Duration
	onCycle func(CycleResult)
	logger  *zap.Logger
}

// NewQueue creates a purge queue. The query is converted to modification shape.
func NewQueue(store Store, q *activity.Query, cfg *config.Purges, logger *zap.Logger) *Queue {
	return &Queue{
		store:  store,
		query:  q.Clone().Purge(),
		size:   int64(cfg.CycleSize),
		delay:  time.Duration(cfg.CycleDelay) * time.Millisecond,
		logger: logger.Named("purge"),
	}
}

// OnCycle registers a callback invoked after every window.
func (q *Queue) OnCycle(fn func(CycleResult)) *Queue {
	q.onCycle = fn
	return q
}

// Run deletes window by window up to the maximum primary key read at start.
// Empty windows still advance. Cancellation stops between windows.
func (q *Queue) Run(ctx context.Context) (*Summary, error) {
	if q.size <= 0 {
		return nil, ErrInvalidCycleSize
	}

	maxPK, err := q.store.MaxPrimaryKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read max primary key: %w", err)
	}

	summary := &Summary{}

	for start := int64(1); start <= maxPK; start += q.size {
		if start > 1 && q.delay > 0 {
			if utils.ContextSleep(ctx, q.delay) == utils.SleepCancelled {
				return summary, ctx.Err()
			}
		} else if utils.ContextGuard(ctx) {
			return summary, ctx.Err()
		}

		end := min(start+q.size-1, maxPK)

		deleted, err := q.store.DeleteActivities(ctx, q.query, start, end)
		if err != nil {
			return summary, fmt.Errorf("failed to purge window %d-%d: %w", start, end, err)
		}

		cycle := CycleResult{Deleted: deleted, MinPrimaryKey: start, MaxPrimaryKey: end}
		summary.Cycles++
		summary.Deleted += deleted

		q.logger.Debug("Purge cycle finished",
			zap.Int64("deleted", deleted),
			zap.Int64("minPrimaryKey", start),
			zap.Int64("maxPrimaryKey", end))

		if q.onCycle != nil {
			q.onCycle(cycle)
		}
	}

	summary.Complete = true

	q.logger.Info("Purge finished",
		zap.Int("cycles", summary.Cycles),
		zap.Int64("deleted", summary.Deleted))

	return summary, nil
}
