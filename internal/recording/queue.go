// Package recording buffers captured activities and writes them in batches.
package recording

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"go.uber.org/zap"
)

// Writer persists a batch of activities in one transaction.
type Writer interface {
	InsertActivities(ctx context.Context, activities []*activity.Activity) error
}

// Queue is a bounded buffer with many producers and a single writer.
type Queue struct {
	logger        *zap.Logger
	writer        Writer
	buf           chan *activity.Activity
	batchSize     int
	flushInterval time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	started       atomic.Bool
	dropped       atomic.Int64
	written       atomic.Int64
	mu            sync.Mutex
}

// NewQueue creates a queue. Call Start to run the writer.
func NewQueue(writer Writer, cfg *config.Recording, logger *zap.Logger) *Queue {
	size := max(cfg.QueueSize, 1)
	batch := max(cfg.BatchSize, 1)
	interval := time.Duration(max(cfg.FlushInterval, 1)) * time.Millisecond

	return &Queue{
		logger:        logger.Named("recording_queue"),
		writer:        writer,
		buf:           make(chan *activity.Activity, size),
		batchSize:     batch,
		flushInterval: interval,
		stop:          make(chan struct{}),
	}
}

// Start runs the background writer until Close.
func (q *Queue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}

	q.wg.Add(1)

	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
}

// Add enqueues an activity without blocking. A full or closed queue drops it.
func (q *Queue) Add(a *activity.Activity) bool {
	if q.closed.Load() {
		q.dropped.Add(1)
		return false
	}

	select {
	case q.buf <- a:
		return true
	default:
		q.dropped.Add(1)
		q.logger.Warn("Recording queue is full, dropping activity",
			zap.String("action", a.Action.Type().Key),
			zap.Stringer("location", a.Location))

		return false
	}
}

// Len returns the number of queued activities.
func (q *Queue) Len() int {
	return len(q.buf)
}

// Dropped returns how many activities were rejected since creation.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Written returns how many activities were persisted since creation.
func (q *Queue) Written() int64 {
	return q.written.Load()
}

func (q *Queue) run(ctx context.Context) {
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := q.Flush(ctx); err != nil {
				q.logger.Error("Failed to flush activities", zap.Error(err))
			}
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Flush writes everything currently queued, one transaction per batch.
// A failed batch is logged and dropped so a poison batch cannot wedge the writer.
func (q *Queue) Flush(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0

	var errs []error

	for {
		batch := q.take()
		if len(batch) == 0 {
			break
		}

		if err := q.writer.InsertActivities(ctx, batch); err != nil {
			q.logger.Error("Failed to write activity batch",
				zap.Int("count", len(batch)),
				zap.Error(err))

			errs = append(errs, err)

			if ctx.Err() != nil {
				break
			}

			continue
		}

		total += len(batch)
		q.written.Add(int64(len(batch)))
	}

	return total, errors.Join(errs...)
}

func (q *Queue) take() []*activity.Activity {
	batch := make([]*activity.Activity, 0, min(q.batchSize, len(q.buf)))

	for len(batch) < q.batchSize {
		select {
		case a := <-q.buf:
			batch = append(batch, a)
		default:
			return batch
		}
	}

	return batch
}

// Close stops accepting activities and drains the queue synchronously.
// If ctx ends before the queue is empty the remainder is abandoned with a warning.
func (q *Queue) Close(ctx context.Context) {
	if !q.closed.CompareAndSwap(false, true) {
		return
	}

	close(q.stop)
	q.wg.Wait()

	written, err := q.Flush(ctx)
	if err != nil {
		q.logger.Error("Failed to drain recording queue", zap.Error(err))
	}

	if remaining := q.Len(); remaining > 0 {
		q.logger.Warn("Recording queue closed with unwritten activities",
			zap.Int("remaining", remaining),
			zap.Int("written", written))

		return
	}

	q.logger.Info("Recording queue drained", zap.Int("written", written))
}
