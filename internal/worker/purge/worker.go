package purge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robalyx/rewind/internal/purge"
	"github.com/robalyx/rewind/internal/query"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/worker/core"
	"github.com/robalyx/rewind/pkg/utils"
	"go.uber.org/zap"
)

// ErrNoQueries is returned when no purge queries are configured.
var ErrNoQueries = errors.New("no purge queries configured")

// Worker runs the configured purge queries on a schedule.
type Worker struct {
	store    purge.Store
	parser   *query.Parser
	cfg      *config.Purges
	reporter *core.StatusReporter
	lease    *core.Lease
	logger   *zap.Logger
}

// New creates a new purge worker. Reporter and lease are optional.
func New(
	store purge.Store, parser *query.Parser, cfg *config.Purges,
	reporter *core.StatusReporter, lease *core.Lease, logger *zap.Logger,
) *Worker {
	return &Worker{
		store:    store,
		parser:   parser,
		cfg:      cfg,
		reporter: reporter,
		lease:    lease,
		logger:   logger.Named("purge_worker"),
	}
}

// Start runs purges until the context ends.
func (w *Worker) Start(ctx context.Context) {
	w.logger.Info("Purge Worker started", zap.Int("queries", len(w.cfg.Queries)))

	if w.reporter != nil {
		w.reporter.Start(ctx)
		defer w.reporter.Stop()
	}

	interval := time.Duration(w.cfg.Interval) * time.Minute

	for {
		if _, err := w.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Purge run failed", zap.Error(err))
			w.setHealthy(false)
		}

		w.updateStatus("Waiting for next run", 100)

		if !utils.IntervalSleep(ctx, interval, w.logger, "purge worker") {
			return
		}
	}
}

// RunOnce purges every configured query once and returns the rows deleted.
// It does nothing when another worker holds the purge lease.
func (w *Worker) RunOnce(ctx context.Context) (int64, error) {
	if len(w.cfg.Queries) == 0 {
		return 0, ErrNoQueries
	}

	if w.lease != nil {
		acquired, err := utils.WithRetry(ctx, func() (bool, error) {
			return w.lease.Acquire(ctx)
		}, utils.GetRedisRetryOptions())
		if err != nil {
			return 0, err
		}

		if !acquired {
			w.logger.Info("Another worker holds the purge lease, skipping run")
			return 0, nil
		}

		defer func() {
			if err := w.lease.Release(context.WithoutCancel(ctx)); err != nil {
				w.logger.Warn("Failed to release purge lease", zap.Error(err))
			}
		}()
	}

	w.setHealthy(true)

	var total int64

	for i, raw := range w.cfg.Queries {
		progress := i * 100 / len(w.cfg.Queries)
		w.updateStatus("Purging "+raw, progress)

		args := append(strings.Fields(raw), "-"+query.FlagNoDefaults)

		parsed, err := w.parser.Parse(args, query.Sender{})
		if err != nil {
			return total, fmt.Errorf("invalid purge query %q: %w", raw, err)
		}

		summary, err := purge.NewQueue(w.store, parsed.Query, w.cfg, w.logger).
			OnCycle(func(c purge.CycleResult) {
				w.logger.Debug("Purged window",
					zap.String("query", raw),
					zap.Int64("deleted", c.Deleted),
					zap.Int64("maxPrimaryKey", c.MaxPrimaryKey))
				w.extendLease(ctx)
			}).
			Run(ctx)
		if summary != nil {
			total += summary.Deleted
		}

		if err != nil {
			return total, err
		}

		w.logger.Info("Purged activities",
			zap.String("query", raw),
			zap.Int("cycles", summary.Cycles),
			zap.Int64("deleted", summary.Deleted))
	}

	w.updateStatus("Completed", 100)

	return total, nil
}

// extendLease keeps the purge lease alive across long runs.
func (w *Worker) extendLease(ctx context.Context) {
	if w.lease == nil {
		return
	}

	held, err := w.lease.Extend(ctx)
	if err != nil {
		w.logger.Warn("Failed to extend purge lease", zap.Error(err))
		return
	}

	if !held {
		w.logger.Warn("Purge lease expired during run")
	}
}

func (w *Worker) updateStatus(task string, progress int) {
	if w.reporter != nil {
		w.reporter.UpdateStatus(task, progress)
	}
}

func (w *Worker) setHealthy(healthy bool) {
	if w.reporter != nil {
		w.reporter.SetHealthy(healthy)
	}
}
