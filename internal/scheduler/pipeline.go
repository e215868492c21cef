package scheduler

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Pipeline runs a storage fetch on a bounded I/O pool and hands its result
// to the main thread.
type Pipeline struct {
	sem    *semaphore.Weighted
	main   *MainThread
	logger *zap.Logger
}

// NewPipeline creates a pipeline allowing at most concurrency fetches at once.
func NewPipeline(main *MainThread, concurrency int64, logger *zap.Logger) *Pipeline {
	if concurrency <= 0 {
		concurrency = 1
	}

	return &Pipeline{
		sem:    semaphore.NewWeighted(concurrency),
		main:   main,
		logger: logger.Named("pipeline"),
	}
}

// Main returns the main thread the pipeline applies on.
func (p *Pipeline) Main() *MainThread {
	return p.main
}

// Fetch runs fn under the I/O bound without a main thread stage.
func (p *Pipeline) Fetch(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	return fn(ctx)
}

// Run fetches on the I/O pool, then applies the result on the main thread.
// Cancellation is checked before the apply stage is queued and again once it runs.
func Run[T any](
	ctx context.Context, p *Pipeline,
	fetch func(ctx context.Context) (T, error),
	apply func(value T) error,
) error {
	var value T

	err := p.Fetch(ctx, func(ctx context.Context) error {
		var err error
		value, err = fetch(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("fetch stage failed: %w", err)
	}

	if err := ctx.Err(); err != nil {
		p.logger.Debug("Pipeline cancelled before apply stage", zap.Error(err))
		return err
	}

	return p.main.Call(ctx, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		return apply(value)
	})
}
