// Package command adapts player and console commands to the audit engine.
package command

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/database/service"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/purge"
	"github.com/robalyx/rewind/internal/query"
	"github.com/robalyx/rewind/internal/recording"
	"github.com/robalyx/rewind/internal/scheduler"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

var (
	// ErrQueueUnavailable is returned when another modification queue is active.
	ErrQueueUnavailable = errors.New("another modification is in progress")
	// ErrNoResults is returned when a query matched nothing.
	ErrNoResults = errors.New("no results found")
	// ErrQueryFailed is returned when storage could not answer a query.
	ErrQueryFailed = errors.New("query failed")
	// ErrNoQueue is returned when the caller has no queue to apply or cancel.
	ErrNoQueue = errors.New("no pending modification")
	// ErrNoLocation is returned when a command needs an in-world caller.
	ErrNoLocation = errors.New("command needs an in-world caller")
	// ErrNothingRemoved is returned when extinguish found no fire.
	ErrNothingRemoved = errors.New("no blocks removed")
)

// Store is the storage surface commands need.
type Store interface {
	purge.Store
	Lookup(ctx context.Context, q *activity.Query) (*service.LookupPage, error)
	QueryActivities(ctx context.Context, q *activity.Query) ([]*activity.Activity, error)
}

// Caller is whoever ran a command. A nil location means the console.
type Caller struct {
	Owner    world.Owner
	Location *world.Location
}

// Console returns the console caller.
func Console() Caller {
	return Caller{Owner: world.Owner{ID: uuid.Nil, Name: "console"}}
}

func (c Caller) sender() query.Sender {
	return query.Sender{Location: c.Location}
}

// LookupResult is one page of lookup results.
type LookupResult struct {
	Page         int
	Results      []*activity.Grouped
	HasMore      bool
	DefaultsUsed []string
}

// Handler runs commands. Storage reads go through the pipeline's I/O stage
// and world changes run on the main thread.
type Handler struct {
	parser        *query.Parser
	store         Store
	pipeline      *scheduler.Pipeline
	modifications *modification.Service
	recorder      *recording.Recorder
	registry      *action.Registry
	cfg           *config.CoreConfig
	logger        *zap.Logger
}

// NewHandler creates a command handler.
func NewHandler(
	parser *query.Parser,
	store Store,
	pipeline *scheduler.Pipeline,
	modifications *modification.Service,
	recorder *recording.Recorder,
	registry *action.Registry,
	cfg *config.CoreConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		parser:        parser,
		store:         store,
		pipeline:      pipeline,
		modifications: modifications,
		recorder:      recorder,
		registry:      registry,
		cfg:           cfg,
		logger:        logger.Named("command"),
	}
}

// Lookup shows one page of grouped results. Pages start at 1.
func (h *Handler) Lookup(ctx context.Context, caller Caller, args []string, page int) (*LookupResult, error) {
	parsed, err := h.parser.Parse(args, caller.sender())
	if err != nil {
		return nil, err
	}

	return h.lookup(ctx, parsed.Query, page)
}

// Near looks up activity within the configured radius of the caller.
func (h *Handler) Near(ctx context.Context, caller Caller, page int) (*LookupResult, error) {
	args := []string{fmt.Sprintf("r:%d", h.cfg.Lookup.NearRadius), "-" + query.FlagNoDefaults}
	return h.Lookup(ctx, caller, args, page)
}

func (h *Handler) lookup(ctx context.Context, q *activity.Query, page int) (*LookupResult, error) {
	page = max(page, 1)
	q.Limit = h.cfg.Lookup.PerPage
	q.Offset = (page - 1) * h.cfg.Lookup.PerPage

	var result *service.LookupPage

	err := h.pipeline.Fetch(ctx, func(ctx context.Context) error {
		var err error
		result, err = h.store.Lookup(ctx, q)
		return err
	})
	if err != nil {
		return nil, h.queryFailed("lookup", err)
	}

	if len(result.Results) == 0 {
		return nil, ErrNoResults
	}

	return &LookupResult{
		Page:         page,
		Results:      result.Results,
		HasMore:      result.HasMore,
		DefaultsUsed: q.DefaultsUsed,
	}, nil
}

// Rollback undoes matching activities immediately.
func (h *Handler) Rollback(ctx context.Context, caller Caller, args []string) (*modification.Result, error) {
	return h.modify(ctx, caller, args, modification.KindRollback, false)
}

// Restore redoes matching rolled back activities immediately.
func (h *Handler) Restore(ctx context.Context, caller Caller, args []string) (*modification.Result, error) {
	return h.modify(ctx, caller, args, modification.KindRestore, false)
}

// PreviewRollback shows a rollback to the caller only. Apply or Cancel finishes it.
func (h *Handler) PreviewRollback(ctx context.Context, caller Caller, args []string) (*modification.Result, error) {
	return h.modify(ctx, caller, args, modification.KindRollback, true)
}

// PreviewRestore shows a restore to the caller only. Apply or Cancel finishes it.
func (h *Handler) PreviewRestore(ctx context.Context, caller Caller, args []string) (*modification.Result, error) {
	return h.modify(ctx, caller, args, modification.KindRestore, true)
}

func (h *Handler) modify(
	ctx context.Context, caller Caller, args []string, kind modification.Kind, preview bool,
) (*modification.Result, error) {
	parsed, err := h.parser.Parse(args, caller.sender())
	if err != nil {
		return nil, err
	}

	// A second queue is refused before any I/O
	if !h.modifications.QueueAvailable() {
		return nil, ErrQueueUnavailable
	}

	q := parsed.Query
	if kind == modification.KindRestore {
		q.Restore()
	} else {
		q.Rollback()
	}

	rules := h.modifications.Ruleset()
	parsed.Flags.Apply(&rules)

	var (
		queue   *modification.Queue
		result  *modification.Result
		applied bool
	)

	err = scheduler.Run(ctx, h.pipeline,
		func(ctx context.Context) ([]*activity.Activity, error) {
			activities, err := h.store.QueryActivities(ctx, q)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", modification.ErrQueryFailed, err)
			}

			return activities, nil
		},
		func(activities []*activity.Activity) error {
			if len(activities) == 0 {
				return ErrNoResults
			}

			var err error
			if kind == modification.KindRollback {
				queue, err = h.modifications.NewRollbackQueue(caller.Owner, rules, activities)
			} else {
				queue, err = h.modifications.NewRestoreQueue(caller.Owner, rules, activities)
			}

			if err != nil {
				return err
			}

			if preview {
				result, err = queue.Preview()
			} else {
				result, err = queue.Apply()
				applied = err == nil
			}

			return err
		})

	// The world already changed, so the queue must be committed and released
	if applied {
		return result, h.commit(ctx, queue)
	}

	if err != nil && queue != nil {
		queue.Abandon()
	}

	switch {
	case errors.Is(err, modification.ErrQueueActive):
		return nil, ErrQueueUnavailable
	case errors.Is(err, modification.ErrQueryFailed):
		return nil, h.queryFailed(string(kind), err)
	case err != nil:
		return nil, err
	}

	return result, nil
}

// Apply makes the caller's previewed queue durable.
func (h *Handler) Apply(ctx context.Context, caller Caller) (*modification.Result, error) {
	var (
		queue   *modification.Queue
		result  *modification.Result
		applied bool
	)

	err := h.pipeline.Main().Call(ctx, func() error {
		current, ok := h.modifications.CurrentQueue()
		if !ok || current.Owner().ID != caller.Owner.ID {
			return ErrNoQueue
		}

		var err error
		queue = current
		result, err = queue.Apply()
		applied = err == nil

		return err
	})
	if applied {
		return result, h.commit(ctx, queue)
	}

	if err != nil {
		return nil, err
	}

	return result, nil
}

// Cancel discards the caller's previewed queue.
func (h *Handler) Cancel(ctx context.Context, caller Caller) error {
	return h.pipeline.Main().Call(ctx, func() error {
		if !h.modifications.CancelQueueForOwner(caller.Owner.ID) {
			return ErrNoQueue
		}

		return nil
	})
}

// commit persists the reversed flags on the I/O pool. It ignores cancellation
// because the world has already changed and the queue slot must be released.
func (h *Handler) commit(ctx context.Context, queue *modification.Queue) error {
	err := h.pipeline.Fetch(context.WithoutCancel(ctx), queue.Commit)
	if err != nil {
		return h.queryFailed("commit", err)
	}

	return nil
}

// Purge deletes matching activities window by window.
func (h *Handler) Purge(
	ctx context.Context, caller Caller, args []string, onCycle func(purge.CycleResult),
) (*purge.Summary, error) {
	parsed, err := h.parser.Parse(args, caller.sender())
	if err != nil {
		return nil, err
	}

	queue := purge.NewQueue(h.store, parsed.Query, &h.cfg.Purges, h.logger).OnCycle(onCycle)

	var summary *purge.Summary

	err = h.pipeline.Fetch(ctx, func(ctx context.Context) error {
		var err error
		summary, err = queue.Run(ctx)
		return err
	})
	if err != nil {
		return summary, h.queryFailed("purge", err)
	}

	return summary, nil
}

// WandMode selects what a wand does at a block.
type WandMode string

const (
	WandInspect  WandMode = "inspect"
	WandRollback WandMode = "rollback"
	WandRestore  WandMode = "restore"
)

// WandResult holds the lookup for inspect wands or the modification otherwise.
type WandResult struct {
	Lookup       *LookupResult
	Modification *modification.Result
}

// Wand inspects, rolls back or restores everything recorded at one block.
func (h *Handler) Wand(ctx context.Context, caller Caller, mode WandMode, target world.Location) (*WandResult, error) {
	block := target.Block()
	args := []string{
		"world:" + target.WorldName,
		fmt.Sprintf("at:%d,%d,%d", int(block.X), int(block.Y), int(block.Z)),
		"-" + query.FlagNoDefaults,
	}

	switch mode {
	case WandInspect:
		result, err := h.Lookup(ctx, caller, args, 1)
		return &WandResult{Lookup: result}, err
	case WandRollback:
		result, err := h.Rollback(ctx, caller, args)
		return &WandResult{Modification: result}, err
	case WandRestore:
		result, err := h.Restore(ctx, caller, args)
		return &WandResult{Modification: result}, err
	default:
		return nil, fmt.Errorf("unknown wand mode %q", mode)
	}
}

// Extinguish removes fire within radius blocks of the caller and returns how many
// blocks were cleared. A radius below 1 uses the configured default.
func (h *Handler) Extinguish(ctx context.Context, caller Caller, radius int) (int, error) {
	if caller.Location == nil {
		return 0, ErrNoLocation
	}

	if radius < 1 {
		radius = h.cfg.Modifications.ExtinguishRadius
	}

	center := caller.Location.Block()
	r := float64(radius)

	var removed int

	err := h.pipeline.Main().Call(ctx, func() error {
		removed = h.modifications.World().RemoveBlocks(caller.Location.WorldID,
			center.Add(-r), center.Add(r), world.FireMaterials)
		return nil
	})
	if err != nil {
		return 0, err
	}

	h.logger.Info("Extinguished fire",
		zap.String("caller", caller.Owner.Name),
		zap.Int("radius", radius),
		zap.Int("removed", removed))

	if removed == 0 {
		return 0, ErrNothingRemoved
	}

	return removed, nil
}

// PlayerQuit cancels the player's queue, drops their cached results and records the quit.
func (h *Handler) PlayerQuit(ctx context.Context, caller Caller) error {
	err := h.pipeline.Main().Call(ctx, func() error {
		h.modifications.ClearEverythingForOwner(caller.Owner.ID)
		return nil
	})
	if err != nil {
		return err
	}

	if caller.Location == nil || h.recorder == nil {
		return nil
	}

	quit := action.NewGenericAction(h.registry.MustGet("player-quit"), caller.Owner.Name, nil)
	h.recorder.Record(quit, *caller.Location, activity.PlayerCause(caller.Owner.ID, caller.Owner.Name))

	return nil
}

func (h *Handler) queryFailed(op string, err error) error {
	h.logger.Error("Command query failed", zap.String("operation", op), zap.Error(err))
	return fmt.Errorf("%w: %w", ErrQueryFailed, err)
}
