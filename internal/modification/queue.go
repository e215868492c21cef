// Package modification applies rollbacks and restores to the world.
package modification

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

var (
	// ErrQueueActive is returned when a queue is created while another one is running.
	ErrQueueActive = errors.New("a modification queue is already active")
	// ErrQueueEnded is returned when a finished or cancelled queue is used again.
	ErrQueueEnded = errors.New("modification queue has already ended")
	// ErrNotCompleting is returned when Commit is called before Apply.
	ErrNotCompleting = errors.New("modification queue is not completing")
	// ErrQueryFailed is returned when activities could not be fetched for a queue.
	ErrQueryFailed = errors.New("failed to query activities")
)

// Skip reasons added by the queue itself.
const (
	ReasonAlreadyReversed = "already reversed"
	ReasonNotReversed     = "not reversed"
)

// Kind is the direction of a queue.
type Kind string

const (
	KindRollback Kind = "ROLLBACK"
	KindRestore  Kind = "RESTORE"
)

// State is the lifecycle position of a queue.
type State string

const (
	StateIdle       State = "IDLE"
	StatePlanning   State = "PLANNING"
	StateCompleting State = "COMPLETING"
	StateCancelled  State = "CANCELLED"
)

// Store persists the reversed flag of applied activities.
type Store interface {
	MarkReversed(ctx context.Context, ids []int64, reversed bool) (int64, error)
}

// Entry is the outcome for one activity.
type Entry struct {
	Activity *activity.Activity
	Result   action.Result
}

// Result aggregates one preview or apply run.
type Result struct {
	Kind          Kind
	Mode          action.Mode
	Owner         world.Owner
	Entries       []Entry
	Applied       int
	Skipped       int
	Planned       int
	DrainedLava   int
	MovedEntities int
	RemovedBlocks int
	RemovedDrops  int
}

// AppliedIDs returns the primary keys of every applied activity.
func (r *Result) AppliedIDs() []int64 {
	var ids []int64

	for _, e := range r.Entries {
		if e.Result.Status == action.StatusApplied && e.Activity.Persisted() {
			ids = append(ids, e.Activity.ID)
		}
	}

	return ids
}

func (r *Result) add(e Entry) {
	r.Entries = append(r.Entries, e)

	switch e.Result.Status {
	case action.StatusApplied:
		r.Applied++
	case action.StatusPlanned:
		r.Planned++
	case action.StatusSkipped:
		r.Skipped++
	}

	r.MovedEntities += e.Result.MovedEntities
	if e.Result.RemovedBlock {
		r.RemovedBlocks++
	}
}

// Queue applies one ordered batch of activities in a single direction.
// World calls must happen on the world-mutation thread. Commit does storage I/O.
type Queue struct {
	kind       Kind
	owner      world.Owner
	rules      action.Ruleset
	activities []*activity.Activity
	world      world.World
	store      Store
	logger     *zap.Logger
	onEnd      func(*Queue)

	mu      sync.Mutex
	state   State
	ended   bool
	result  *Result
	preview []world.Location
}

func newQueue(
	kind Kind, owner world.Owner, rules action.Ruleset, activities []*activity.Activity,
	w world.World, store Store, logger *zap.Logger, onEnd func(*Queue),
) *Queue {
	return &Queue{
		kind:       kind,
		owner:      owner,
		rules:      rules.Clone(),
		activities: activities,
		world:      w,
		store:      store,
		logger: logger.With(
			zap.String("kind", string(kind)),
			zap.String("owner", owner.Name),
		),
		onEnd: onEnd,
		state: StateIdle,
	}
}

// Kind returns the queue direction.
func (q *Queue) Kind() Kind {
	return q.kind
}

// Owner returns who created the queue.
func (q *Queue) Owner() world.Owner {
	return q.owner
}

// State returns the current lifecycle state.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.state
}

// Ended reports whether the queue was committed or cancelled.
func (q *Queue) Ended() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ended
}

// Result returns the last run's result, if any.
func (q *Queue) Result() *Result {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.result
}

// Preview shows the changes to the owner only. Nothing is persisted.
func (q *Queue) Preview() (*Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ended || q.state != StateIdle {
		return nil, ErrQueueEnded
	}

	q.state = StatePlanning
	q.result = q.run(action.ModePlanning)

	for _, e := range q.result.Entries {
		if e.Result.Change != nil {
			q.preview = append(q.preview, e.Result.Change.Location)
		}
	}

	q.logger.Info("Previewed modification",
		zap.Int("planned", q.result.Planned),
		zap.Int("skipped", q.result.Skipped))

	return q.result, nil
}

// Apply changes the world durably. It may follow Preview or run directly.
// Call Commit afterwards to persist the reversed flags and end the queue.
func (q *Queue) Apply() (*Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ended || (q.state != StateIdle && q.state != StatePlanning) {
		return nil, ErrQueueEnded
	}

	// Live blocks replace the faux ones before the durable run
	q.resendLive()

	q.state = StateCompleting
	q.result = q.run(action.ModeCompleting)
	q.cleanup(q.result)

	q.logger.Info("Applied modification",
		zap.Int("applied", q.result.Applied),
		zap.Int("skipped", q.result.Skipped),
		zap.Int("movedEntities", q.result.MovedEntities),
		zap.Int("drainedLava", q.result.DrainedLava),
		zap.Int("removedDrops", q.result.RemovedDrops))

	return q.result, nil
}

// Commit marks applied rollbacks reversed, or clears the flag for applied restores,
// then ends the queue. The queue ends even when storage fails.
func (q *Queue) Commit(ctx context.Context) error {
	q.mu.Lock()

	if q.ended || q.state != StateCompleting {
		q.mu.Unlock()
		return ErrNotCompleting
	}

	ids := q.result.AppliedIDs()
	q.mu.Unlock()

	defer q.end(StateIdle)

	if len(ids) == 0 {
		return nil
	}

	reversed := q.kind == KindRollback
	if _, err := q.store.MarkReversed(ctx, ids, reversed); err != nil {
		q.logger.Error("Failed to persist reversed flags",
			zap.Error(err),
			zap.Int("count", len(ids)))

		return fmt.Errorf("failed to mark activities reversed: %w", err)
	}

	q.mu.Lock()
	for _, e := range q.result.Entries {
		if e.Result.Status == action.StatusApplied {
			e.Activity.Reversed = reversed
		}
	}
	q.mu.Unlock()

	return nil
}

// Cancel ends a previewing queue, re-sending live state for every faux block.
// It returns false when the queue is completing or already ended.
func (q *Queue) Cancel() bool {
	q.mu.Lock()

	if q.ended || q.state == StateCompleting {
		q.mu.Unlock()
		return false
	}

	q.resendLive()
	q.state = StateCancelled
	q.mu.Unlock()

	q.logger.Info("Cancelled modification")
	q.end(StateIdle)

	return true
}

// Abandon ends the queue in any state without persisting anything.
// A completing queue that is abandoned leaves its applied changes in the world
// with their reversed flags unchanged in storage. It returns false when the queue already ended.
func (q *Queue) Abandon() bool {
	q.mu.Lock()

	if q.ended {
		q.mu.Unlock()
		return false
	}

	state := q.state
	q.resendLive()
	q.mu.Unlock()

	if state == StateCompleting {
		q.logger.Warn("Abandoned modification before its reversed flags were stored",
			zap.Int("applied", q.Result().Applied))
	} else {
		q.logger.Info("Abandoned modification", zap.String("state", string(state)))
	}

	q.end(StateCancelled)

	return true
}

// end releases the queue. Only the first call has an effect.
func (q *Queue) end(final State) {
	q.mu.Lock()
	if q.ended {
		q.mu.Unlock()
		return
	}

	q.ended = true
	q.state = final
	q.mu.Unlock()

	if q.onEnd != nil {
		q.onEnd(q)
	}
}

// resendLive clears the owner's faux blocks. Caller holds the lock.
func (q *Queue) resendLive() {
	for _, loc := range q.preview {
		q.world.SendBlockChange(q.owner, loc, q.world.Block(loc))
	}

	q.preview = nil
}

// run applies every activity in order. Caller holds the lock.
func (q *Queue) run(mode action.Mode) *Result {
	result := &Result{Kind: q.kind, Mode: mode, Owner: q.owner}

	for _, act := range q.activities {
		result.add(Entry{Activity: act, Result: q.applyOne(act, mode)})
	}

	return result
}

// applyOne applies a single activity. A panicking action is reported as skipped.
func (q *Queue) applyOne(act *activity.Activity, mode action.Mode) (res action.Result) {
	switch {
	case q.kind == KindRollback && act.Reversed:
		return action.Skipped(ReasonAlreadyReversed)
	case q.kind == KindRestore && !act.Reversed:
		return action.Skipped(ReasonNotReversed)
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Action panicked while applying",
				zap.Int64("activityID", act.ID),
				zap.String("action", act.Action.Type().Key),
				zap.Any("panic", r))

			res = action.Skipped(action.ReasonFailed)
		}
	}()

	ac := action.ApplyContext{
		World:    q.world,
		Rules:    &q.rules,
		Owner:    q.owner,
		Location: act.Location.BlockLocation(),
		Mode:     mode,
	}

	if q.kind == KindRollback {
		return act.Action.ApplyRollback(ac)
	}

	return act.Action.ApplyRestore(ac)
}

// cleanup drains lava and removes drops around the applied changes. Caller holds the lock.
func (q *Queue) cleanup(result *Result) {
	if !q.rules.DrainLava && !q.rules.RemoveDrops {
		return
	}

	for worldID, box := range appliedBounds(result) {
		if q.rules.DrainLava {
			r := float64(q.rules.DrainLavaRadius)
			result.DrainedLava += q.world.DrainLava(worldID, box.min.Add(-r), box.max.Add(r))
		}

		if q.rules.RemoveDrops {
			r := float64(q.rules.RemoveDropsRadius)
			result.RemovedDrops += q.world.RemoveDrops(worldID, box.min.Add(-r), box.max.Add(r))
		}
	}
}

type bounds struct {
	min, max world.Vector
}

// appliedBounds returns the box around every applied location, per world.
func appliedBounds(result *Result) map[uuid.UUID]bounds {
	boxes := make(map[uuid.UUID]bounds)

	for _, e := range result.Entries {
		if e.Result.Status != action.StatusApplied {
			continue
		}

		loc := e.Activity.Location
		v := loc.Block()

		box, ok := boxes[loc.WorldID]
		if !ok {
			boxes[loc.WorldID] = bounds{min: v, max: v}
			continue
		}

		box.min = world.Vector{X: math.Min(box.min.X, v.X), Y: math.Min(box.min.Y, v.Y), Z: math.Min(box.min.Z, v.Z)}
		box.max = world.Vector{X: math.Max(box.max.X, v.X), Y: math.Max(box.max.Y, v.Y), Z: math.Max(box.max.Z, v.Z)}
		boxes[loc.WorldID] = box
	}

	return boxes
}
