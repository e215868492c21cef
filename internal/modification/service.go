package modification

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"github.com/robalyx/rewind/pkg/utils"
	"go.uber.org/zap"
)

// Executor runs world work on the world-mutation thread.
type Executor interface {
	Submit(fn func()) error
}

// Service owns the single active queue and the recent results per owner.
type Service struct {
	world   world.World
	store   Store
	exec    Executor
	rules   action.Ruleset
	results *utils.TTLMap[uuid.UUID, *Result]
	logger  *zap.Logger

	mu      sync.Mutex
	current *Queue
}

// NewService creates a modification service using the configured default ruleset.
func NewService(w world.World, store Store, exec Executor, cfg *config.Modifications, logger *zap.Logger) *Service {
	s := &Service{
		world: w,
		store: store,
		exec:  exec,
		rules: action.Ruleset{
			EntityBlacklist:   cfg.EntityBlacklist,
			BlockBlacklist:    cfg.BlockBlacklist,
			Overwrite:         cfg.Overwrite,
			DrainLava:         cfg.DrainLava,
			DrainLavaRadius:   cfg.DrainLavaRadius,
			RemoveDrops:       cfg.RemoveDrops,
			RemoveDropsRadius: cfg.RemoveDropsRadius,
			RequireMatch:      cfg.RequireMatch,
		},
		logger: logger.Named("modification"),
	}

	s.results = utils.NewTTLMap(utils.TTLMapOptions[uuid.UUID, *Result]{
		TTL:     time.Duration(cfg.ResultCacheExpiry) * time.Minute,
		MaxSize: cfg.ResultCacheSize,
		OnEvict: s.onResultEvicted,
	})

	return s
}

// Ruleset returns a copy of the configured default ruleset.
func (s *Service) Ruleset() action.Ruleset {
	return s.rules.Clone()
}

// World returns the world queues act on.
func (s *Service) World() world.World {
	return s.world
}

// QueueAvailable reports whether no queue is active.
func (s *Service) QueueAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current == nil
}

// NewRollbackQueue acquires the queue slot for a rollback.
func (s *Service) NewRollbackQueue(owner world.Owner, rules action.Ruleset, activities []*activity.Activity) (*Queue, error) {
	return s.acquire(KindRollback, owner, rules, activities)
}

// NewRestoreQueue acquires the queue slot for a restore.
func (s *Service) NewRestoreQueue(owner world.Owner, rules action.Ruleset, activities []*activity.Activity) (*Queue, error) {
	return s.acquire(KindRestore, owner, rules, activities)
}

func (s *Service) acquire(
	kind Kind, owner world.Owner, rules action.Ruleset, activities []*activity.Activity,
) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		return nil, ErrQueueActive
	}

	q := newQueue(kind, owner, rules, activities, s.world, s.store, s.logger, s.release)
	s.current = q

	s.logger.Debug("Acquired modification queue",
		zap.String("kind", string(kind)),
		zap.String("owner", owner.Name),
		zap.Int("activities", len(activities)))

	return q, nil
}

// release frees the slot and caches the queue's last result.
func (s *Service) release(q *Queue) {
	s.mu.Lock()
	if s.current == q {
		s.current = nil
	}
	s.mu.Unlock()

	if result := q.Result(); result != nil {
		s.results.Set(q.Owner().ID, result)
	}
}

// CurrentQueue returns the active queue.
func (s *Service) CurrentQueue() (*Queue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.current, s.current != nil
}

// CancelQueueForOwner cancels the active queue when the owner created it.
func (s *Service) CancelQueueForOwner(owner uuid.UUID) bool {
	q, ok := s.CurrentQueue()
	if !ok || q.Owner().ID != owner {
		return false
	}

	return q.Cancel()
}

// ClearEverythingForOwner ends the owner's queue in any state and drops their cached results.
func (s *Service) ClearEverythingForOwner(owner uuid.UUID) {
	if q, ok := s.CurrentQueue(); ok && q.Owner().ID == owner {
		q.Abandon()
	}

	s.results.Delete(owner)
}

// QueueResultForOwner returns the owner's active queue result, or their most recent cached one.
func (s *Service) QueueResultForOwner(owner uuid.UUID) (*Result, bool) {
	if q, ok := s.CurrentQueue(); ok && q.Owner().ID == owner {
		if result := q.Result(); result != nil {
			return result, true
		}
	}

	return s.results.Get(owner)
}

// Close stops the result cache.
func (s *Service) Close() {
	s.results.Close()
}

// onResultEvicted re-sends live state for results that were only previewed.
func (s *Service) onResultEvicted(owner uuid.UUID, result *Result, cause utils.EvictionCause) {
	if result.Mode != action.ModePlanning {
		return
	}

	var locations []world.Location

	for _, e := range result.Entries {
		if e.Result.Change != nil {
			locations = append(locations, e.Result.Change.Location)
		}
	}

	if len(locations) == 0 {
		return
	}

	err := s.exec.Submit(func() {
		for _, loc := range locations {
			s.world.SendBlockChange(result.Owner, loc, s.world.Block(loc))
		}
	})
	if err != nil {
		s.logger.Warn("Failed to restore live blocks for evicted preview",
			zap.Error(err),
			zap.String("owner", owner.String()),
			zap.Int("cause", int(cause)))
	}
}
