package filter

import (
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

// Service evaluates ignore filters, then allow filters.
type Service struct {
	logger *zap.Logger
	state  PlayerState
	ignore []*Filter
	allow  []*Filter
	debug  bool
}

// NewService creates a filter service from configured filters.
// Filters without any usable condition are skipped with a warning.
func NewService(cfg *config.CoreConfig, state PlayerState, logger *zap.Logger) *Service {
	s := &Service{
		logger: logger.Named("filter_service"),
		state:  state,
		debug:  cfg.DebugFilters,
	}

	for _, fc := range cfg.Filters {
		s.load(fc, &cfg.Tags)
	}

	s.logger.Info("Loaded filters",
		zap.Int("allow", len(s.allow)),
		zap.Int("ignore", len(s.ignore)))

	return s
}

// NewServiceFromFilters creates a service from already-built filters.
func NewServiceFromFilters(filters []*Filter, state PlayerState, logger *zap.Logger) *Service {
	s := &Service{logger: logger.Named("filter_service"), state: state}
	for _, f := range filters {
		s.add(f)
	}

	return s
}

func (s *Service) load(fc config.Filter, tags *config.Tags) {
	name := fc.Name
	if name == "" {
		name = "Unnamed"
	}

	var behavior Behavior

	switch fold(fc.Behavior) {
	case "allow":
		behavior = BehaviorAllow
	case "ignore":
		behavior = BehaviorIgnore
	default:
		s.logger.Warn("Filter has no valid behavior, expected IGNORE or ALLOW",
			zap.String("filter", name),
			zap.String("behavior", fc.Behavior))

		return
	}

	c := fc.Conditions
	f := &Filter{
		Name:        name,
		Behavior:    behavior,
		Worlds:      foldAll(c.Worlds),
		Permissions: c.Permissions,
		Actions:     foldAll(c.Actions),
		Causes:      foldAll(c.Causes),
		GameModes:   foldAll(c.GameModes),
	}

	f.EntityTypes = namespacedAll(c.EntityTypes)
	f.EntityTypes = append(f.EntityTypes, s.expandTags(name, "entity type", c.EntityTypeTags, tags.EntityTypes)...)

	// Block and item tags merge into one material set
	f.Materials = namespacedAll(c.Materials)
	f.Materials = append(f.Materials, s.expandTags(name, "block", c.BlockTags, tags.Blocks)...)
	f.Materials = append(f.Materials, s.expandTags(name, "item", c.ItemTags, tags.Items)...)

	if f.Empty() {
		s.logger.Warn("Filter has no conditions and was not loaded", zap.String("filter", name))
		return
	}

	s.add(f)
}

func (s *Service) expandTags(filter, kind string, names []string, tags map[string][]string) []string {
	var members []string

	for _, name := range names {
		tag, ok := tags[name]
		if !ok {
			s.logger.Warn("Filter references an unknown tag",
				zap.String("filter", filter),
				zap.String("kind", kind),
				zap.String("tag", name))

			continue
		}

		members = append(members, namespacedAll(tag)...)
	}

	return members
}

func (s *Service) add(f *Filter) {
	if f.Behavior == BehaviorAllow {
		s.allow = append(s.allow, f)
	} else {
		s.ignore = append(s.ignore, f)
	}
}

// ShouldRecord reports whether an activity passes the filters.
// Any matching ignore filter rejects. Otherwise any matching allow filter accepts,
// and with no allow filters configured everything is accepted.
func (s *Service) ShouldRecord(a *activity.Activity) bool {
	for _, f := range s.ignore {
		if f.Matches(a, s.state) {
			s.logDecision(f, a, false)
			return false
		}
	}

	for _, f := range s.allow {
		if f.Matches(a, s.state) {
			s.logDecision(f, a, true)
			return true
		}
	}

	return len(s.allow) == 0
}

// Counts returns the number of loaded allow and ignore filters.
func (s *Service) Counts() (allow, ignore int) {
	return len(s.allow), len(s.ignore)
}

func (s *Service) logDecision(f *Filter, a *activity.Activity, record bool) {
	if !s.debug {
		return
	}

	s.logger.Debug("Filter decided activity",
		zap.String("filter", f.Name),
		zap.String("action", a.Action.Type().Key),
		zap.Stringer("location", a.Location),
		zap.Bool("record", record))
}

func foldAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	folded := make([]string, len(values))
	for i, v := range values {
		folded[i] = fold(v)
	}

	return folded
}

func namespacedAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}

	keys := make([]string, len(values))
	for i, v := range values {
		keys[i] = fold(world.NamespacedKey(v))
	}

	return keys
}
