// Package alert raises notices when players touch watched materials,
// such as mining ores or handling igniters.
package alert

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
	"golang.org/x/text/cases"
)

// Kind separates block alerts from item alerts.
type Kind string

const (
	KindBlock Kind = "block"
	KindItem  Kind = "item"
)

// Alert is one watched material touched by a player.
type Alert struct {
	Kind     Kind
	Tag      string
	Material string
	Action   string
	Player   activity.Player
	Location world.Location
}

// Notifier receives raised alerts on the recording goroutine.
type Notifier func(Alert)

// GameModes reports a player's current game mode.
type GameModes interface {
	GameMode(playerID uuid.UUID) (string, bool)
}

type recentKey struct {
	player   uuid.UUID
	material string
}

// Service matches block breaks against the alerted block tags and item
// actions against the alerted item tags.
type Service struct {
	blocks         map[string]string
	items          map[string]string
	modes          GameModes
	ignoreCreative bool
	notify         Notifier
	logger         *zap.Logger

	mu     sync.Mutex
	recent *utils.TTLMap[recentKey, struct{}]
}

// NewService builds the watched material sets from the configured tags.
// Modes and notify may be nil.
func NewService(cfg *config.CoreConfig, modes GameModes, notify Notifier, logger *zap.Logger) *Service {
	s := &Service{
		modes:          modes,
		ignoreCreative: cfg.Alerts.IgnoreCreative,
		notify:         notify,
		logger:         logger.Named("alert_service"),
	}

	s.blocks = s.watch("block", cfg.Alerts.BlockTags, cfg.Tags.Blocks)
	s.items = s.watch("item", cfg.Alerts.ItemTags, cfg.Tags.Items)

	if cfg.Alerts.Cooldown > 0 {
		s.recent = utils.NewTTLMap(utils.TTLMapOptions[recentKey, struct{}]{
			TTL: time.Duration(cfg.Alerts.Cooldown) * time.Second,
		})
	}

	s.logger.Info("Loaded alerts",
		zap.Int("blockMaterials", len(s.blocks)),
		zap.Int("itemMaterials", len(s.items)))

	return s
}

// watch maps every member of the named tags to its tag name.
func (s *Service) watch(kind string, names []string, tags map[string][]string) map[string]string {
	watched := make(map[string]string)

	for _, name := range names {
		members, ok := tags[name]
		if !ok {
			s.logger.Warn("Alert references an unknown tag",
				zap.String("kind", kind),
				zap.String("tag", name))

			continue
		}

		for _, m := range members {
			watched[materialKey(m)] = name
		}
	}

	return watched
}

// Check raises an alert when a player's activity touches a watched material.
// It reports whether an alert was raised.
func (s *Service) Check(a *activity.Activity) bool {
	player := a.Cause.Player
	if player == nil {
		return false
	}

	kind, material, tag, ok := s.match(a.Action)
	if !ok {
		return false
	}

	if s.ignoreCreative && s.modes != nil {
		if mode, ok := s.modes.GameMode(player.ID); ok && cases.Fold().String(mode) == "creative" {
			return false
		}
	}

	if s.coolingDown(recentKey{player: player.ID, material: material}) {
		return false
	}

	alert := Alert{
		Kind:     kind,
		Tag:      tag,
		Material: material,
		Action:   a.Action.Type().Key,
		Player:   *player,
		Location: a.Location,
	}

	s.logger.Info("Material alert",
		zap.String("player", player.Name),
		zap.String("kind", string(kind)),
		zap.String("tag", tag),
		zap.String("material", material),
		zap.String("action", alert.Action),
		zap.Stringer("location", a.Location))

	if s.notify != nil {
		s.notify(alert)
	}

	return true
}

func (s *Service) match(a action.Action) (Kind, string, string, bool) {
	switch act := a.(type) {
	case *action.BlockAction:
		if act.Type().Key != "block-break" {
			return "", "", "", false
		}

		material := materialKey(act.Block.Material)
		tag, ok := s.blocks[material]

		return KindBlock, material, tag, ok
	case *action.ItemStackAction:
		material := materialKey(act.Item.Material)
		tag, ok := s.items[material]

		return KindItem, material, tag, ok
	default:
		return "", "", "", false
	}
}

// coolingDown reports whether the player alerted for the material recently.
// Each touch restarts the cooldown, so a mined vein alerts once.
func (s *Service) coolingDown(key recentKey) bool {
	if s.recent == nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, seen := s.recent.Get(key)
	s.recent.Set(key, struct{}{})

	return seen
}

// Close stops the cooldown cleanup loop.
func (s *Service) Close() {
	if s.recent != nil {
		s.recent.Close()
	}
}

func materialKey(material string) string {
	return cases.Fold().String(world.NamespacedKey(material))
}
