// Package filter decides which activities get recorded.
package filter

import (
	"slices"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/world"
	"golang.org/x/text/cases"
)

// Behavior is what a matching filter does.
type Behavior string

const (
	BehaviorAllow  Behavior = "ALLOW"
	BehaviorIgnore Behavior = "IGNORE"
)

// PlayerState answers questions about live players that activities do not carry.
type PlayerState interface {
	HasPermission(playerID uuid.UUID, permission string) bool
	GameMode(playerID uuid.UUID) (string, bool)
}

// Filter is a conjunction of optional conditions. Empty conditions always match.
type Filter struct {
	Name        string
	Behavior    Behavior
	Worlds      []string
	Permissions []string
	Actions     []string
	Causes      []string
	EntityTypes []string
	Materials   []string
	GameModes   []string
}

// fold case-folds a name. Casers are stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// Empty reports whether the filter has no conditions at all.
func (f *Filter) Empty() bool {
	return len(f.Worlds) == 0 && len(f.Permissions) == 0 && len(f.Actions) == 0 &&
		len(f.Causes) == 0 && len(f.EntityTypes) == 0 && len(f.Materials) == 0 &&
		len(f.GameModes) == 0
}

// Matches reports whether every configured condition holds for the activity.
func (f *Filter) Matches(a *activity.Activity, state PlayerState) bool {
	if len(f.Worlds) > 0 && !slices.Contains(f.Worlds, fold(a.Location.WorldName)) {
		return false
	}

	if len(f.Actions) > 0 && !slices.Contains(f.Actions, fold(a.Action.Type().Key)) {
		return false
	}

	if len(f.Causes) > 0 && !slices.Contains(f.Causes, fold(a.Cause.String())) {
		return false
	}

	if len(f.EntityTypes) > 0 {
		entityType, ok := entityTypeOf(a.Action)
		if !ok || !slices.Contains(f.EntityTypes, fold(world.NamespacedKey(entityType))) {
			return false
		}
	}

	if len(f.Materials) > 0 {
		material, ok := materialOf(a.Action)
		if !ok || !slices.Contains(f.Materials, fold(world.NamespacedKey(material))) {
			return false
		}
	}

	if len(f.Permissions) > 0 && !f.matchesPermission(a, state) {
		return false
	}

	if len(f.GameModes) > 0 && !f.matchesGameMode(a, state) {
		return false
	}

	return true
}

func (f *Filter) matchesPermission(a *activity.Activity, state PlayerState) bool {
	if a.Cause.Player == nil || state == nil {
		return false
	}

	for _, permission := range f.Permissions {
		if state.HasPermission(a.Cause.Player.ID, permission) {
			return true
		}
	}

	return false
}

func (f *Filter) matchesGameMode(a *activity.Activity, state PlayerState) bool {
	if a.Cause.Player == nil || state == nil {
		return false
	}

	mode, ok := state.GameMode(a.Cause.Player.ID)

	return ok && slices.Contains(f.GameModes, fold(mode))
}

func entityTypeOf(a action.Action) (string, bool) {
	if e, ok := a.(*action.EntityAction); ok {
		return e.EntityType, true
	}

	return "", false
}

func materialOf(a action.Action) (string, bool) {
	switch v := a.(type) {
	case *action.BlockAction:
		return v.Block.Material, true
	case *action.ItemStackAction:
		return v.Item.Material, true
	}

	return "", false
}
