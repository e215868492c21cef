// Package action models reversible world changes and how to undo or redo them.
package action

import (
	"slices"
	"strings"

	"github.com/robalyx/rewind/internal/world"
)

// ResultKind describes what an action did to its target.
type ResultKind string

const (
	Creates  ResultKind = "CREATES"
	Removes  ResultKind = "REMOVES"
	Replaces ResultKind = "REPLACES"
)

// Variant tags which concrete Action a type decodes into.
type Variant string

const (
	VariantBlock   Variant = "block"
	VariantEntity  Variant = "entity"
	VariantItem    Variant = "item"
	VariantGeneric Variant = "generic"
)

// ActionType describes a class of actions.
type ActionType struct {
	Key        string
	Family     string
	ResultKind ResultKind
	Variant    Variant
	Reversible bool
}

// NewActionType creates a type whose family is the key's text after the first dash.
func NewActionType(key string, kind ResultKind, variant Variant, reversible bool) *ActionType {
	family := key
	if _, after, found := strings.Cut(key, "-"); found {
		family = after
	}

	return &ActionType{
		Key:        key,
		Family:     family,
		ResultKind: kind,
		Variant:    variant,
		Reversible: reversible,
	}
}

// Mode selects whether an apply is a preview or a durable change.
type Mode string

const (
	// ModePlanning shows changes to the owner only.
	ModePlanning Mode = "PLANNING"
	// ModeCompleting applies changes durably.
	ModeCompleting Mode = "COMPLETING"
)

// Status is the outcome of applying one action.
type Status string

const (
	StatusApplied Status = "APPLIED"
	StatusSkipped Status = "SKIPPED"
	StatusPlanned Status = "PLANNED"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonNotReversible = "not reversible"
	ReasonBlacklisted   = "blacklisted"
	ReasonOccupied      = "target occupied"
	ReasonStateChanged  = "state changed since recorded"
	ReasonMissingTarget = "target missing"
	ReasonTargetExists  = "target already exists"
	ReasonUnsupported   = "unsupported result kind"
	ReasonFailed        = "apply failed"
)

// StateChange is the before and after state of one block.
type StateChange struct {
	Location world.Location
	Old      world.BlockState
	New      world.BlockState
}

// Result is the outcome of applying one action.
type Result struct {
	Status        Status
	Reason        string
	Change        *StateChange
	MovedEntities int
	RemovedBlock  bool
}

// Skipped builds a SKIPPED result.
func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Reason: reason}
}

// Ruleset controls the side effects of applying actions. A queue copies it
// at creation so a run sees one immutable snapshot.
type Ruleset struct {
	EntityBlacklist   []string
	BlockBlacklist    []string
	Overwrite         bool
	DrainLava         bool
	DrainLavaRadius   int
	RemoveDrops       bool
	RemoveDropsRadius int
	RequireMatch      bool
}

// Clone returns a deep copy.
func (r Ruleset) Clone() Ruleset {
	r.EntityBlacklist = slices.Clone(r.EntityBlacklist)
	r.BlockBlacklist = slices.Clone(r.BlockBlacklist)

	return r
}

// EntityBlacklisted reports whether an entity type must not be touched.
func (r *Ruleset) EntityBlacklisted(entityType string) bool {
	return r != nil && slices.Contains(r.EntityBlacklist, entityType)
}

// BlockBlacklisted reports whether a material must not be placed.
func (r *Ruleset) BlockBlacklisted(material string) bool {
	return r != nil && slices.Contains(r.BlockBlacklist, material)
}
