package activity

import (
	"errors"
	"math"
	"slices"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/world"
)

// ErrNoReference is returned by Radius when the query has no reference coordinate.
var ErrNoReference = errors.New("radius requires a reference coordinate")

// Sort orders results by timestamp.
type Sort string

const (
	Ascending  Sort = "ASCENDING"
	Descending Sort = "DESCENDING"
)

// Query is a sparse set of optional filters. Unset fields do not constrain results.
type Query struct {
	ActionTypeKeys      []string
	ActionFamilies      []string
	ActivityIDs         []int64
	After               int64
	Before              int64
	AffectedBlocks      []string
	CauseBlocks         []string
	AffectedEntityTypes []string
	CauseEntityTypes    []string
	AffectedPlayerNames []string
	CausePlayerNames    []string
	AffectedMaterials   []string
	NamedCause          string
	Text                string
	WorldID             uuid.UUID

	// Coordinate matches one exact block. Min and Max bound a box.
	// Reference is the origin used by Radius.
	Coordinate *world.Vector
	Min        *world.Vector
	Max        *world.Vector
	Reference  *world.Vector

	Grouped      bool
	Lookup       bool
	Limit        int
	Offset       int
	Sort         Sort
	Reversed     *bool
	DefaultsUsed []string
}

// NewLookup creates a grouped display query, newest first.
func NewLookup() *Query {
	return &Query{Lookup: true, Grouped: true, Sort: Descending}
}

// NewRollback creates a query for unreversed activities, newest first.
func NewRollback() *Query {
	return (&Query{}).Rollback()
}

// NewRestore creates a query for reversed activities, oldest first.
func NewRestore() *Query {
	return (&Query{}).Restore()
}

// NewPurge creates a raw query, oldest first.
func NewPurge() *Query {
	return &Query{Sort: Ascending}
}

// Modification reports whether the query selects raw rows for rollback, restore or purge.
func (q *Query) Modification() bool {
	return !q.Lookup && !q.Grouped
}

// Rollback converts the query to rollback shape. A caller-chosen sort is kept.
func (q *Query) Rollback() *Query {
	q.Lookup = false
	q.Grouped = false

	if q.Sort == "" {
		q.Sort = Descending
	}

	q.Reversed = boolPtr(false)

	return q
}

// Restore converts the query to restore shape. Restores always replay oldest first.
func (q *Query) Restore() *Query {
	q.Lookup = false
	q.Grouped = false
	q.Sort = Ascending
	q.Reversed = boolPtr(true)

	return q
}

// Purge converts the query to purge shape.
func (q *Query) Purge() *Query {
	q.Lookup = false
	q.Grouped = false
	q.Sort = Ascending

	return q
}

// Radius derives a box of n blocks around the reference coordinate.
func (q *Query) Radius(n int) error {
	if q.Reference == nil {
		return ErrNoReference
	}

	center := q.Reference.Block()
	r := math.Abs(float64(n))
	minV := world.Vector{X: center.X - r, Y: center.Y - r, Z: center.Z - r}
	maxV := world.Vector{X: center.X + r, Y: center.Y + r, Z: center.Z + r}
	q.BoundingCoordinates(minV, maxV)

	return nil
}

// BoundingCoordinates sets the box, ordering each axis. It clears an exact coordinate.
func (q *Query) BoundingCoordinates(a, b world.Vector) {
	minV := world.Vector{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y), Z: math.Min(a.Z, b.Z)}
	maxV := world.Vector{X: math.Max(a.X, b.X), Y: math.Max(a.Y, b.Y), Z: math.Max(a.Z, b.Z)}
	q.Min = &minV
	q.Max = &maxV
	q.Coordinate = nil
}

// AtCoordinate restricts the query to one block. It clears any box.
func (q *Query) AtCoordinate(v world.Vector) {
	block := v.Block()
	q.Coordinate = &block
	q.Min = nil
	q.Max = nil
}

// HasSpatial reports whether a coordinate or box is set.
func (q *Query) HasSpatial() bool {
	return q.Coordinate != nil || (q.Min != nil && q.Max != nil)
}

// Clone returns a deep copy.
func (q *Query) Clone() *Query {
	c := *q
	c.ActionTypeKeys = slices.Clone(q.ActionTypeKeys)
	c.ActionFamilies = slices.Clone(q.ActionFamilies)
	c.ActivityIDs = slices.Clone(q.ActivityIDs)
	c.AffectedBlocks = slices.Clone(q.AffectedBlocks)
	c.CauseBlocks = slices.Clone(q.CauseBlocks)
	c.AffectedEntityTypes = slices.Clone(q.AffectedEntityTypes)
	c.CauseEntityTypes = slices.Clone(q.CauseEntityTypes)
	c.AffectedPlayerNames = slices.Clone(q.AffectedPlayerNames)
	c.CausePlayerNames = slices.Clone(q.CausePlayerNames)
	c.AffectedMaterials = slices.Clone(q.AffectedMaterials)
	c.DefaultsUsed = slices.Clone(q.DefaultsUsed)
	c.Coordinate = clonePtr(q.Coordinate)
	c.Min = clonePtr(q.Min)
	c.Max = clonePtr(q.Max)
	c.Reference = clonePtr(q.Reference)
	c.Reversed = clonePtr(q.Reversed)

	return &c
}

func boolPtr(b bool) *bool {
	return &b
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}

	v := *p

	return &v
}
