// Package activity defines recorded world changes and the query used to find them.
package activity

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/world"
)

// ErrInvalidCause is returned when a cause names zero or several sources.
var ErrInvalidCause = errors.New("cause must name exactly one source")

// Player identifies a player by UUID and last known name.
type Player struct {
	ID   uuid.UUID
	Name string
}

// Cause describes who or what made a change. Exactly one field is set.
type Cause struct {
	Player     *Player
	Name       string
	Block      string
	EntityType string
}

// PlayerCause creates a cause for a player.
func PlayerCause(id uuid.UUID, name string) Cause {
	return Cause{Player: &Player{ID: id, Name: name}}
}

// NamedCause creates a free-text cause such as "lava" or "tnt".
func NamedCause(name string) Cause {
	return Cause{Name: name}
}

// BlockCause creates a cause for a block material.
func BlockCause(material string) Cause {
	return Cause{Block: material}
}

// EntityCause creates a cause for an entity type.
func EntityCause(entityType string) Cause {
	return Cause{EntityType: entityType}
}

// Validate checks that exactly one source is set.
func (c Cause) Validate() error {
	set := 0
	if c.Player != nil {
		set++
	}

	for _, s := range []string{c.Name, c.Block, c.EntityType} {
		if s != "" {
			set++
		}
	}

	if set != 1 {
		return ErrInvalidCause
	}

	return nil
}

// String returns a display label for the cause.
func (c Cause) String() string {
	switch {
	case c.Player != nil:
		return c.Player.Name
	case c.Name != "":
		return c.Name
	case c.Block != "":
		return c.Block
	default:
		return c.EntityType
	}
}

// Activity is one recorded change. Only Reversed changes after it is written.
type Activity struct {
	ID             int64
	Timestamp      int64
	Location       world.Location
	Cause          Cause
	Action         action.Action
	AffectedPlayer *Player
	Reversed       bool
}

// New creates an unpersisted activity stamped with the current time.
func New(a action.Action, loc world.Location, cause Cause) *Activity {
	return &Activity{
		Timestamp: time.Now().Unix(),
		Location:  loc,
		Cause:     cause,
		Action:    a,
	}
}

// Persisted reports whether storage has assigned a primary key.
func (a *Activity) Persisted() bool {
	return a.ID > 0
}

// Grouped aggregates like activities for display. It is never persisted.
type Grouped struct {
	*Activity
	Count int
}
