package types

import (
	"github.com/robalyx/rewind/internal/activity"
)

// Record is one activity flattened for export.
type Record struct {
	ID         int64
	Timestamp  int64
	World      string
	X          int
	Y          int
	Z          int
	Action     string
	Cause      string
	PlayerID   string
	Descriptor string
	Material   string
	Replaced   string
	EntityType string
	Reversed   bool
}

// FromActivity flattens an activity. Actions that fail to serialize keep only the shared fields.
func FromActivity(a *activity.Activity) *Record {
	block := a.Location.Block()

	record := &Record{
		ID:        a.ID,
		Timestamp: a.Timestamp,
		World:     a.Location.WorldName,
		X:         int(block.X),
		Y:         int(block.Y),
		Z:         int(block.Z),
		Cause:     a.Cause.String(),
		Reversed:  a.Reversed,
	}

	if a.Cause.Player != nil {
		record.PlayerID = a.Cause.Player.ID.String()
	}

	if a.Action == nil {
		return record
	}

	record.Action = a.Action.Type().Key
	record.Descriptor = a.Action.Descriptor()

	if data, err := a.Action.Data(); err == nil {
		record.Material = data.Block.Material
		record.Replaced = data.Replaced.Material
		record.EntityType = data.EntityType

		if record.Material == "" {
			record.Material = data.Item.Material
		}
	}

	return record
}

// FromActivities flattens a slice of activities.
func FromActivities(activities []*activity.Activity) []*Record {
	records := make([]*Record, len(activities))
	for i, a := range activities {
		records[i] = FromActivity(a)
	}

	return records
}
