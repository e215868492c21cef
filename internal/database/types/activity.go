package types

import "github.com/uptrace/bun"

// Activity is one recorded world change. Lookup values are stored by ID.
type Activity struct {
	bun.BaseModel `bun:"table:activities,alias:a"`

	ActivityID           int64   `bun:"activity_id,pk,autoincrement"`
	Timestamp            int64   `bun:"timestamp,notnull"`
	WorldID              int64   `bun:"world_id,notnull"`
	X                    float64 `bun:"x,notnull"`
	Y                    float64 `bun:"y,notnull"`
	Z                    float64 `bun:"z,notnull"`
	ActionID             int64   `bun:"action_id,notnull"`
	AffectedItemID       *int64  `bun:"affected_item_id"`
	AffectedItemQuantity *int    `bun:"affected_item_quantity"`
	AffectedBlockID      *int64  `bun:"affected_block_id"`
	ReplacedBlockID      *int64  `bun:"replaced_block_id"`
	AffectedEntityTypeID *int64  `bun:"affected_entity_type_id"`
	AffectedPlayerID     *int64  `bun:"affected_player_id"`
	CauseID              *int64  `bun:"cause_id"`
	CausePlayerID        *int64  `bun:"cause_player_id"`
	CauseEntityTypeID    *int64  `bun:"cause_entity_type_id"`
	CauseBlockID         *int64  `bun:"cause_block_id"`
	Descriptor           string  `bun:"descriptor,nullzero"`
	Metadata             string  `bun:"metadata,nullzero"`
	SerializerVersion    int     `bun:"serializer_version,notnull,default:0"`
	SerializedData       string  `bun:"serialized_data,nullzero"`
	Reversed             bool    `bun:"reversed,notnull,default:false"`
}

// GroupedActivity is one aggregate row of a grouped lookup.
type GroupedActivity struct {
	ActionID             int64   `bun:"action_id"`
	WorldID              int64   `bun:"world_id"`
	AffectedItemID       *int64  `bun:"affected_item_id"`
	AffectedItemQuantity *int    `bun:"affected_item_quantity"`
	AffectedBlockID      *int64  `bun:"affected_block_id"`
	ReplacedBlockID      *int64  `bun:"replaced_block_id"`
	AffectedEntityTypeID *int64  `bun:"affected_entity_type_id"`
	AffectedPlayerID     *int64  `bun:"affected_player_id"`
	CauseID              *int64  `bun:"cause_id"`
	CausePlayerID        *int64  `bun:"cause_player_id"`
	CauseEntityTypeID    *int64  `bun:"cause_entity_type_id"`
	CauseBlockID         *int64  `bun:"cause_block_id"`
	Descriptor           *string `bun:"descriptor"`
	Reversed             bool    `bun:"reversed"`
	Count                int     `bun:"count"`
	Timestamp            int64   `bun:"timestamp"`
	X                    float64 `bun:"x"`
	Y                    float64 `bun:"y"`
	Z                    float64 `bun:"z"`
}
