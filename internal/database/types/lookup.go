package types

import "github.com/uptrace/bun"

// Action is a registered action key.
type Action struct {
	bun.BaseModel `bun:"table:actions,alias:actions"`

	ActionID int64  `bun:"action_id,pk,autoincrement"`
	Action   string `bun:"action,notnull,unique"`
}

// Block is a distinct block material and state.
type Block struct {
	bun.BaseModel `bun:"table:blocks,alias:blocks"`

	BlockID  int64  `bun:"block_id,pk,autoincrement"`
	Material string `bun:"material,notnull,unique:blocks_material_data"`
	Data     string `bun:"data,notnull,unique:blocks_material_data"`
}

// Item is a distinct item material and data.
type Item struct {
	bun.BaseModel `bun:"table:items,alias:items"`

	ItemID   int64  `bun:"item_id,pk,autoincrement"`
	Material string `bun:"material,notnull,unique:items_material_data"`
	Data     string `bun:"data,notnull,unique:items_material_data"`
}

// EntityType is a distinct entity type key.
type EntityType struct {
	bun.BaseModel `bun:"table:entity_types,alias:entity_types"`

	EntityTypeID int64  `bun:"entity_type_id,pk,autoincrement"`
	EntityType   string `bun:"entity_type,notnull,unique"`
}

// Player is a player UUID with its last known name.
type Player struct {
	bun.BaseModel `bun:"table:players,alias:players"`

	PlayerID   int64  `bun:"player_id,pk,autoincrement"`
	PlayerUUID string `bun:"player_uuid,notnull,unique"`
	Player     string `bun:"player,notnull"`
}

// Cause is a named non-player cause such as "lava".
type Cause struct {
	bun.BaseModel `bun:"table:causes,alias:causes"`

	CauseID int64  `bun:"cause_id,pk,autoincrement"`
	Cause   string `bun:"cause,notnull,unique"`
}

// World is a world UUID with its last known name.
type World struct {
	bun.BaseModel `bun:"table:worlds,alias:worlds"`

	WorldID   int64  `bun:"world_id,pk,autoincrement"`
	WorldUUID string `bun:"world_uuid,notnull,unique"`
	World     string `bun:"world,notnull"`
}
