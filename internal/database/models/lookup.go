package models

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/database/dbretry"
	"github.com/robalyx/rewind/internal/database/types"
	"github.com/robalyx/rewind/internal/world"
	"github.com/sourcegraph/conc/pool"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/text/cases"
)

// Lookup table names used as cache namespaces.
const (
	tableActions     = "actions"
	tableBlocks      = "blocks"
	tableItems       = "items"
	tableEntityTypes = "entity_types"
	tablePlayers     = "players"
	tableCauses      = "causes"
	tableWorlds      = "worlds"
)

// NamedRef is a UUID with its display name.
type NamedRef struct {
	ID   uuid.UUID
	Name string
}

// LookupIDs collects lookup IDs that need resolving into values.
type LookupIDs struct {
	Actions     map[int64]struct{}
	Blocks      map[int64]struct{}
	Items       map[int64]struct{}
	EntityTypes map[int64]struct{}
	Players     map[int64]struct{}
	Causes      map[int64]struct{}
	Worlds      map[int64]struct{}
}

// NewLookupIDs creates an empty collector.
func NewLookupIDs() *LookupIDs {
	return &LookupIDs{
		Actions:     make(map[int64]struct{}),
		Blocks:      make(map[int64]struct{}),
		Items:       make(map[int64]struct{}),
		EntityTypes: make(map[int64]struct{}),
		Players:     make(map[int64]struct{}),
		Causes:      make(map[int64]struct{}),
		Worlds:      make(map[int64]struct{}),
	}
}

func addID(set map[int64]struct{}, id *int64) {
	if id != nil {
		set[*id] = struct{}{}
	}
}

// LookupModel resolves lookup values to IDs and back, caching both directions.
// Lookup rows are never deleted, so cached entries never go stale.
type LookupModel struct {
	db     bun.IDB
	logger *zap.Logger
	group  singleflight.Group
	mu     sync.RWMutex
	ids    map[string]int64
	values map[string]map[int64]any
}

// NewLookup creates a lookup model.
func NewLookup(db bun.IDB, logger *zap.Logger) *LookupModel {
	values := make(map[string]map[int64]any)
	for _, table := range []string{
		tableActions, tableBlocks, tableItems, tableEntityTypes, tablePlayers, tableCauses, tableWorlds,
	} {
		values[table] = make(map[int64]any)
	}

	return &LookupModel{
		db:     db,
		logger: logger.Named("db_lookup"),
		ids:    make(map[string]int64),
		values: values,
	}
}

func cacheKey(table string, parts ...string) string {
	key := table
	for _, part := range parts {
		key += "\x00" + part
	}

	return key
}

func (m *LookupModel) cached(key string) (int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.ids[key]

	return id, ok
}

func (m *LookupModel) remember(table, key string, id int64, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ids[key] = id
	m.values[table][id] = value
}

func (m *LookupModel) value(table string, id int64) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[table][id]

	return v, ok
}

// resolve inserts a lookup row when missing and returns its ID.
// Concurrent callers for the same key share one round trip.
func (m *LookupModel) resolve(
	ctx context.Context, table, key string, value any, insert func(ctx context.Context) (int64, error),
) (int64, error) {
	if id, ok := m.cached(key); ok {
		return id, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		id, err := dbretry.Operation(ctx, insert)
		if err != nil {
			return int64(0), fmt.Errorf("failed to resolve %s lookup: %w", table, err)
		}

		m.remember(table, key, id, value)

		return id, nil
	})
	if err != nil {
		return 0, err
	}

	return v.(int64), nil
}

// ActionID returns the ID of an action key.
func (m *LookupModel) ActionID(ctx context.Context, key string) (int64, error) {
	return m.resolve(ctx, tableActions, cacheKey(tableActions, key), key, func(ctx context.Context) (int64, error) {
		row := &types.Action{Action: key}
		if _, err := m.db.NewInsert().Model(row).On("CONFLICT (action) DO NOTHING").Returning("NULL").Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("action_id").Where("action = ?", key).Scan(ctx)

		return row.ActionID, err
	})
}

// BlockID returns the ID of a block state.
func (m *LookupModel) BlockID(ctx context.Context, state world.BlockState) (int64, error) {
	key := cacheKey(tableBlocks, state.Material, state.Data)

	return m.resolve(ctx, tableBlocks, key, state, func(ctx context.Context) (int64, error) {
		row := &types.Block{Material: state.Material, Data: state.Data}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (material, data) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("block_id").
			Where("material = ?", state.Material).
			Where("data = ?", state.Data).
			Scan(ctx)

		return row.BlockID, err
	})
}

// ItemID returns the ID of an item material and data.
func (m *LookupModel) ItemID(ctx context.Context, stack world.ItemStack) (int64, error) {
	key := cacheKey(tableItems, stack.Material, stack.Data)
	value := world.ItemStack{Material: stack.Material, Data: stack.Data}

	return m.resolve(ctx, tableItems, key, value, func(ctx context.Context) (int64, error) {
		row := &types.Item{Material: stack.Material, Data: stack.Data}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (material, data) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("item_id").
			Where("material = ?", stack.Material).
			Where("data = ?", stack.Data).
			Scan(ctx)

		return row.ItemID, err
	})
}

// EntityTypeID returns the ID of an entity type.
func (m *LookupModel) EntityTypeID(ctx context.Context, entityType string) (int64, error) {
	key := cacheKey(tableEntityTypes, entityType)

	return m.resolve(ctx, tableEntityTypes, key, entityType, func(ctx context.Context) (int64, error) {
		row := &types.EntityType{EntityType: entityType}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (entity_type) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("entity_type_id").Where("entity_type = ?", entityType).Scan(ctx)

		return row.EntityTypeID, err
	})
}

// PlayerID returns the ID of a player, updating the stored name when it changed.
func (m *LookupModel) PlayerID(ctx context.Context, id uuid.UUID, name string) (int64, error) {
	key := cacheKey(tablePlayers, id.String(), name)
	ref := NamedRef{ID: id, Name: name}

	return m.resolve(ctx, tablePlayers, key, ref, func(ctx context.Context) (int64, error) {
		row := &types.Player{PlayerUUID: id.String(), Player: name}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (player_uuid) DO UPDATE").
			Set("player = EXCLUDED.player").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("player_id").Where("player_uuid = ?", id.String()).Scan(ctx)

		return row.PlayerID, err
	})
}

// FoldCause normalises a named cause the way lookups compare it.
func FoldCause(cause string) string {
	return cases.Fold().String(strings.TrimSpace(cause))
}

// CauseID returns the ID of a named cause. Causes are stored case-folded.
func (m *LookupModel) CauseID(ctx context.Context, cause string) (int64, error) {
	cause = FoldCause(cause)
	key := cacheKey(tableCauses, cause)

	return m.resolve(ctx, tableCauses, key, cause, func(ctx context.Context) (int64, error) {
		row := &types.Cause{Cause: cause}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (cause) DO NOTHING").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("cause_id").Where("cause = ?", cause).Scan(ctx)

		return row.CauseID, err
	})
}

// WorldID returns the ID of a world, updating the stored name when it changed.
func (m *LookupModel) WorldID(ctx context.Context, id uuid.UUID, name string) (int64, error) {
	key := cacheKey(tableWorlds, id.String(), name)
	ref := NamedRef{ID: id, Name: name}

	return m.resolve(ctx, tableWorlds, key, ref, func(ctx context.Context) (int64, error) {
		row := &types.World{WorldUUID: id.String(), World: name}
		if _, err := m.db.NewInsert().Model(row).
			On("CONFLICT (world_uuid) DO UPDATE").
			Set("world = EXCLUDED.world").
			Returning("NULL").
			Exec(ctx); err != nil {
			return 0, err
		}

		err := m.db.NewSelect().Model(row).Column("world_id").Where("world_uuid = ?", id.String()).Scan(ctx)

		return row.WorldID, err
	})
}

// Load fetches every uncached value in ids, one query per lookup table in parallel.
func (m *LookupModel) Load(ctx context.Context, ids *LookupIDs) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()

	if missing := m.missing(tableActions, ids.Actions); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.Action
			if err := m.fetch(ctx, &rows, "action_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				m.remember(tableActions, cacheKey(tableActions, row.Action), row.ActionID, row.Action)
			}

			return nil
		})
	}

	if missing := m.missing(tableBlocks, ids.Blocks); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.Block
			if err := m.fetch(ctx, &rows, "block_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				state := world.BlockState{Material: row.Material, Data: row.Data}
				m.remember(tableBlocks, cacheKey(tableBlocks, row.Material, row.Data), row.BlockID, state)
			}

			return nil
		})
	}

	if missing := m.missing(tableItems, ids.Items); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.Item
			if err := m.fetch(ctx, &rows, "item_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				stack := world.ItemStack{Material: row.Material, Data: row.Data}
				m.remember(tableItems, cacheKey(tableItems, row.Material, row.Data), row.ItemID, stack)
			}

			return nil
		})
	}

	if missing := m.missing(tableEntityTypes, ids.EntityTypes); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.EntityType
			if err := m.fetch(ctx, &rows, "entity_type_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				key := cacheKey(tableEntityTypes, row.EntityType)
				m.remember(tableEntityTypes, key, row.EntityTypeID, row.EntityType)
			}

			return nil
		})
	}

	if missing := m.missing(tablePlayers, ids.Players); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.Player
			if err := m.fetch(ctx, &rows, "player_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				id, err := uuid.Parse(row.PlayerUUID)
				if err != nil {
					return fmt.Errorf("invalid player uuid %q: %w", row.PlayerUUID, err)
				}

				key := cacheKey(tablePlayers, row.PlayerUUID, row.Player)
				m.remember(tablePlayers, key, row.PlayerID, NamedRef{ID: id, Name: row.Player})
			}

			return nil
		})
	}

	if missing := m.missing(tableCauses, ids.Causes); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.Cause
			if err := m.fetch(ctx, &rows, "cause_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				m.remember(tableCauses, cacheKey(tableCauses, row.Cause), row.CauseID, row.Cause)
			}

			return nil
		})
	}

	if missing := m.missing(tableWorlds, ids.Worlds); len(missing) > 0 {
		p.Go(func(ctx context.Context) error {
			var rows []types.World
			if err := m.fetch(ctx, &rows, "world_id", missing); err != nil {
				return err
			}

			for _, row := range rows {
				id, err := uuid.Parse(row.WorldUUID)
				if err != nil {
					return fmt.Errorf("invalid world uuid %q: %w", row.WorldUUID, err)
				}

				key := cacheKey(tableWorlds, row.WorldUUID, row.World)
				m.remember(tableWorlds, key, row.WorldID, NamedRef{ID: id, Name: row.World})
			}

			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return fmt.Errorf("failed to load lookups: %w", err)
	}

	return nil
}

func (m *LookupModel) missing(table string, set map[int64]struct{}) []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var missing []int64

	for id := range set {
		if _, ok := m.values[table][id]; !ok {
			missing = append(missing, id)
		}
	}

	return missing
}

func (m *LookupModel) fetch(ctx context.Context, dest any, pk string, ids []int64) error {
	return dbretry.NoResult(ctx, func(ctx context.Context) error {
		return m.db.NewSelect().Model(dest).Where("? IN (?)", bun.Ident(pk), bun.In(ids)).Scan(ctx)
	})
}

// Action returns the key of an action ID.
func (m *LookupModel) Action(id int64) (string, bool) {
	v, ok := m.value(tableActions, id)
	if !ok {
		return "", false
	}

	return v.(string), true
}

// Block returns the state of a block ID. A nil ID yields an empty state.
func (m *LookupModel) Block(id *int64) world.BlockState {
	if id == nil {
		return world.BlockState{}
	}

	v, ok := m.value(tableBlocks, *id)
	if !ok {
		return world.BlockState{}
	}

	return v.(world.BlockState)
}

// Item returns the material and data of an item ID.
func (m *LookupModel) Item(id *int64) world.ItemStack {
	if id == nil {
		return world.ItemStack{}
	}

	v, ok := m.value(tableItems, *id)
	if !ok {
		return world.ItemStack{}
	}

	return v.(world.ItemStack)
}

// EntityType returns the key of an entity type ID.
func (m *LookupModel) EntityType(id *int64) string {
	if id == nil {
		return ""
	}

	v, ok := m.value(tableEntityTypes, *id)
	if !ok {
		return ""
	}

	return v.(string)
}

// Player returns the player behind a player ID.
func (m *LookupModel) Player(id *int64) (NamedRef, bool) {
	if id == nil {
		return NamedRef{}, false
	}

	v, ok := m.value(tablePlayers, *id)
	if !ok {
		return NamedRef{}, false
	}

	return v.(NamedRef), true
}

// Cause returns the name of a cause ID.
func (m *LookupModel) Cause(id *int64) string {
	if id == nil {
		return ""
	}

	v, ok := m.value(tableCauses, *id)
	if !ok {
		return ""
	}

	return v.(string)
}

// World returns the world behind a world ID.
func (m *LookupModel) World(id int64) (NamedRef, bool) {
	v, ok := m.value(tableWorlds, id)
	if !ok {
		return NamedRef{}, false
	}

	return v.(NamedRef), true
}
