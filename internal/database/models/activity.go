package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/database/dbretry"
	"github.com/robalyx/rewind/internal/database/types"
	"github.com/robalyx/rewind/internal/world"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"go.uber.org/zap"
)

// ErrUnknownLookup is returned when a stored row references a lookup value that cannot be loaded.
var ErrUnknownLookup = errors.New("unknown lookup value")

// markBatchSize limits the IN list of a single reversed-flag update.
const markBatchSize = 500

// groupColumns are the columns a grouped lookup aggregates over.
const groupColumns = "a.action_id, a.world_id, a.affected_item_id, a.affected_block_id, a.replaced_block_id, " +
	"a.affected_entity_type_id, a.affected_player_id, a.cause_id, a.cause_player_id, " +
	"a.cause_entity_type_id, a.cause_block_id, a.descriptor, a.reversed"

// ActivityModel handles database operations for recorded activities.
type ActivityModel struct {
	db       *bun.DB
	lookup   *LookupModel
	registry *action.Registry
	logger   *zap.Logger
}

// NewActivity creates an activity model backed by the given lookup cache.
func NewActivity(db *bun.DB, lookup *LookupModel, registry *action.Registry, logger *zap.Logger) *ActivityModel {
	return &ActivityModel{
		db:       db,
		lookup:   lookup,
		registry: registry,
		logger:   logger.Named("db_activity"),
	}
}

// InsertActivities writes a batch in one transaction and assigns the generated IDs.
func (r *ActivityModel) InsertActivities(ctx context.Context, activities []*activity.Activity) error {
	if len(activities) == 0 {
		return nil
	}

	// Lookups are resolved outside the transaction so a single-connection
	// engine never waits on itself
	rows := make([]*types.Activity, 0, len(activities))
	for _, act := range activities {
		row, err := r.toRow(ctx, act)
		if err != nil {
			return err
		}

		rows = append(rows, row)
	}

	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&rows).Returning("activity_id").Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert activities: %w", err)
	}

	for i, row := range rows {
		activities[i].ID = row.ActivityID
	}

	r.logger.Debug("Inserted activities", zap.Int("count", len(rows)))

	return nil
}

// QueryActivities returns raw activities matching the query.
func (r *ActivityModel) QueryActivities(ctx context.Context, q *activity.Query) ([]*activity.Activity, error) {
	var rows []types.Activity

	plan := r.buildPlan(q)

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		rows = rows[:0]

		sel := plan.applySelect(r.db.NewSelect().Model(&rows))
		sel = applyPage(applyOrder(sel, q), q)

		return sel.Scan(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query activities: %w", err)
	}

	return r.hydrate(ctx, rows)
}

// QueryGrouped returns aggregated activities for display, newest group first
// unless the query sorts ascending.
func (r *ActivityModel) QueryGrouped(ctx context.Context, q *activity.Query) ([]*activity.Grouped, error) {
	var rows []types.GroupedActivity

	err := dbretry.NoResult(ctx, func(ctx context.Context) error {
		rows = rows[:0]
		return r.groupedQuery(q).Scan(ctx, &rows)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query grouped activities: %w", err)
	}

	flat := make([]types.Activity, len(rows))
	for i, row := range rows {
		flat[i] = types.Activity{
			Timestamp:            row.Timestamp,
			WorldID:              row.WorldID,
			X:                    row.X,
			Y:                    row.Y,
			Z:                    row.Z,
			ActionID:             row.ActionID,
			AffectedItemID:       row.AffectedItemID,
			AffectedItemQuantity: row.AffectedItemQuantity,
			AffectedBlockID:      row.AffectedBlockID,
			ReplacedBlockID:      row.ReplacedBlockID,
			AffectedEntityTypeID: row.AffectedEntityTypeID,
			AffectedPlayerID:     row.AffectedPlayerID,
			CauseID:              row.CauseID,
			CausePlayerID:        row.CausePlayerID,
			CauseEntityTypeID:    row.CauseEntityTypeID,
			CauseBlockID:         row.CauseBlockID,
			Reversed:             row.Reversed,
		}
		if row.Descriptor != nil {
			flat[i].Descriptor = *row.Descriptor
		}
	}

	if err := r.lookup.Load(ctx, collectLookupIDs(flat)); err != nil {
		return nil, err
	}

	grouped := make([]*activity.Grouped, 0, len(rows))
	for i := range flat {
		act, err := r.toActivity(&flat[i])
		if err != nil {
			r.logger.Warn("Skipping undecodable activity group", zap.Error(err))
			continue
		}

		grouped = append(grouped, &activity.Grouped{Activity: act, Count: rows[i].Count})
	}

	return grouped, nil
}

func (r *ActivityModel) groupedQuery(q *activity.Query) *bun.SelectQuery {
	sel := r.db.NewSelect().
		Model((*types.Activity)(nil)).
		ColumnExpr(groupColumns).
		ColumnExpr("COUNT(*) AS count").
		ColumnExpr("MAX(a.timestamp) AS timestamp").
		ColumnExpr("AVG(a.x) AS x, AVG(a.y) AS y, AVG(a.z) AS z").
		ColumnExpr("SUM(a.affected_item_quantity) AS affected_item_quantity")

	sel = r.buildPlan(q).applySelect(sel).GroupExpr(groupColumns)

	if q.Sort == activity.Ascending {
		sel = sel.OrderExpr("MAX(a.timestamp) ASC")
	} else {
		sel = sel.OrderExpr("MAX(a.timestamp) DESC")
	}

	return applyPage(sel, q)
}

// CountActivities returns the number of raw activities matching the query.
func (r *ActivityModel) CountActivities(ctx context.Context, q *activity.Query) (int, error) {
	plan := r.buildPlan(q)

	count, err := dbretry.Operation(ctx, func(ctx context.Context) (int, error) {
		return plan.applySelect(r.db.NewSelect().Model((*types.Activity)(nil))).Count(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count activities: %w", err)
	}

	return count, nil
}

// DeleteActivities deletes activities matching the query whose primary key lies in [minPK, maxPK].
func (r *ActivityModel) DeleteActivities(ctx context.Context, q *activity.Query, minPK, maxPK int64) (int64, error) {
	del := r.deleteQuery(q, minPK, maxPK)

	result, err := dbretry.Operation(ctx, func(ctx context.Context) (sql.Result, error) {
		return del.Exec(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete activities: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read deleted count: %w", err)
	}

	r.logger.Debug("Deleted activities",
		zap.Int64("deleted", deleted),
		zap.Int64("minPK", minPK),
		zap.Int64("maxPK", maxPK))

	return deleted, nil
}

// deleteQuery builds the dialect specific delete. PostgreSQL deletes through
// USING tables; SQLite deletes by primary keys selected with the same joins.
func (r *ActivityModel) deleteQuery(q *activity.Query, minPK, maxPK int64) *bun.DeleteQuery {
	plan := r.buildPlan(q)

	if r.db.Dialect().Name() == dialect.SQLite {
		sub := plan.applySelect(r.db.NewSelect().Model((*types.Activity)(nil)).ColumnExpr("a.activity_id")).
			Where("a.activity_id BETWEEN ? AND ?", minPK, maxPK)

		return r.db.NewDelete().TableExpr("activities").Where("activity_id IN (?)", sub)
	}

	return plan.applyDeleteUsing(r.db.NewDelete().Model((*types.Activity)(nil))).
		Where("a.activity_id BETWEEN ? AND ?", minPK, maxPK)
}

// MarkReversed sets the reversed flag for the given activities in one transaction.
func (r *ActivityModel) MarkReversed(ctx context.Context, ids []int64, reversed bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var updated int64

	err := dbretry.Transaction(ctx, r.db, func(ctx context.Context, tx bun.Tx) error {
		updated = 0

		for start := 0; start < len(ids); start += markBatchSize {
			end := min(start+markBatchSize, len(ids))

			result, err := tx.NewUpdate().
				Model((*types.Activity)(nil)).
				Set("reversed = ?", reversed).
				Where("activity_id IN (?)", bun.In(ids[start:end])).
				Exec(ctx)
			if err != nil {
				return err
			}

			affected, err := result.RowsAffected()
			if err != nil {
				return err
			}

			updated += affected
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark activities reversed: %w", err)
	}

	r.logger.Debug("Marked activities",
		zap.Int64("updated", updated),
		zap.Bool("reversed", reversed))

	return updated, nil
}

// MaxPrimaryKey returns the highest activity ID, or 0 when the table is empty.
func (r *ActivityModel) MaxPrimaryKey(ctx context.Context) (int64, error) {
	maxPK, err := dbretry.Operation(ctx, func(ctx context.Context) (int64, error) {
		var maxPK int64

		err := r.db.NewSelect().
			Model((*types.Activity)(nil)).
			ColumnExpr("COALESCE(MAX(a.activity_id), 0)").
			Scan(ctx, &maxPK)

		return maxPK, err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get max primary key: %w", err)
	}

	return maxPK, nil
}

// toRow flattens an activity into its stored form, resolving every lookup value.
func (r *ActivityModel) toRow(ctx context.Context, act *activity.Activity) (*types.Activity, error) {
	data, err := act.Action.Data()
	if err != nil {
		return nil, err
	}

	metadata, err := data.Metadata.Encode()
	if err != nil {
		return nil, err
	}

	row := &types.Activity{
		Timestamp:         act.Timestamp,
		X:                 act.Location.X,
		Y:                 act.Location.Y,
		Z:                 act.Location.Z,
		Descriptor:        data.Descriptor,
		Metadata:          metadata,
		SerializerVersion: data.CustomDataVersion,
		SerializedData:    data.CustomData,
		Reversed:          act.Reversed,
	}

	if row.ActionID, err = r.lookup.ActionID(ctx, data.Key); err != nil {
		return nil, err
	}

	if row.WorldID, err = r.lookup.WorldID(ctx, act.Location.WorldID, act.Location.WorldName); err != nil {
		return nil, err
	}

	if data.Block.Material != "" {
		if row.AffectedBlockID, err = ptrID(r.lookup.BlockID(ctx, data.Block)); err != nil {
			return nil, err
		}
	}

	if data.Replaced.Material != "" {
		if row.ReplacedBlockID, err = ptrID(r.lookup.BlockID(ctx, data.Replaced)); err != nil {
			return nil, err
		}
	}

	if data.Item.Material != "" {
		if row.AffectedItemID, err = ptrID(r.lookup.ItemID(ctx, data.Item)); err != nil {
			return nil, err
		}

		quantity := data.Item.Quantity
		row.AffectedItemQuantity = &quantity
	}

	if data.EntityType != "" {
		if row.AffectedEntityTypeID, err = ptrID(r.lookup.EntityTypeID(ctx, data.EntityType)); err != nil {
			return nil, err
		}
	}

	if p := act.AffectedPlayer; p != nil {
		if row.AffectedPlayerID, err = ptrID(r.lookup.PlayerID(ctx, p.ID, p.Name)); err != nil {
			return nil, err
		}
	}

	cause := act.Cause
	switch {
	case cause.Player != nil:
		row.CausePlayerID, err = ptrID(r.lookup.PlayerID(ctx, cause.Player.ID, cause.Player.Name))
	case cause.Name != "":
		row.CauseID, err = ptrID(r.lookup.CauseID(ctx, cause.Name))
	case cause.Block != "":
		row.CauseBlockID, err = ptrID(r.lookup.BlockID(ctx, world.BlockState{Material: cause.Block}))
	case cause.EntityType != "":
		row.CauseEntityTypeID, err = ptrID(r.lookup.EntityTypeID(ctx, cause.EntityType))
	}

	if err != nil {
		return nil, err
	}

	return row, nil
}

// hydrate loads the lookup values of rows and rebuilds their activities.
// Rows that cannot be decoded are logged and left out.
func (r *ActivityModel) hydrate(ctx context.Context, rows []types.Activity) ([]*activity.Activity, error) {
	if err := r.lookup.Load(ctx, collectLookupIDs(rows)); err != nil {
		return nil, err
	}

	activities := make([]*activity.Activity, 0, len(rows))
	for i := range rows {
		act, err := r.toActivity(&rows[i])
		if err != nil {
			r.logger.Warn("Skipping undecodable activity",
				zap.Error(err),
				zap.Int64("activityID", rows[i].ActivityID))

			continue
		}

		activities = append(activities, act)
	}

	return activities, nil
}

// toActivity rebuilds an activity from a row whose lookups are already loaded.
func (r *ActivityModel) toActivity(row *types.Activity) (*activity.Activity, error) {
	key, ok := r.lookup.Action(row.ActionID)
	if !ok {
		return nil, fmt.Errorf("%w: action %d", ErrUnknownLookup, row.ActionID)
	}

	worldRef, ok := r.lookup.World(row.WorldID)
	if !ok {
		return nil, fmt.Errorf("%w: world %d", ErrUnknownLookup, row.WorldID)
	}

	metadata, err := action.DecodeMetadata(row.Metadata)
	if err != nil {
		return nil, err
	}

	item := r.lookup.Item(row.AffectedItemID)
	if row.AffectedItemQuantity != nil {
		item.Quantity = *row.AffectedItemQuantity
	}

	act, err := r.registry.Decode(action.Data{
		Key:               key,
		Descriptor:        row.Descriptor,
		Metadata:          metadata,
		Block:             r.lookup.Block(row.AffectedBlockID),
		Replaced:          r.lookup.Block(row.ReplacedBlockID),
		Item:              item,
		EntityType:        r.lookup.EntityType(row.AffectedEntityTypeID),
		CustomData:        row.SerializedData,
		CustomDataVersion: row.SerializerVersion,
	})
	if err != nil {
		return nil, err
	}

	result := &activity.Activity{
		ID:        row.ActivityID,
		Timestamp: row.Timestamp,
		Location:  world.NewLocation(worldRef.ID, worldRef.Name, row.X, row.Y, row.Z),
		Cause:     r.causeOf(row),
		Action:    act,
		Reversed:  row.Reversed,
	}

	if ref, ok := r.lookup.Player(row.AffectedPlayerID); ok {
		result.AffectedPlayer = &activity.Player{ID: ref.ID, Name: ref.Name}
	}

	return result, nil
}

// causeOf picks the cause column that is set, in player, name, block, entity order.
func (r *ActivityModel) causeOf(row *types.Activity) activity.Cause {
	if ref, ok := r.lookup.Player(row.CausePlayerID); ok {
		return activity.PlayerCause(ref.ID, ref.Name)
	}

	if name := r.lookup.Cause(row.CauseID); name != "" {
		return activity.NamedCause(name)
	}

	if block := r.lookup.Block(row.CauseBlockID); block.Material != "" {
		return activity.BlockCause(block.Material)
	}

	return activity.EntityCause(r.lookup.EntityType(row.CauseEntityTypeID))
}

// collectLookupIDs gathers every lookup ID referenced by rows.
func collectLookupIDs(rows []types.Activity) *LookupIDs {
	ids := NewLookupIDs()
	for i := range rows {
		row := &rows[i]
		ids.Actions[row.ActionID] = struct{}{}
		ids.Worlds[row.WorldID] = struct{}{}
		addID(ids.Items, row.AffectedItemID)
		addID(ids.Blocks, row.AffectedBlockID)
		addID(ids.Blocks, row.ReplacedBlockID)
		addID(ids.Blocks, row.CauseBlockID)
		addID(ids.EntityTypes, row.AffectedEntityTypeID)
		addID(ids.EntityTypes, row.CauseEntityTypeID)
		addID(ids.Players, row.AffectedPlayerID)
		addID(ids.Players, row.CausePlayerID)
		addID(ids.Causes, row.CauseID)
	}

	return ids
}

func ptrID(id int64, err error) (*int64, error) {
	if err != nil {
		return nil, err
	}

	return &id, nil
}
