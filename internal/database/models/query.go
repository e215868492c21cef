package models

import (
	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/uptrace/bun"
)

// join is a lookup table joined onto activities.
type join struct {
	table string
	alias string
	on    string
}

// condition is one ANDed predicate.
type condition struct {
	query string
	args  []any
}

// queryPlan is the join and condition set derived from a query.
// Joins are only present for filters that need them.
type queryPlan struct {
	joins      []join
	conditions []condition
}

func (p *queryPlan) join(table, alias, on string) {
	for _, j := range p.joins {
		if j.alias == alias {
			return
		}
	}

	p.joins = append(p.joins, join{table: table, alias: alias, on: on})
}

func (p *queryPlan) where(query string, args ...any) {
	p.conditions = append(p.conditions, condition{query: query, args: args})
}

// hasJoin reports whether a lookup alias is joined.
func (p *queryPlan) hasJoin(alias string) bool {
	for _, j := range p.joins {
		if j.alias == alias {
			return true
		}
	}

	return false
}

// buildPlan turns a query into joins and conditions.
func (r *ActivityModel) buildPlan(q *activity.Query) *queryPlan {
	p := &queryPlan{}

	// Families expand to their member keys so one IN list covers both
	if len(q.ActionTypeKeys) > 0 || len(q.ActionFamilies) > 0 {
		keys := append([]string(nil), q.ActionTypeKeys...)
		for _, family := range q.ActionFamilies {
			keys = append(keys, r.registry.KeysForFamily(family)...)
		}

		p.join("actions", "actions", "actions.action_id = a.action_id")

		if len(keys) == 0 {
			p.where("1 = 0")
		} else {
			p.where("actions.action IN (?)", bun.In(keys))
		}
	}

	if len(q.ActivityIDs) > 0 {
		p.where("a.activity_id IN (?)", bun.In(q.ActivityIDs))
	}

	if q.After > 0 {
		p.where("a.timestamp >= ?", q.After)
	}

	if q.Before > 0 {
		p.where("a.timestamp <= ?", q.Before)
	}

	if len(q.AffectedBlocks) > 0 {
		p.join("blocks", "affected_blocks", "affected_blocks.block_id = a.affected_block_id")
		p.where("affected_blocks.material IN (?)", bun.In(q.AffectedBlocks))
	}

	if len(q.CauseBlocks) > 0 {
		p.join("blocks", "cause_blocks", "cause_blocks.block_id = a.cause_block_id")
		p.where("cause_blocks.material IN (?)", bun.In(q.CauseBlocks))
	}

	if len(q.AffectedEntityTypes) > 0 {
		p.join("entity_types", "affected_entity_types", "affected_entity_types.entity_type_id = a.affected_entity_type_id")
		p.where("affected_entity_types.entity_type IN (?)", bun.In(q.AffectedEntityTypes))
	}

	if len(q.CauseEntityTypes) > 0 {
		p.join("entity_types", "cause_entity_types", "cause_entity_types.entity_type_id = a.cause_entity_type_id")
		p.where("cause_entity_types.entity_type IN (?)", bun.In(q.CauseEntityTypes))
	}

	if len(q.CausePlayerNames) > 0 {
		p.join("players", "cause_players", "cause_players.player_id = a.cause_player_id")
		p.where("cause_players.player IN (?)", bun.In(q.CausePlayerNames))
	}

	if len(q.AffectedPlayerNames) > 0 {
		p.join("players", "affected_players", "affected_players.player_id = a.affected_player_id")
		p.where("affected_players.player IN (?)", bun.In(q.AffectedPlayerNames))
	}

	// Materials match items and blocks alike, so ID subqueries avoid an OR across joins
	if len(q.AffectedMaterials) > 0 {
		materials := bun.In(q.AffectedMaterials)
		p.where("(a.affected_item_id IN (SELECT item_id FROM items WHERE material IN (?)) "+
			"OR a.affected_block_id IN (SELECT block_id FROM blocks WHERE material IN (?)))",
			materials, materials)
	}

	if q.NamedCause != "" {
		p.join("causes", "causes", "causes.cause_id = a.cause_id")
		p.where("causes.cause = ?", FoldCause(q.NamedCause))
	}

	if q.Text != "" {
		p.where("a.descriptor LIKE ?", "%"+q.Text+"%")
	}

	if q.WorldID != uuid.Nil {
		p.join("worlds", "worlds", "worlds.world_id = a.world_id")
		p.where("worlds.world_uuid = ?", q.WorldID.String())
	}

	switch {
	case q.Coordinate != nil:
		c := q.Coordinate.Block()
		p.where("a.x >= ? AND a.x < ?", c.X, c.X+1)
		p.where("a.y >= ? AND a.y < ?", c.Y, c.Y+1)
		p.where("a.z >= ? AND a.z < ?", c.Z, c.Z+1)
	case q.Min != nil && q.Max != nil:
		minV, maxV := q.Min.Block(), q.Max.Block()
		p.where("a.x >= ? AND a.x < ?", minV.X, maxV.X+1)
		p.where("a.y >= ? AND a.y < ?", minV.Y, maxV.Y+1)
		p.where("a.z >= ? AND a.z < ?", minV.Z, maxV.Z+1)
	}

	if q.Reversed != nil {
		p.where("a.reversed = ?", *q.Reversed)
	}

	return p
}

// applySelect adds the plan to a select over activities aliased as a.
func (p *queryPlan) applySelect(sel *bun.SelectQuery) *bun.SelectQuery {
	for _, j := range p.joins {
		sel = sel.Join("JOIN ? AS ?", bun.Ident(j.table), bun.Ident(j.alias)).JoinOn(j.on)
	}

	for _, c := range p.conditions {
		sel = sel.Where(c.query, c.args...)
	}

	return sel
}

// applyDeleteUsing adds the plan to a delete as USING tables with their join
// conditions moved into WHERE.
func (p *queryPlan) applyDeleteUsing(del *bun.DeleteQuery) *bun.DeleteQuery {
	for _, j := range p.joins {
		del = del.TableExpr("? AS ?", bun.Ident(j.table), bun.Ident(j.alias)).Where(j.on)
	}

	for _, c := range p.conditions {
		del = del.Where(c.query, c.args...)
	}

	return del
}

// applyOrder sorts by timestamp with the primary key as tiebreaker.
func applyOrder(sel *bun.SelectQuery, q *activity.Query) *bun.SelectQuery {
	if q.Sort == activity.Ascending {
		return sel.OrderExpr("a.timestamp ASC, a.activity_id ASC")
	}

	return sel.OrderExpr("a.timestamp DESC, a.activity_id DESC")
}

// applyPage applies limit and offset. An offset only applies together with a limit.
func applyPage(sel *bun.SelectQuery, q *activity.Query) *bun.SelectQuery {
	if q.Limit <= 0 {
		return sel
	}

	sel = sel.Limit(q.Limit)
	if q.Offset > 0 {
		sel = sel.Offset(q.Offset)
	}

	return sel
}
