package migrations

import (
	"context"
	"fmt"

	"github.com/robalyx/rewind/internal/database/types"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		// Lookup tables come first so activities can reference them
		models := []any{
			(*types.Action)(nil),
			(*types.Block)(nil),
			(*types.Item)(nil),
			(*types.EntityType)(nil),
			(*types.Player)(nil),
			(*types.Cause)(nil),
			(*types.World)(nil),
			(*types.Activity)(nil),
		}

		for _, model := range models {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, table := range []string{
			"activities", "worlds", "causes", "players", "entity_types", "items", "blocks", "actions",
		} {
			if _, err := db.NewDropTable().Table(table).IfExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table %s: %w", table, err)
			}
		}

		return nil
	})
}
