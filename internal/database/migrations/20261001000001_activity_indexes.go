package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

func init() {
	indexes := []struct {
		name    string
		columns string
	}{
		{"idx_activities_timestamp", `"timestamp", activity_id`},
		{"idx_activities_location", "world_id, x, z, y"},
		{"idx_activities_action", `action_id, "timestamp"`},
		{"idx_activities_cause_player", `cause_player_id, "timestamp"`},
		{"idx_activities_affected_block", "affected_block_id"},
		{"idx_activities_affected_item", "affected_item_id"},
		{"idx_activities_cause", "cause_id"},
		{"idx_activities_reversed", "reversed, activity_id"},
	}

	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		// One statement per index keeps the embedded engine happy
		for _, idx := range indexes {
			query := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON activities (%s)", idx.name, idx.columns)
			if _, err := db.NewRaw(query).Exec(ctx); err != nil {
				return fmt.Errorf("failed to create index %s: %w", idx.name, err)
			}
		}

		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		for _, idx := range indexes {
			if _, err := db.NewRaw("DROP INDEX IF EXISTS " + idx.name).Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop index %s: %w", idx.name, err)
			}
		}

		return nil
	})
}
