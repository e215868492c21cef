// Command db manages the activity storage schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/robalyx/rewind/internal/database"
	"github.com/robalyx/rewind/internal/database/migrations"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/uptrace/bun/migrate"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

var errMigrationName = errors.New("create expects exactly one migration name")

// schemaTool runs bun migrations against the configured storage engine.
type schemaTool struct {
	migrator *migrate.Migrator
	logger   *zap.Logger
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("db: %v", err)
	}
}

func run() error {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync() //nolint:errcheck

	storage := &cfg.Common.Storage

	db, err := database.Open(storage)
	if err != nil {
		return fmt.Errorf("open %s storage: %w", storage.Engine, err)
	}
	defer db.Close()

	tool := &schemaTool{
		migrator: migrate.NewMigrator(db, migrations.Migrations),
		logger:   logger.With(zap.String("engine", storage.Engine)),
	}

	return tool.command().Run(context.Background(), os.Args)
}

func (s *schemaTool) command() *cli.Command {
	return &cli.Command{
		Name:  "db",
		Usage: "Manage the activity storage schema",
		Commands: []*cli.Command{
			{Name: "init", Usage: "Create the migration bookkeeping tables", Action: s.init},
			{Name: "migrate", Usage: "Apply every pending migration", Action: s.migrate},
			{Name: "rollback", Usage: "Undo the most recent migration group", Action: s.rollback},
			{Name: "status", Usage: "List applied and pending migrations", Action: s.status},
			{Name: "create", Usage: "Write a new Go migration stub", ArgsUsage: "NAME", Action: s.create},
		},
	}
}

func (s *schemaTool) init(ctx context.Context, _ *cli.Command) error {
	if err := s.migrator.Init(ctx); err != nil {
		return fmt.Errorf("create migration tables: %w", err)
	}

	s.logger.Info("Migration tables ready")

	return nil
}

func (s *schemaTool) migrate(ctx context.Context, c *cli.Command) error {
	if err := s.init(ctx, c); err != nil {
		return err
	}

	return s.locked(ctx, func(ctx context.Context) error {
		group, err := s.migrator.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}

		if group.IsZero() {
			s.logger.Info("Schema already current")
			return nil
		}

		s.logger.Info("Applied migrations",
			zap.Int64("group", group.ID),
			zap.Int("count", len(group.Migrations)))

		return nil
	})
}

func (s *schemaTool) rollback(ctx context.Context, _ *cli.Command) error {
	return s.locked(ctx, func(ctx context.Context) error {
		group, err := s.migrator.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("undo migrations: %w", err)
		}

		if group.IsZero() {
			s.logger.Info("Nothing applied, nothing to undo")
			return nil
		}

		s.logger.Info("Undid migrations",
			zap.Int64("group", group.ID),
			zap.Int("count", len(group.Migrations)))

		return nil
	})
}

func (s *schemaTool) status(ctx context.Context, _ *cli.Command) error {
	ms, err := s.migrator.MigrationsWithStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}

	pending := ms.Unapplied()

	s.logger.Info("Schema status",
		zap.Int("known", len(ms)),
		zap.Int("pending", len(pending)),
		zap.Stringer("pendingNames", pending),
		zap.Stringer("lastGroup", ms.LastGroup()))

	return nil
}

func (s *schemaTool) create(ctx context.Context, c *cli.Command) error {
	if c.Args().Len() != 1 {
		return errMigrationName
	}

	file, err := s.migrator.CreateGoMigration(ctx, c.Args().First())
	if err != nil {
		return fmt.Errorf("write migration stub: %w", err)
	}

	s.logger.Info("Wrote migration stub", zap.String("file", file.Path))

	return nil
}

// locked holds the migration lock around fn so concurrent runs cannot interleave.
func (s *schemaTool) locked(ctx context.Context, fn func(context.Context) error) error {
	if err := s.migrator.Lock(ctx); err != nil {
		return fmt.Errorf("lock migrations: %w", err)
	}

	defer func() {
		if err := s.migrator.Unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to unlock migrations", zap.Error(err))
		}
	}()

	return fn(ctx)
}
