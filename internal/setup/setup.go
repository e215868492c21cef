package setup

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/rueidis"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/database"
	"github.com/robalyx/rewind/internal/database/dbretry"
	"github.com/robalyx/rewind/internal/database/migrations"
	"github.com/robalyx/rewind/internal/redis"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/setup/telemetry"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

// Version is reported with traces and exports. Overridden at build time.
var Version = "dev" //nolint:gochecknoglobals // set via -ldflags

// App bundles the dependencies shared by every binary.
type App struct {
	Config       *config.Config     // Application configuration
	ConfigDir    string             // Directory the config was loaded from
	Logger       *zap.Logger        // Main application logger
	DBLogger     *zap.Logger        // Database-specific logger
	DB           database.Client    // Storage connection
	Registry     *action.Registry   // Action types known to storage and the parser
	RedisManager *redis.Manager     // Redis connection manager
	StatusClient rueidis.Client     // Redis client for worker status, nil outside workers
	LockClient   rueidis.Client     // Redis client for worker leases, nil outside workers
	LogManager   *telemetry.Manager // Log management system
	shutdown     func(context.Context) error
}

// InitializeApp bootstraps all application dependencies in order.
// Workers pass their type and ID so logs and statuses can be told apart.
func InitializeApp(ctx context.Context, serviceType telemetry.ServiceType, logDir string, workerInfo ...string) (*App, error) {
	cfg, configDir, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	var workerType, workerID string
	if len(workerInfo) >= 2 {
		workerType = workerInfo[0]
		workerID = workerInfo[1]
	}

	// Tracing comes first so the logging core forwards into a live provider
	tracing, shutdown := telemetry.ConfigureTracing(&cfg.Common.Telemetry, serviceType.String(), Version)

	logManager := telemetry.NewManager(serviceType, logDir, &cfg.Common.Debug, tracing, workerType, workerID)

	logger, dbLogger, err := logManager.GetLoggers()
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	retry := cfg.Common.Retry
	dbretry.Configure(retry.MaxRetries,
		time.Duration(retry.Delay)*time.Millisecond,
		time.Duration(retry.MaxDelay)*time.Millisecond)

	registry := action.DefaultRegistry()

	db, err := checkAndRunMigrations(ctx, &cfg.Common.Storage, registry, dbLogger)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	redisManager := redis.NewManager(&cfg.Common.Redis, logger)

	app := &App{
		Config:       cfg,
		ConfigDir:    configDir,
		Logger:       logger,
		DBLogger:     dbLogger.Named("database"),
		DB:           db,
		Registry:     registry,
		RedisManager: redisManager,
		LogManager:   logManager,
		shutdown:     shutdown,
	}

	if serviceType == telemetry.ServiceWorker {
		if app.StatusClient, err = redisManager.Client(redis.StatusDB); err != nil {
			app.Cleanup(ctx)
			return nil, err
		}

		if app.LockClient, err = redisManager.Client(redis.LockDB); err != nil {
			app.Cleanup(ctx)
			return nil, err
		}
	}

	logger.Info("Application initialized",
		zap.String("component", logManager.GetComponentName()),
		zap.String("instanceID", logManager.GetInstanceID()),
		zap.String("engine", cfg.Common.Storage.Engine),
		zap.Bool("tracing", tracing))

	return app, nil
}

// Cleanup shuts components down in reverse initialization order.
// Errors are logged so every component gets a cleanup attempt.
func (s *App) Cleanup(ctx context.Context) {
	if err := s.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	if err := s.DBLogger.Sync(); err != nil {
		log.Printf("Failed to sync DB logger: %v", err)
	}

	if err := s.DB.Close(); err != nil {
		log.Printf("Failed to close database connection: %v", err)
	}

	// Close Redis connections late as other components might need it during cleanup
	s.RedisManager.Close()

	if err := s.shutdown(ctx); err != nil {
		log.Printf("Failed to flush traces: %v", err)
	}

	s.LogManager.Stop()
}

// checkAndRunMigrations opens storage and applies pending migrations.
// SQLite migrates automatically; PostgreSQL asks first.
func checkAndRunMigrations(
	ctx context.Context, cfg *config.Storage, registry *action.Registry, dbLogger *zap.Logger,
) (database.Client, error) {
	if cfg.Engine != config.EnginePostgreSQL {
		return database.NewConnection(ctx, cfg, registry, dbLogger, true)
	}

	tempDB, err := database.NewConnection(ctx, cfg, registry, dbLogger, false)
	if err != nil {
		return nil, err
	}

	migrator := migrate.NewMigrator(tempDB.DB(), migrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to initialize migrations: %w", err)
	}

	ms, err := migrator.MigrationsWithStatus(ctx)
	if err != nil {
		tempDB.Close()
		return nil, fmt.Errorf("failed to check migration status: %w", err)
	}

	if len(ms.Unapplied()) == 0 {
		return tempDB, nil
	}

	log.Println("Database migrations are pending. Would you like to run them now? (y/N)")

	var response string

	_, _ = fmt.Scanln(&response)

	if response != "y" && response != "Y" {
		tempDB.Close()
		log.Fatalf("Closing program due to incomplete migrations")
	}

	if err := database.Migrate(ctx, tempDB.DB(), dbLogger); err != nil {
		tempDB.Close()
		return nil, err
	}

	return tempDB, nil
}
