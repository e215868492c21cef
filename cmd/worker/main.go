package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/robalyx/rewind/internal/query"
	"github.com/robalyx/rewind/internal/setup"
	"github.com/robalyx/rewind/internal/setup/telemetry"
	"github.com/robalyx/rewind/internal/world"
	"github.com/robalyx/rewind/internal/worker/core"
	"github.com/robalyx/rewind/internal/worker/purge"
	"github.com/robalyx/rewind/pkg/utils"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

const (
	// WorkerLogDir specifies where worker log files are stored.
	WorkerLogDir = "logs/worker_logs"

	// PurgeWorker deletes activity matching the configured purge queries.
	PurgeWorker = "purge"

	// purgeLeaseTTL bounds how long a crashed worker can block the others.
	purgeLeaseTTL = 30 * time.Minute

	// restartDelay is the pause before a stopped worker is started again.
	restartDelay = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "worker",
		Usage: "Start rewind background workers",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   1,
				Usage:   "Number of workers to start",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  PurgeWorker,
				Usage: "Start scheduled purge workers",
				Action: func(ctx context.Context, c *cli.Command) error {
					return runWorkers(ctx, PurgeWorker, c.Int("workers"))
				},
			},
			{
				Name:  "status",
				Usage: "Show the status of running workers",
				Action: func(ctx context.Context, _ *cli.Command) error {
					return printStatuses(ctx)
				},
			},
		},
	}

	return app.Run(ctx, os.Args)
}

// runWorkers starts count instances of a worker type and waits for them to stop.
func runWorkers(ctx context.Context, workerType string, count int64) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, workerType, "pool")
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	// Purge queries never name a world, so no live worlds are needed to parse them
	parser := query.NewParser(app.Registry, world.NewMemory(), &app.Config.Core)
	store := app.DB.Service().Activity()

	var wg sync.WaitGroup

	for i := range count {
		wg.Add(1)

		go func(workerID int64) {
			defer wg.Done()

			name := fmt.Sprintf("%s_worker_%d", workerType, workerID)
			workerLogger := app.LogManager.GetWorkerLogger(name)

			reporter := core.NewStatusReporter(app.StatusClient, workerType, workerLogger)
			lease := core.NewLease(app.LockClient, workerType, reporter.GetWorkerID(), purgeLeaseTTL)

			w := purge.New(store, parser, &app.Config.Core.Purges, reporter, lease, workerLogger)
			runWorker(ctx, w, workerLogger)
		}(i)
	}

	log.Printf("Started %d %s workers", count, workerType)
	wg.Wait()
	log.Println("All workers have finished. Exiting.")

	return nil
}

// runWorker runs a single worker in a loop with panic recovery until ctx ends.
func runWorker(ctx context.Context, w interface{ Start(context.Context) }, logger *zap.Logger) {
	for {
		if ctx.Err() != nil {
			logger.Info("Context cancelled, stopping worker")
			return
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Worker execution failed",
						zap.String("worker_type", fmt.Sprintf("%T", w)),
						zap.Any("panic", r),
					)
				}
			}()

			logger.Info("Starting worker")
			w.Start(ctx)
		}()

		if ctx.Err() != nil {
			return
		}

		logger.Warn("Worker stopped unexpectedly, restarting",
			zap.String("worker_type", fmt.Sprintf("%T", w)),
			zap.Duration("delay", restartDelay))

		if !utils.ErrorSleep(ctx, restartDelay, logger, "worker") {
			return
		}
	}
}

// printStatuses lists every worker heartbeat currently stored in Redis.
func printStatuses(ctx context.Context) error {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceWorker, WorkerLogDir, "status", "cli")
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.Cleanup(context.WithoutCancel(ctx))

	statuses, err := core.NewMonitor(app.StatusClient, app.Logger).GetAllStatuses(ctx)
	if err != nil {
		return err
	}

	if len(statuses) == 0 {
		fmt.Println("No workers are reporting")
		return nil
	}

	now := time.Now()
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tTYPE\tTASK\tPROGRESS\tHEALTHY\tLAST SEEN")

	for _, s := range statuses {
		healthy := s.IsHealthy && !s.Stale(now)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%t\t%s ago\n",
			s.WorkerID, s.WorkerType, s.CurrentTask, s.Progress, healthy, now.Sub(s.LastSeen).Round(time.Second))
	}

	return tw.Flush()
}
