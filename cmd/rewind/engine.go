package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/alert"
	"github.com/robalyx/rewind/internal/command"
	"github.com/robalyx/rewind/internal/database/service"
	"github.com/robalyx/rewind/internal/filter"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/query"
	"github.com/robalyx/rewind/internal/recording"
	"github.com/robalyx/rewind/internal/scheduler"
	"github.com/robalyx/rewind/internal/setup"
	"github.com/robalyx/rewind/internal/setup/telemetry"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

// engine wires the recording, query and modification stack around a world snapshot file.
type engine struct {
	app       *setup.App
	world     *world.Memory
	worldPath string
	main      *scheduler.MainThread
	store     *service.ActivityService
	mods      *modification.Service
	queue     *recording.Queue
	alerts    *alert.Service
	recorder  *recording.Recorder
	parser    *query.Parser
	handler   *command.Handler
	logger    *zap.Logger
}

func newEngine(ctx context.Context, worldPath string) (*engine, error) {
	app, err := setup.InitializeApp(ctx, telemetry.ServiceEngine, EngineLogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}

	mem, err := world.LoadMemory(worldPath)
	if err != nil {
		app.Cleanup(ctx)
		return nil, err
	}

	cfg := app.Config
	logger := app.Logger

	mainThread := scheduler.NewMainThread(logger)
	mainThread.Start(ctx)

	store := app.DB.Service().Activity()
	pipeline := scheduler.NewPipeline(mainThread, cfg.Core.Lookup.IOConcurrency, logger)
	mods := modification.NewService(mem, store, mainThread, &cfg.Core.Modifications, logger)

	queue := recording.NewQueue(store, &cfg.Core.Recording, logger)
	queue.Start(ctx)

	gate := filter.NewService(&cfg.Core, nil, logger)
	alerts := alert.NewService(&cfg.Core, nil, nil, logger)
	recorder := recording.NewRecorder(&cfg.Core, gate, queue, logger).WithAlerts(alerts)
	parser := query.NewParser(app.Registry, mem, &cfg.Core)

	return &engine{
		app:       app,
		world:     mem,
		worldPath: worldPath,
		main:      mainThread,
		store:     store,
		mods:      mods,
		queue:     queue,
		alerts:    alerts,
		recorder:  recorder,
		parser:    parser,
		handler:   command.NewHandler(parser, store, pipeline, mods, recorder, app.Registry, &cfg.Core, logger),
		logger:    logger,
	}, nil
}

// saveWorld writes the durable world state back to the snapshot file.
func (e *engine) saveWorld(ctx context.Context) error {
	return e.main.Call(ctx, func() error {
		return e.world.Save(e.worldPath)
	})
}

// close drains pending recordings and shuts everything down.
func (e *engine) close(ctx context.Context) {
	e.queue.Close(ctx)
	e.alerts.Close()
	e.mods.Close()
	e.main.Stop()
	e.app.Cleanup(ctx)
}

// playerID derives a stable identifier for a player name.
func playerID(name string) uuid.UUID {
	return uuid.NewMD5(uuid.NameSpaceOID, []byte("player:"+strings.ToLower(name)))
}

// caller builds the command caller from the --as and --at flags.
// A console caller has no location.
func (e *engine) caller(name, at string) (command.Caller, error) {
	if name == "" || strings.EqualFold(name, "console") {
		if at != "" {
			return command.Caller{}, ErrConsoleLocation
		}

		return command.Console(), nil
	}

	c := command.Caller{Owner: world.Owner{ID: playerID(name), Name: name}}
	if at == "" {
		return c, nil
	}

	loc, err := e.parseLocation(at)
	if err != nil {
		return command.Caller{}, err
	}

	c.Location = &loc

	return c, nil
}

// parseLocation parses "world,x,y,z".
func (e *engine) parseLocation(raw string) (world.Location, error) {
	parts := strings.Split(raw, ",")
	if len(parts) != 4 {
		return world.Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, raw)
	}

	id, ok := e.world.WorldByName(parts[0])
	if !ok {
		return world.Location{}, fmt.Errorf("%w: unknown world %q", ErrInvalidLocation, parts[0])
	}

	var coords [3]float64

	for i, part := range parts[1:] {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return world.Location{}, fmt.Errorf("%w: %q", ErrInvalidLocation, raw)
		}

		coords[i] = v
	}

	return world.NewLocation(id, parts[0], coords[0], coords[1], coords[2]), nil
}

// parseRaw parses arguments into an ungrouped query for export.
func (e *engine) parseRaw(args []string, caller command.Caller) (*activity.Query, error) {
	parsed, err := e.parser.Parse(args, query.Sender{Location: caller.Location})
	if err != nil {
		return nil, err
	}

	parsed.Query.Grouped = false

	return parsed.Query, nil
}
