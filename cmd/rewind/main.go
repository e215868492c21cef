package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robalyx/rewind/internal/command"
	"github.com/robalyx/rewind/internal/export"
	"github.com/robalyx/rewind/internal/modification"
	"github.com/robalyx/rewind/internal/purge"
	"github.com/urfave/cli/v3"
)

// EngineLogDir specifies where engine log files are stored.
const EngineLogDir = "logs/engine_logs"

var (
	ErrConsoleLocation  = errors.New("the console has no location; pass --as with --at")
	ErrInvalidLocation  = errors.New("location must be world,x,y,z")
	ErrUnknownAction    = errors.New("unknown action")
	ErrMissingWorld     = errors.New("event has no world")
	ErrUnsupportedEvent = errors.New("events of this variant cannot be captured")
	ErrFileRequired     = errors.New("FILE argument required")
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
		Name:  "rewind",
		Usage: "Audit, roll back and restore world changes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "world",
				Aliases: []string{"w"},
				Value:   "world.json",
				Usage:   "World snapshot file",
			},
			&cli.StringFlag{
				Name:  "as",
				Value: "console",
				Usage: "Player name running the command",
			},
			&cli.StringFlag{
				Name:  "at",
				Usage: "Caller location as world,x,y,z",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "record",
				Usage:     "Capture events from a JSON lines file",
				ArgsUsage: "FILE",
				Action: withEngine(func(ctx context.Context, c *cli.Command, e *engine) error {
					if c.Args().Len() != 1 {
						return ErrFileRequired
					}

					file, err := os.Open(c.Args().First())
					if err != nil {
						return err
					}
					defer file.Close()

					events, err := readEvents(file)
					if err != nil {
						return err
					}

					summary, err := e.record(ctx, events)
					if err != nil {
						return err
					}

					fmt.Printf("Recorded %d of %d events (%d ignored)\n", summary.Recorded, summary.Events, summary.Ignored)

					return e.saveWorld(ctx)
				}),
			},
			{
				Name:      "lookup",
				Usage:     "Show recorded activity",
				ArgsUsage: "[PARAM:VALUE...] [-FLAG...]",
				Flags:     []cli.Flag{pageFlag()},
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					result, err := e.handler.Lookup(ctx, caller, c.Args().Slice(), int(c.Int("page")))
					if err != nil {
						return err
					}

					printLookup(os.Stdout, result, time.Now())

					return nil
				}),
			},
			{
				Name:  "near",
				Usage: "Show activity around the caller",
				Flags: []cli.Flag{pageFlag()},
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					result, err := e.handler.Near(ctx, caller, int(c.Int("page")))
					if err != nil {
						return err
					}

					printLookup(os.Stdout, result, time.Now())

					return nil
				}),
			},
			modifyCommand("rollback", "Undo matching activity", modification.KindRollback),
			modifyCommand("restore", "Redo rolled back activity", modification.KindRestore),
			{
				Name:      "wand",
				Usage:     "Inspect, roll back or restore one block",
				ArgsUsage: "WORLD,X,Y,Z",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "mode",
						Value: string(command.WandInspect),
						Usage: "inspect, rollback or restore",
					},
				},
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					target, err := e.parseLocation(c.Args().First())
					if err != nil {
						return err
					}

					result, err := e.handler.Wand(ctx, caller, command.WandMode(c.String("mode")), target)
					if err != nil {
						return err
					}

					if result.Lookup != nil {
						printLookup(os.Stdout, result.Lookup, time.Now())
						return nil
					}

					printModification(os.Stdout, result.Modification)

					return e.saveWorld(ctx)
				}),
			},
			{
				Name:    "extinguish",
				Aliases: []string{"ex"},
				Usage:   "Put out fire around the caller",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "radius",
						Aliases: []string{"r"},
						Usage:   "Blocks in each direction, defaults to the configured radius",
					},
				},
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					removed, err := e.handler.Extinguish(ctx, caller, int(c.Int("radius")))
					if err != nil {
						return err
					}

					fmt.Printf("Removed %d fire blocks\n", removed)

					return e.saveWorld(ctx)
				}),
			},
			{
				Name:      "purge",
				Usage:     "Delete matching activity from storage",
				ArgsUsage: "[PARAM:VALUE...]",
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					summary, err := e.handler.Purge(ctx, caller, c.Args().Slice(), func(r purge.CycleResult) {
						fmt.Printf("  deleted %d up to #%d\n", r.Deleted, r.MaxPrimaryKey)
					})
					if summary != nil {
						printPurge(os.Stdout, summary)
					}

					return err
				}),
			},
			{
				Name:      "export",
				Usage:     "Write matching activity to standalone files",
				ArgsUsage: "[PARAM:VALUE...]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Value: "export",
						Usage: "Output directory",
					},
					&cli.StringFlag{
						Name:  "formats",
						Value: "sqlite,csv",
						Usage: "Comma separated formats",
					},
				},
				Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
					formats, err := export.ParseFormats(c.String("formats"))
					if err != nil {
						return err
					}

					args := c.Args().Slice()

					q, err := e.parseRaw(args, caller)
					if err != nil {
						return err
					}

					manifest, err := export.New(e.store, c.String("out"), e.logger, formats...).
						Export(ctx, q, strings.Join(args, " "))
					if err != nil {
						return err
					}

					fmt.Printf("Exported %d activities to %s\n", manifest.Records, c.String("out"))

					return nil
				}),
			},
		},
	}

	return app.Run(ctx, os.Args)
}

func pageFlag() cli.Flag {
	return &cli.IntFlag{
		Name:    "page",
		Aliases: []string{"p"},
		Value:   1,
		Usage:   "Result page",
	}
}

// modifyCommand builds the rollback and restore commands. With --preview the
// planned changes are shown first and applied only after confirmation.
func modifyCommand(name, usage string, kind modification.Kind) *cli.Command {
	return &cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "[PARAM:VALUE...] [-FLAG...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "preview",
				Usage: "Show the planned changes and ask before applying",
			},
		},
		Action: withCaller(func(ctx context.Context, c *cli.Command, e *engine, caller command.Caller) error {
			args := c.Args().Slice()

			if !c.Bool("preview") {
				modify := e.handler.Rollback
				if kind == modification.KindRestore {
					modify = e.handler.Restore
				}

				result, err := modify(ctx, caller, args)
				if result != nil {
					printModification(os.Stdout, result)
				}

				if err != nil {
					return err
				}

				return e.saveWorld(ctx)
			}

			preview := e.handler.PreviewRollback
			if kind == modification.KindRestore {
				preview = e.handler.PreviewRestore
			}

			result, err := preview(ctx, caller, args)
			if err != nil {
				return err
			}

			printModification(os.Stdout, result)

			if !confirm("Apply these changes? (y/N)") {
				return e.handler.Cancel(ctx, caller)
			}

			result, err = e.handler.Apply(ctx, caller)
			if result != nil {
				printModification(os.Stdout, result)
			}

			if err != nil {
				return err
			}

			return e.saveWorld(ctx)
		}),
	}
}

func confirm(prompt string) bool {
	fmt.Println(prompt)

	var response string

	_, _ = fmt.Scanln(&response)

	return response == "y" || response == "Y"
}

// withEngine runs action against a freshly wired engine.
func withEngine(action func(context.Context, *cli.Command, *engine) error) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		e, err := newEngine(ctx, c.String("world"))
		if err != nil {
			return err
		}
		defer e.close(context.WithoutCancel(ctx))

		return action(ctx, c, e)
	}
}

// withCaller additionally resolves the caller from the global flags.
func withCaller(action func(context.Context, *cli.Command, *engine, command.Caller) error) cli.ActionFunc {
	return withEngine(func(ctx context.Context, c *cli.Command, e *engine) error {
		caller, err := e.caller(c.String("as"), c.String("at"))
		if err != nil {
			return err
		}

		return action(ctx, c, e, caller)
	})
}
