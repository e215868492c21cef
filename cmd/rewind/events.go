package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

// Event is one game event in a JSON lines capture file.
type Event struct {
	Action     string  `json:"action"`
	World      string  `json:"world"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Player     string  `json:"player,omitempty"`
	Cause      string  `json:"cause,omitempty"`
	Block      string  `json:"block,omitempty"`
	Replaced   string  `json:"replaced,omitempty"`
	Descriptor string  `json:"descriptor,omitempty"`
	Time       int64   `json:"time,omitempty"`
}

// RecordSummary counts what happened to a capture file.
type RecordSummary struct {
	Events   int
	Recorded int
	Ignored  int
}

// readEvents decodes one event per non-empty line.
func readEvents(r io.Reader) ([]Event, error) {
	var events []Event

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		var ev Event
		if err := sonic.UnmarshalString(text, &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		events = append(events, ev)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	return events, nil
}

// record applies block events to the world and passes every event to the recorder.
// World changes happen on the main thread; the recording queue is flushed afterwards.
func (e *engine) record(ctx context.Context, events []Event) (*RecordSummary, error) {
	summary := &RecordSummary{Events: len(events)}

	err := e.main.Call(ctx, func() error {
		for i, ev := range events {
			act, err := e.eventActivity(ev)
			if err != nil {
				return fmt.Errorf("event %d: %w", i+1, err)
			}

			if e.recorder.RecordActivity(act) {
				summary.Recorded++
			} else {
				summary.Ignored++
			}
		}

		return nil
	})
	if err != nil {
		return summary, err
	}

	written, err := e.queue.Flush(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to write activities: %w", err)
	}

	e.logger.Info("Recorded events",
		zap.Int("events", summary.Events),
		zap.Int("recorded", summary.Recorded),
		zap.Int("written", written))

	return summary, nil
}

// eventActivity turns an event into an activity, changing the world for block events.
func (e *engine) eventActivity(ev Event) (*activity.Activity, error) {
	typ, ok := e.app.Registry.Get(ev.Action)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, ev.Action)
	}

	if ev.World == "" {
		return nil, ErrMissingWorld
	}

	worldID, ok := e.world.WorldByName(ev.World)
	if !ok {
		worldID = uuid.New()
		e.world.AddWorld(worldID, ev.World)
	}

	loc := world.NewLocation(worldID, ev.World, ev.X, ev.Y, ev.Z).BlockLocation()

	var a action.Action

	switch typ.Variant {
	case action.VariantBlock:
		block := action.NewBlockAction(typ, world.ParseBlockState(ev.Block), world.ParseBlockState(ev.Replaced), nil)
		block.ApplyRestore(action.ApplyContext{
			World:    e.world,
			Rules:    &action.Ruleset{Overwrite: true},
			Location: loc,
			Mode:     action.ModeCompleting,
		})

		a = block
	case action.VariantGeneric:
		a = action.NewGenericAction(typ, ev.Descriptor, nil)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, typ.Variant)
	}

	cause := activity.NamedCause(ev.Cause)
	if ev.Player != "" {
		cause = activity.PlayerCause(playerID(ev.Player), ev.Player)
	}

	act := activity.New(a, loc, cause)
	if ev.Time > 0 {
		act.Timestamp = ev.Time
	}

	return act, nil
}
