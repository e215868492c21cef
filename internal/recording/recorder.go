package recording

import (
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/setup/config"
	"github.com/robalyx/rewind/internal/world"
	"go.uber.org/zap"
)

// Gate decides whether an activity should be recorded.
type Gate interface {
	ShouldRecord(a *activity.Activity) bool
}

// Alerter inspects activities for watched materials.
type Alerter interface {
	Check(a *activity.Activity) bool
}

// Recorder is the entry point for event capture. It never performs I/O.
type Recorder struct {
	cfg    *config.CoreConfig
	gate   Gate
	alerts Alerter
	queue  *Queue
	logger *zap.Logger
}

// NewRecorder creates a recorder feeding the given queue.
func NewRecorder(cfg *config.CoreConfig, gate Gate, queue *Queue, logger *zap.Logger) *Recorder {
	return &Recorder{
		cfg:    cfg,
		gate:   gate,
		queue:  queue,
		logger: logger.Named("recorder"),
	}
}

// WithAlerts checks every enabled activity for alerts, including ones the filters ignore.
func (r *Recorder) WithAlerts(alerts Alerter) *Recorder {
	r.alerts = alerts
	return r
}

// Record builds an activity and queues it when the action is enabled and the filters allow it.
func (r *Recorder) Record(a action.Action, loc world.Location, cause activity.Cause) bool {
	return r.RecordActivity(activity.New(a, loc, cause))
}

// RecordActivity queues a prebuilt activity, for callers that set an affected player.
func (r *Recorder) RecordActivity(a *activity.Activity) bool {
	if !r.cfg.ActionEnabled(a.Action.Type().Key) {
		return false
	}

	if err := a.Cause.Validate(); err != nil {
		r.logger.Warn("Discarding activity with invalid cause",
			zap.String("action", a.Action.Type().Key),
			zap.Error(err))

		return false
	}

	if r.alerts != nil {
		r.alerts.Check(a)
	}

	if r.gate != nil && !r.gate.ShouldRecord(a) {
		return false
	}

	return r.queue.Add(a)
}
