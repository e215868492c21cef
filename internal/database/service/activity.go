package service

import (
	"context"

	"github.com/robalyx/rewind/internal/activity"
	"github.com/robalyx/rewind/internal/database/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// LookupPage is one page of display results.
type LookupPage struct {
	Results []*activity.Grouped
	// HasMore is true when another page follows.
	HasMore bool
}

// ActivityService is the storage entry point used by recording, modifications and purges.
type ActivityService struct {
	model  *models.ActivityModel
	tracer trace.Tracer
	logger *zap.Logger
}

// NewActivity creates a new activity service.
func NewActivity(model *models.ActivityModel, logger *zap.Logger) *ActivityService {
	return &ActivityService{
		model:  model,
		tracer: otel.Tracer("rewind/database"),
		logger: logger.Named("activity_service"),
	}
}

func (s *ActivityService) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "activity."+name, trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	span.End()
}

// InsertActivities persists a batch of activities.
func (s *ActivityService) InsertActivities(ctx context.Context, activities []*activity.Activity) (err error) {
	ctx, span := s.start(ctx, "insert", attribute.Int("count", len(activities)))
	defer func() { finish(span, err) }()

	return s.model.InsertActivities(ctx, activities)
}

// QueryActivities returns raw activities for modifications.
func (s *ActivityService) QueryActivities(ctx context.Context, q *activity.Query) (results []*activity.Activity, err error) {
	ctx, span := s.start(ctx, "query")
	defer func() { finish(span, err) }()

	results, err = s.model.QueryActivities(ctx, q)
	span.SetAttributes(attribute.Int("results", len(results)))

	return results, err
}

// QueryGrouped returns aggregated activities.
func (s *ActivityService) QueryGrouped(ctx context.Context, q *activity.Query) (results []*activity.Grouped, err error) {
	ctx, span := s.start(ctx, "query_grouped")
	defer func() { finish(span, err) }()

	return s.model.QueryGrouped(ctx, q)
}

// Lookup returns one page of display results. Ungrouped queries yield groups of one.
func (s *ActivityService) Lookup(ctx context.Context, q *activity.Query) (*LookupPage, error) {
	// One extra row tells whether another page exists
	probe := q.Clone()
	if probe.Limit > 0 {
		probe.Limit++
	}

	var results []*activity.Grouped

	if probe.Grouped {
		grouped, err := s.QueryGrouped(ctx, probe)
		if err != nil {
			return nil, err
		}

		results = grouped
	} else {
		raw, err := s.QueryActivities(ctx, probe)
		if err != nil {
			return nil, err
		}

		results = make([]*activity.Grouped, len(raw))
		for i, a := range raw {
			results[i] = &activity.Grouped{Activity: a, Count: 1}
		}
	}

	page := &LookupPage{Results: results}
	if q.Limit > 0 && len(results) > q.Limit {
		page.Results = results[:q.Limit]
		page.HasMore = true
	}

	return page, nil
}

// CountActivities returns the number of matching raw activities.
func (s *ActivityService) CountActivities(ctx context.Context, q *activity.Query) (int, error) {
	return s.model.CountActivities(ctx, q)
}

// DeleteActivities deletes matching activities inside a primary key window.
func (s *ActivityService) DeleteActivities(
	ctx context.Context, q *activity.Query, minPK, maxPK int64,
) (deleted int64, err error) {
	ctx, span := s.start(ctx, "delete", attribute.Int64("min_pk", minPK), attribute.Int64("max_pk", maxPK))
	defer func() { finish(span, err) }()

	deleted, err = s.model.DeleteActivities(ctx, q, minPK, maxPK)
	span.SetAttributes(attribute.Int64("deleted", deleted))

	return deleted, err
}

// MarkReversed sets or clears the reversed flag.
func (s *ActivityService) MarkReversed(ctx context.Context, ids []int64, reversed bool) (updated int64, err error) {
	ctx, span := s.start(ctx, "mark_reversed", attribute.Int("count", len(ids)), attribute.Bool("reversed", reversed))
	defer func() { finish(span, err) }()

	updated, err = s.model.MarkReversed(ctx, ids, reversed)
	if err == nil && updated != int64(len(ids)) {
		s.logger.Warn("Reversed flag updated fewer activities than requested",
			zap.Int("requested", len(ids)),
			zap.Int64("updated", updated))
	}

	return updated, err
}

// MaxPrimaryKey returns the highest activity ID.
func (s *ActivityService) MaxPrimaryKey(ctx context.Context) (int64, error) {
	return s.model.MaxPrimaryKey(ctx)
}
