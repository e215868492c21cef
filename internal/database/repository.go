package database

import (
	"github.com/robalyx/rewind/internal/action"
	"github.com/robalyx/rewind/internal/database/models"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Repository provides access to all database models.
type Repository struct {
	activity *models.ActivityModel
	lookup   *models.LookupModel
}

// NewRepository creates a new repository instance with all models.
func NewRepository(db *bun.DB, registry *action.Registry, logger *zap.Logger) *Repository {
	lookup := models.NewLookup(db, logger)

	return &Repository{
		activity: models.NewActivity(db, lookup, registry, logger),
		lookup:   lookup,
	}
}

// Activity returns the activity model repository.
func (r *Repository) Activity() *models.ActivityModel {
	return r.activity
}

// Lookup returns the lookup model repository.
func (r *Repository) Lookup() *models.LookupModel {
	return r.lookup
}
