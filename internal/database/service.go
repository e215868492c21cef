package database

import (
	"github.com/robalyx/rewind/internal/database/service"
	"go.uber.org/zap"
)

// Service provides access to all business logic services.
type Service struct {
	activity *service.ActivityService
}

// NewService creates a new service instance with all services.
func NewService(repository *Repository, logger *zap.Logger) *Service {
	return &Service{
		activity: service.NewActivity(repository.Activity(), logger),
	}
}

// Activity returns the activity service.
func (s *Service) Activity() *service.ActivityService {
	return s.activity
}
