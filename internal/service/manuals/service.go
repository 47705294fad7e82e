// Package manuals provides the business logic for manual management.
package manuals

import (
	"context"
	"log/slog"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
)

// Service encapsulates manual operations.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a manual Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Create registers a manual and its steps. The payload must already be
// validated (ManualCreate.Validate); TotalSteps is derived from the step
// list, never trusted from the caller.
func (s *Service) Create(ctx context.Context, req model.ManualCreate) (model.Manual, error) {
	manual := model.Manual{
		ManualID:   req.ManualID,
		Title:      req.Title,
		TotalSteps: len(req.Steps),
		Steps:      make([]model.ManualStep, 0, len(req.Steps)),
	}
	for _, step := range req.Steps {
		manual.Steps = append(manual.Steps, model.ManualStep{
			StepNumber: step.StepNumber,
			Title:      step.Title,
			Content:    step.Content,
		})
	}

	created, err := s.db.CreateManual(ctx, manual)
	if err != nil {
		return model.Manual{}, err
	}
	s.logger.Info("manual created", "manual_id", created.ManualID, "total_steps", created.TotalSteps)
	return created, nil
}

// Get returns a manual with its steps by external id.
func (s *Service) Get(ctx context.Context, manualID string) (model.Manual, error) {
	return s.db.GetManualByExternalID(ctx, manualID)
}

// List returns manuals newest first plus the total count.
func (s *Service) List(ctx context.Context, limit, offset int) ([]model.Manual, int, error) {
	return s.db.ListManuals(ctx, limit, offset)
}

// Delete removes a manual. Refused with storage.ErrManualInUse while any
// session, of any status, still references it.
func (s *Service) Delete(ctx context.Context, manualID string) error {
	if err := s.db.DeleteManual(ctx, manualID); err != nil {
		return err
	}
	s.logger.Info("manual deleted", "manual_id", manualID)
	return nil
}
