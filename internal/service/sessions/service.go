// Package sessions provides the business logic for session lifecycle
// operations: creation, listing, explicit termination, deletion.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/webhook"
)

// ErrSessionEnded is returned for status changes against a session already
// in a terminal status.
var ErrSessionEnded = errors.New("sessions: session already ended")

// Service encapsulates session lifecycle logic.
type Service struct {
	db     *storage.DB
	hooks  *webhook.Dispatcher
	logger *slog.Logger
}

// New creates a session Service.
func New(db *storage.DB, hooks *webhook.Dispatcher, logger *slog.Logger) *Service {
	return &Service{db: db, hooks: hooks, logger: logger}
}

// Create starts a session at step 1 against an existing manual. The manual
// is resolved by external id; a duplicate session id surfaces as
// storage.ErrSessionExists. A session_created notification goes out after
// the insert.
func (s *Service) Create(ctx context.Context, req model.SessionCreate) (model.SessionView, error) {
	manual, err := s.db.GetManualByExternalID(ctx, req.ManualID)
	if err != nil {
		return model.SessionView{}, err
	}

	created, err := s.db.CreateSession(ctx, model.Session{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		ManualID:  manual.ID,
	})
	if err != nil {
		return model.SessionView{}, err
	}
	s.logger.Info("session created",
		"session_id", created.SessionID, "user_id", created.UserID, "manual_id", manual.ManualID)

	view := model.SessionView{
		Session:          created,
		ManualExternalID: manual.ManualID,
		TotalSteps:       manual.TotalSteps,
	}
	s.hooks.SessionCreated(ctx, view)
	return view, nil
}

// Get returns a session joined with its manual identifiers.
func (s *Service) Get(ctx context.Context, sessionID string) (model.SessionView, error) {
	return s.db.GetSessionView(ctx, sessionID)
}

// List returns sessions matching the filter, newest first, plus the total
// matching count.
func (s *Service) List(ctx context.Context, f model.SessionFilter) ([]model.SessionView, int, error) {
	return s.db.ListSessions(ctx, f)
}

// End transitions an active session to the given terminal status and emits
// a session_ended notification. Ending an already-ended session returns
// ErrSessionEnded; the caller must pass a terminal status.
func (s *Service) End(ctx context.Context, sessionID string, status model.SessionStatus) (model.SessionView, error) {
	if !status.Terminal() {
		return model.SessionView{}, fmt.Errorf("sessions: status %q is not terminal", status)
	}

	view, err := s.db.GetSessionView(ctx, sessionID)
	if err != nil {
		return model.SessionView{}, err
	}
	if view.Status.Terminal() {
		return model.SessionView{}, fmt.Errorf("%w: session %s is %s", ErrSessionEnded, sessionID, view.Status)
	}

	now := time.Now().UTC()
	if err := s.db.UpdateSessionStatus(ctx, view.ID, status, &now); err != nil {
		return model.SessionView{}, err
	}
	view.Status = status
	view.EndedAt = &now
	s.logger.Info("session ended", "session_id", sessionID, "status", status)

	s.hooks.SessionEnded(ctx, view)
	return view, nil
}

// Delete removes a session and its dependent messages and progress events.
// Webhook queue rows referencing the session are retained for audit.
func (s *Service) Delete(ctx context.Context, sessionID string) error {
	if err := s.db.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("session deleted", "session_id", sessionID)
	return nil
}
