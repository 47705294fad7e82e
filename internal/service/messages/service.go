// Package messages provides the business logic for session conversation
// transcripts.
package messages

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
)

// ErrSessionEnded is returned when adding a message to a session that has
// already completed or been abandoned.
var ErrSessionEnded = errors.New("messages: session already ended")

// Service encapsulates conversation message operations.
type Service struct {
	db     *storage.DB
	logger *slog.Logger
}

// New creates a message Service.
func New(db *storage.DB, logger *slog.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// Add appends a message to an active session's transcript, stamped with the
// step the session is currently on. Adding a message counts as session
// activity for the idle-timeout clock.
func (s *Service) Add(ctx context.Context, sessionID string, req model.MessageCreate) (model.ConversationMessage, error) {
	view, err := s.db.GetSessionView(ctx, sessionID)
	if err != nil {
		return model.ConversationMessage{}, err
	}
	if view.Status.Terminal() {
		return model.ConversationMessage{}, ErrSessionEnded
	}

	msg, err := s.db.InsertMessage(ctx, model.ConversationMessage{
		SessionID:   view.ID,
		MessageText: req.Message,
		Sender:      req.Sender,
		StepAtTime:  view.CurrentStep,
	})
	if err != nil {
		return model.ConversationMessage{}, err
	}

	if err := s.db.TouchSessionActivity(ctx, view.ID); err != nil {
		s.logger.Warn("messages: touch session activity failed", "session_id", sessionID, "error", err)
	}
	return msg, nil
}

// List returns a session's transcript oldest first plus the total count.
func (s *Service) List(ctx context.Context, sessionID string, limit, offset int) ([]model.ConversationMessage, int, error) {
	view, err := s.db.GetSessionView(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	return s.db.ListMessages(ctx, view.ID, limit, offset)
}
