package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/michibiki/internal/model"
)

// InsertMessage appends a conversation message. The caller stamps
// StepAtTime with the session's current step.
func (db *DB) InsertMessage(ctx context.Context, msg model.ConversationMessage) (model.ConversationMessage, error) {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO conversation_messages (id, session_id, message_text, sender, step_at_time, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.SessionID, msg.MessageText, string(msg.Sender), msg.StepAtTime, msg.CreatedAt,
	)
	if err != nil {
		return model.ConversationMessage{}, fmt.Errorf("storage: insert message: %w", err)
	}
	return msg, nil
}

// ListMessages returns a session's messages oldest first, plus the total
// count for pagination.
func (db *DB) ListMessages(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.ConversationMessage, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE session_id = $1`, sessionID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count messages: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, message_text, sender, step_at_time, created_at
		 FROM conversation_messages WHERE session_id = $1
		 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list messages: %w", err)
	}
	defer rows.Close()

	var messages []model.ConversationMessage
	for rows.Next() {
		var m model.ConversationMessage
		var sender string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.MessageText, &sender, &m.StepAtTime, &m.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan message: %w", err)
		}
		m.Sender = model.Sender(sender)
		messages = append(messages, m)
	}
	return messages, total, rows.Err()
}
