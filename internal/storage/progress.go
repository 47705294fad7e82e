package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/michibiki/internal/model"
)

// SessionTx is a transaction holding an exclusive row lock on one session.
// The lock serializes concurrent progress submissions for that session;
// submissions for different sessions proceed in parallel.
type SessionTx struct {
	tx pgx.Tx
}

// LockSession begins a transaction and locks the session row FOR UPDATE.
// The returned SessionTx must be finished with Commit or Rollback.
func (db *DB) LockSession(ctx context.Context, sessionID string) (*SessionTx, model.Session, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, model.Session{}, fmt.Errorf("storage: begin session tx: %w", err)
	}

	var s model.Session
	var status string
	err = tx.QueryRow(ctx,
		`SELECT id, session_id, user_id, manual_id, current_step, status,
		 started_at, ended_at, last_activity_at, version, created_at, updated_at
		 FROM sessions WHERE session_id = $1 FOR UPDATE`,
		sessionID,
	).Scan(
		&s.ID, &s.SessionID, &s.UserID, &s.ManualID, &s.CurrentStep, &status,
		&s.StartedAt, &s.EndedAt, &s.LastActivityAt, &s.Version, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.Session{}, ErrSessionNotFound
		}
		return nil, model.Session{}, fmt.Errorf("storage: lock session: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return &SessionTx{tx: tx}, s, nil
}

// HasProgressEvent reports whether a progress event with the given
// idempotency key already exists for the session.
func (t *SessionTx) HasProgressEvent(ctx context.Context, sessionID uuid.UUID, key string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM progress_events WHERE session_id = $1 AND idempotency_key = $2
		 )`,
		sessionID, key,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("storage: check progress event: %w", err)
	}
	return exists, nil
}

// InsertProgressEvent appends an audit event. A concurrent submission that
// already inserted the same (session, idempotency_key) pair surfaces as
// ErrDuplicateProgress via the partial unique index.
func (t *SessionTx) InsertProgressEvent(ctx context.Context, ev model.ProgressEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO progress_events (id, session_id, step_number, step_status, previous_step, processed, idempotency_key, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ev.ID, ev.SessionID, ev.StepNumber, string(ev.StepStatus), ev.PreviousStep, ev.Processed, ev.IdempotencyKey, ev.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateProgress
		}
		return fmt.Errorf("storage: insert progress event: %w", err)
	}
	return nil
}

// UpdateSessionProgress writes back the session's mutated fields
// (current_step, status, version, ended_at, last_activity_at) while the
// row lock is held.
func (t *SessionTx) UpdateSessionProgress(ctx context.Context, s model.Session) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE sessions
		 SET current_step = $2, status = $3, version = $4, ended_at = $5,
		     last_activity_at = $6, updated_at = $7
		 WHERE id = $1`,
		s.ID, s.CurrentStep, string(s.Status), s.Version, s.EndedAt,
		s.LastActivityAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: update session progress: %w", err)
	}
	return nil
}

// Commit atomically applies the event insert and session mutation.
func (t *SessionTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit session tx: %w", err)
	}
	return nil
}

// Rollback abandons the transaction. Safe to call after Commit.
func (t *SessionTx) Rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}

// ListProgressEvents returns a session's audit trail oldest first, plus the
// total count for pagination.
func (db *DB) ListProgressEvents(ctx context.Context, sessionID uuid.UUID, limit, offset int) ([]model.ProgressEvent, int, error) {
	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM progress_events WHERE session_id = $1`, sessionID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count progress events: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT id, session_id, step_number, step_status, previous_step, processed, idempotency_key, created_at
		 FROM progress_events WHERE session_id = $1
		 ORDER BY created_at ASC LIMIT $2 OFFSET $3`,
		sessionID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list progress events: %w", err)
	}
	defer rows.Close()

	var events []model.ProgressEvent
	for rows.Next() {
		var ev model.ProgressEvent
		var status string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.StepNumber, &status, &ev.PreviousStep, &ev.Processed, &ev.IdempotencyKey, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("storage: scan progress event: %w", err)
		}
		ev.StepStatus = model.StepStatus(status)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}
