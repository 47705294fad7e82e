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

const sessionViewColumns = `s.id, s.session_id, s.user_id, s.manual_id, s.current_step, s.status,
	 s.started_at, s.ended_at, s.last_activity_at, s.version, s.created_at, s.updated_at,
	 m.manual_id, m.total_steps`

// CreateSession inserts a new session starting at step 1. A duplicate
// external session id surfaces as ErrSessionExists.
func (db *DB) CreateSession(ctx context.Context, s model.Session) (model.Session, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now().UTC()
	s.CurrentStep = 1
	s.Status = model.SessionStatusActive
	s.StartedAt = now
	s.LastActivityAt = now
	s.Version = 1
	s.CreatedAt = now
	s.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO sessions (id, session_id, user_id, manual_id, current_step, status,
		 started_at, last_activity_at, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.SessionID, s.UserID, s.ManualID, s.CurrentStep, string(s.Status),
		s.StartedAt, s.LastActivityAt, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Session{}, ErrSessionExists
		}
		return model.Session{}, fmt.Errorf("storage: create session: %w", err)
	}
	return s, nil
}

// GetSessionView returns a session joined with its manual's external id and
// step count.
func (db *DB) GetSessionView(ctx context.Context, sessionID string) (model.SessionView, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+sessionViewColumns+`
		 FROM sessions s JOIN manuals m ON m.id = s.manual_id
		 WHERE s.session_id = $1`,
		sessionID,
	)
	return scanSessionView(row)
}

// ListSessions returns session views matching the filter, newest first,
// plus the total matching count.
func (db *DB) ListSessions(ctx context.Context, f model.SessionFilter) ([]model.SessionView, int, error) {
	where := ""
	args := []any{}
	n := 0
	if f.UserID != "" {
		n++
		where += fmt.Sprintf(" AND s.user_id = $%d", n)
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		n++
		where += fmt.Sprintf(" AND s.status = $%d", n)
		args = append(args, string(f.Status))
	}

	var total int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions s WHERE true`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count sessions: %w", err)
	}

	query := `SELECT ` + sessionViewColumns + `
		 FROM sessions s JOIN manuals m ON m.id = s.manual_id
		 WHERE true` + where +
		fmt.Sprintf(` ORDER BY s.created_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list sessions: %w", err)
	}
	defer rows.Close()

	var views []model.SessionView
	for rows.Next() {
		v, err := scanSessionView(rows)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, v)
	}
	return views, total, rows.Err()
}

// UpdateSessionStatus transitions a session's status. endedAt, when non-nil,
// stamps the transition out of active; it is set exactly once.
func (db *DB) UpdateSessionStatus(ctx context.Context, id uuid.UUID, status model.SessionStatus, endedAt *time.Time) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE sessions
		 SET status = $2, ended_at = COALESCE(ended_at, $3), updated_at = $4
		 WHERE id = $1`,
		id, string(status), endedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage: update session status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session. Messages and progress events cascade;
// webhook queue rows are untouched.
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("storage: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// TouchSessionActivity stamps last_activity_at on a session.
func (db *DB) TouchSessionActivity(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	if _, err := db.pool.Exec(ctx,
		`UPDATE sessions SET last_activity_at = $2, updated_at = $2 WHERE id = $1`,
		id, now,
	); err != nil {
		return fmt.Errorf("storage: touch session: %w", err)
	}
	return nil
}

// ReapStaleSessions transitions all active sessions idle since before cutoff
// to abandoned in a single bulk update, and returns the reaped sessions
// joined with their manual identifiers so callers can emit notifications.
func (db *DB) ReapStaleSessions(ctx context.Context, cutoff time.Time) ([]model.SessionView, error) {
	now := time.Now().UTC()
	rows, err := db.pool.Query(ctx,
		`WITH reaped AS (
		     UPDATE sessions
		     SET status = 'abandoned', ended_at = $2, updated_at = $2
		     WHERE status = 'active' AND last_activity_at < $1
		     RETURNING *
		 )
		 SELECT `+sessionViewColumns+`
		 FROM reaped s JOIN manuals m ON m.id = s.manual_id`,
		cutoff, now,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: reap stale sessions: %w", err)
	}
	defer rows.Close()

	var reaped []model.SessionView
	for rows.Next() {
		v, err := scanSessionView(rows)
		if err != nil {
			return nil, err
		}
		reaped = append(reaped, v)
	}
	return reaped, rows.Err()
}

// CountActiveSessions returns the number of active sessions.
func (db *DB) CountActiveSessions(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = 'active'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count active sessions: %w", err)
	}
	return count, nil
}

// CountActiveSessionsIdleSince returns the number of active sessions whose
// last activity predates cutoff.
func (db *DB) CountActiveSessionsIdleSince(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sessions WHERE status = 'active' AND last_activity_at < $1`,
		cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count idle sessions: %w", err)
	}
	return count, nil
}

func scanSessionView(row pgx.Row) (model.SessionView, error) {
	var v model.SessionView
	var status string
	err := row.Scan(
		&v.ID, &v.SessionID, &v.UserID, &v.ManualID, &v.CurrentStep, &status,
		&v.StartedAt, &v.EndedAt, &v.LastActivityAt, &v.Version, &v.CreatedAt, &v.UpdatedAt,
		&v.ManualExternalID, &v.TotalSteps,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SessionView{}, ErrSessionNotFound
	}
	if err != nil {
		return model.SessionView{}, fmt.Errorf("storage: scan session: %w", err)
	}
	v.Status = model.SessionStatus(status)
	return v, nil
}
