package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a session. Completed and abandoned
// are terminal: no transition leaves them.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusAbandoned SessionStatus = "abandoned"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusAbandoned:
		return true
	}
	return false
}

// Terminal reports whether s permits no further transitions.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusAbandoned
}

// Session is one user's traversal of one manual.
//
// CurrentStep is 1-indexed; a value of TotalSteps+1 signals completion.
// Version is a monotonic counter incremented on every step advance, exposed
// to callers as an optimistic-concurrency signal (not enforced as a hard
// compare-and-swap).
type Session struct {
	ID             uuid.UUID     `json:"id"`
	SessionID      string        `json:"session_id"`
	UserID         string        `json:"user_id"`
	ManualID       uuid.UUID     `json:"-"`
	CurrentStep    int           `json:"current_step"`
	Status         SessionStatus `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	LastActivityAt time.Time     `json:"last_activity_at"`
	Version        int           `json:"version"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// DurationSeconds is the session's elapsed time: ended_at-started_at for
// ended sessions, now-started_at for active ones. Derived, never stored.
func (s Session) DurationSeconds() float64 {
	end := time.Now().UTC()
	if s.EndedAt != nil {
		end = *s.EndedAt
	}
	return end.Sub(s.StartedAt).Seconds()
}

// SessionCreate is the request payload for creating a session.
type SessionCreate struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	ManualID  string `json:"manual_id"`
}

// SessionUpdate is the request payload for an explicit status change.
type SessionUpdate struct {
	Status SessionStatus `json:"status"`
}

// SessionFilter narrows session listings.
type SessionFilter struct {
	UserID string
	Status SessionStatus
	Limit  int
	Offset int
}

// SessionView is a session joined with the identifying fields of its manual,
// the shape returned by session endpoints and used in webhook payloads.
type SessionView struct {
	Session
	ManualExternalID string `json:"manual_id"`
	TotalSteps       int    `json:"total_steps"`
}
