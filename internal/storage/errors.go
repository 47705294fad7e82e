package storage

import "errors"

// Sentinel errors surfaced by the storage layer. Callers distinguish them
// with errors.Is; everything else is wrapped as an internal storage error.
var (
	// ErrSessionNotFound indicates an unknown external session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExists indicates a duplicate external session id on create.
	ErrSessionExists = errors.New("session already exists")
	// ErrManualNotFound indicates an unknown external manual id.
	ErrManualNotFound = errors.New("manual not found")
	// ErrManualExists indicates a duplicate external manual id on create.
	ErrManualExists = errors.New("manual already exists")
	// ErrManualInUse indicates a manual delete was refused because sessions
	// still reference it.
	ErrManualInUse = errors.New("manual has active references")
	// ErrDuplicateProgress indicates the (session, idempotency_key) pair
	// already has a progress event. A race between two submissions bearing
	// the same key surfaces as this error, not as a generic storage error.
	ErrDuplicateProgress = errors.New("duplicate progress update")
)
