package model

import (
	"time"

	"github.com/google/uuid"
)

// StepStatus is the caller-submitted completion state of a step.
type StepStatus string

const (
	StepStatusDone    StepStatus = "DONE"
	StepStatusOngoing StepStatus = "ONGOING"
)

// Valid reports whether s is a known step status.
func (s StepStatus) Valid() bool {
	return s == StepStatusDone || s == StepStatusOngoing
}

// ProgressEvent is an append-only audit record of one progress submission.
// PreviousStep is the session's step before the event; Processed records
// whether the event caused an advance. Never mutated after insert.
type ProgressEvent struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      uuid.UUID  `json:"-"`
	StepNumber     int        `json:"step_number"`
	StepStatus     StepStatus `json:"step_status"`
	PreviousStep   int        `json:"previous_step"`
	Processed      bool       `json:"processed"`
	IdempotencyKey *string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ProgressUpdate is the request payload for a progress submission.
// IdempotencyKey, when present, deduplicates repeated submissions.
type ProgressUpdate struct {
	Step           int        `json:"step"`
	StepStatus     StepStatus `json:"step_status"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
}

// NextStepInfo is the content of the step a session should do next.
type NextStepInfo struct {
	StepNumber int    `json:"step_number"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// ProgressResult is the caller-visible outcome of a progress submission.
type ProgressResult struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"user_id"`
	PreviousStep int           `json:"previous_step"`
	CurrentStep  int           `json:"current_step"`
	TotalSteps   int           `json:"total_steps"`
	Status       SessionStatus `json:"status"`
	NextStep     *NextStepInfo `json:"next_step,omitempty"`
	FeedbackSent bool          `json:"feedback_sent"`
	Message      string        `json:"message"`
}

// NextStepResult is the outcome of a next-step lookup.
type NextStepResult struct {
	SessionID   string        `json:"session_id"`
	CurrentStep int           `json:"current_step"`
	TotalSteps  int           `json:"total_steps"`
	IsCompleted bool          `json:"is_completed"`
	NextStep    *NextStepInfo `json:"next_step,omitempty"`
	Message     string        `json:"message"`
}
