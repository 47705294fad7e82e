// Package model defines the core domain types for michibiki.
//
// All types correspond directly to database tables and webhook payloads.
// Types use strong typing (UUIDs, time.Time, enums) and avoid interface{}
// wherever possible.
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Manual is an ordered instructional sequence of steps. Step numbering is
// immutable after creation: steps run 1..TotalSteps contiguously.
type Manual struct {
	ID         uuid.UUID    `json:"id"`
	ManualID   string       `json:"manual_id"`
	Title      string       `json:"title"`
	TotalSteps int          `json:"total_steps"`
	Steps      []ManualStep `json:"steps,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// ManualStep is a single step within a manual.
type ManualStep struct {
	ID         uuid.UUID `json:"id"`
	ManualID   uuid.UUID `json:"-"`
	StepNumber int       `json:"step_number"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// ManualCreate is the request payload for creating a manual.
type ManualCreate struct {
	ManualID string              `json:"manual_id"`
	Title    string              `json:"title"`
	Steps    []ManualStepRequest `json:"steps"`
}

// ManualStepRequest is a step as submitted on manual creation.
type ManualStepRequest struct {
	StepNumber int    `json:"step_number"`
	Title      string `json:"title"`
	Content    string `json:"content"`
}

// Validate checks the creation payload: identifiers present and steps
// numbered 1..N with no gaps or duplicates. Enforced at creation time only;
// numbering is immutable afterwards.
func (m ManualCreate) Validate() error {
	if m.ManualID == "" {
		return fmt.Errorf("manual_id is required")
	}
	if m.Title == "" {
		return fmt.Errorf("title is required")
	}
	if len(m.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	seen := make(map[int]bool, len(m.Steps))
	for i, s := range m.Steps {
		if s.Title == "" {
			return fmt.Errorf("steps[%d]: title is required", i)
		}
		if s.StepNumber < 1 || s.StepNumber > len(m.Steps) {
			return fmt.Errorf("steps[%d]: step_number %d outside 1..%d", i, s.StepNumber, len(m.Steps))
		}
		if seen[s.StepNumber] {
			return fmt.Errorf("steps[%d]: duplicate step_number %d", i, s.StepNumber)
		}
		seen[s.StepNumber] = true
	}
	return nil
}
