package webhook

import "github.com/ashita-ai/michibiki/internal/model"

// Flat wire payloads for the external receiver. Field names are part of the
// delivery contract; do not rename.

type sessionCreatedPayload struct {
	EventType  model.WebhookEventType `json:"event_type"`
	SessionID  string                 `json:"session_id"`
	UserID     string                 `json:"user_id"`
	ManualID   string                 `json:"manual_id"`
	TotalSteps int                    `json:"total_steps"`
}

type sessionEndedPayload struct {
	EventType       model.WebhookEventType `json:"event_type"`
	SessionID       string                 `json:"session_id"`
	UserID          string                 `json:"user_id"`
	ManualID        string                 `json:"manual_id"`
	FinalStep       int                    `json:"final_step"`
	TotalSteps      int                    `json:"total_steps"`
	Status          model.SessionStatus    `json:"status"`
	DurationSeconds float64                `json:"duration_seconds"`
}

type progressUpdatePayload struct {
	EventType       model.WebhookEventType `json:"event_type"`
	SessionID       string                 `json:"session_id"`
	UserID          string                 `json:"user_id"`
	ManualID        string                 `json:"manual_id"`
	PreviousStep    int                    `json:"previous_step"`
	CurrentStep     int                    `json:"current_step"`
	TotalSteps      int                    `json:"total_steps"`
	StepStatus      model.StepStatus       `json:"step_status"`
	SessionStatus   model.SessionStatus    `json:"session_status"`
	DurationSeconds float64                `json:"session_duration_seconds"`
	IsCompleted     bool                   `json:"is_completed"`
}
