package model

import (
	"time"

	"github.com/google/uuid"
)

// WebhookEventType enumerates the outbound notification kinds.
type WebhookEventType string

const (
	WebhookEventSessionCreated WebhookEventType = "session_created"
	WebhookEventSessionEnded   WebhookEventType = "session_ended"
	WebhookEventProgressUpdate WebhookEventType = "progress_update"
)

// WebhookStatus is the delivery state of a queued webhook.
// Success and failed are terminal.
type WebhookStatus string

const (
	WebhookStatusPending WebhookStatus = "pending"
	WebhookStatusSuccess WebhookStatus = "success"
	WebhookStatusFailed  WebhookStatus = "failed"
)

// WebhookQueueItem is a durable at-least-once delivery task.
//
// SessionID is a correlation value, not a foreign key: queue items survive
// session deletion. Attempts counts completed delivery attempts, including
// the immediate attempt that triggered queuing. Rows are never deleted by
// normal operation; terminal rows are retained for audit.
type WebhookQueueItem struct {
	ID            uuid.UUID        `json:"id"`
	URL           string           `json:"url"`
	Payload       string           `json:"-"`
	EventType     WebhookEventType `json:"event_type"`
	SessionID     *string          `json:"session_id,omitempty"`
	Attempts      int              `json:"attempts"`
	MaxAttempts   int              `json:"max_attempts"`
	LastAttemptAt *time.Time       `json:"last_attempt_at,omitempty"`
	LastError     *string          `json:"last_error,omitempty"`
	Status        WebhookStatus    `json:"status"`
	NextRetryAt   time.Time        `json:"next_retry_at"`
	CreatedAt     time.Time        `json:"created_at"`
}

// WebhookQueueStats summarizes the retry queue for inspection endpoints.
// The counts come from storage; the retry settings are filled in by the
// caller from its delivery configuration.
type WebhookQueueStats struct {
	Pending              int64 `json:"pending"`
	Success              int64 `json:"success"`
	Failed               int64 `json:"failed"`
	RetryIntervalSeconds int   `json:"retry_interval_seconds,omitempty"`
	MaxAttempts          int   `json:"max_attempts,omitempty"`
}
