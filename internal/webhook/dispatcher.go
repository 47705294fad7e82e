// Package webhook delivers outbound notifications to the external
// instruction delivery service.
//
// The Dispatcher makes one immediate, bounded-timeout delivery attempt per
// event; failures are handed to the durable retry queue rather than
// surfaced to the triggering operation. The Worker drains that queue with
// exponential backoff. Delivery is at-least-once: the receiver is expected
// to tolerate duplicates.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/michibiki/internal/model"
)

// QueueStore persists delivery tasks that failed immediate dispatch.
// Implemented by *storage.DB.
type QueueStore interface {
	EnqueueWebhook(ctx context.Context, item model.WebhookQueueItem) (model.WebhookQueueItem, error)
}

// Config holds the static delivery settings.
type Config struct {
	URL         string
	Timeout     time.Duration
	Enabled     bool
	MaxAttempts int
	BaseDelay   time.Duration
}

// Dispatcher sends webhook events. Safe for concurrent use.
type Dispatcher struct {
	client *http.Client
	queue  QueueStore
	cfg    Config
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher. The HTTP client timeout bounds every
// delivery attempt, immediate and retried alike.
func NewDispatcher(queue QueueStore, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{Timeout: cfg.Timeout},
		queue:  queue,
		cfg:    cfg,
		logger: logger,
	}
}

// Enabled reports whether outbound delivery is configured on.
func (d *Dispatcher) Enabled() bool { return d.cfg.Enabled }

// SessionCreated notifies the receiver of a new session. Returns true when
// the event was delivered or durably queued.
func (d *Dispatcher) SessionCreated(ctx context.Context, s model.SessionView) bool {
	return d.deliver(ctx, model.WebhookEventSessionCreated, s.SessionID, sessionCreatedPayload{
		EventType:  model.WebhookEventSessionCreated,
		SessionID:  s.SessionID,
		UserID:     s.UserID,
		ManualID:   s.ManualExternalID,
		TotalSteps: s.TotalSteps,
	})
}

// SessionEnded notifies the receiver of a session transition to completed
// or abandoned, whether explicit or reaped by the maintenance sweeper.
func (d *Dispatcher) SessionEnded(ctx context.Context, s model.SessionView) bool {
	return d.deliver(ctx, model.WebhookEventSessionEnded, s.SessionID, sessionEndedPayload{
		EventType:       model.WebhookEventSessionEnded,
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		ManualID:        s.ManualExternalID,
		FinalStep:       s.CurrentStep,
		TotalSteps:      s.TotalSteps,
		Status:          s.Status,
		DurationSeconds: s.DurationSeconds(),
	})
}

// ProgressUpdate notifies the receiver of a progress submission, processed
// or audit-only.
func (d *Dispatcher) ProgressUpdate(ctx context.Context, s model.SessionView, previousStep int, stepStatus model.StepStatus) bool {
	return d.deliver(ctx, model.WebhookEventProgressUpdate, s.SessionID, progressUpdatePayload{
		EventType:       model.WebhookEventProgressUpdate,
		SessionID:       s.SessionID,
		UserID:          s.UserID,
		ManualID:        s.ManualExternalID,
		PreviousStep:    previousStep,
		CurrentStep:     s.CurrentStep,
		TotalSteps:      s.TotalSteps,
		StepStatus:      stepStatus,
		SessionStatus:   s.Status,
		DurationSeconds: s.DurationSeconds(),
		IsCompleted:     s.CurrentStep > s.TotalSteps || s.Status == model.SessionStatusCompleted,
	})
}

// deliver attempts immediate delivery and falls back to the retry queue.
// The caller-visible contract is "accepted" (sent or queued, true) vs
// "dropped" (disabled, or queuing itself failed, false). Delivery outcome
// never fails the triggering operation.
func (d *Dispatcher) deliver(ctx context.Context, eventType model.WebhookEventType, sessionID string, payload any) bool {
	if !d.cfg.Enabled {
		d.logger.Debug("webhook disabled, skipping", "event_type", eventType)
		return false
	}

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("webhook: marshal payload", "event_type", eventType, "error", err)
		return false
	}

	sendErr := d.Send(ctx, d.cfg.URL, body)
	if sendErr == nil {
		d.logger.Info("webhook sent", "event_type", eventType, "session_id", sessionID)
		return true
	}
	d.logger.Warn("webhook delivery failed, queueing for retry",
		"event_type", eventType, "session_id", sessionID, "error", sendErr)

	// The failed immediate send counts as attempt 1; the next attempt is
	// scheduled after the first backoff delay.
	now := time.Now().UTC()
	errMsg := sendErr.Error()
	item := model.WebhookQueueItem{
		URL:           d.cfg.URL,
		Payload:       string(body),
		EventType:     eventType,
		SessionID:     &sessionID,
		Attempts:      1,
		MaxAttempts:   d.cfg.MaxAttempts,
		LastAttemptAt: &now,
		LastError:     &errMsg,
		NextRetryAt:   now.Add(retryDelay(d.cfg.BaseDelay, 1)),
	}
	if _, err := d.queue.EnqueueWebhook(ctx, item); err != nil {
		d.logger.Error("webhook: enqueue for retry failed, event dropped",
			"event_type", eventType, "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// Send performs one delivery attempt: POST of a JSON body to url. Any 2xx
// response is success; anything else, including timeout and transport
// errors, is failure. Shared by the immediate path and the retry worker.
func (d *Dispatcher) Send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}

// retryDelay returns the backoff delay scheduled after `attempts` completed
// delivery attempts: BaseDelay * 4^(attempts-1). With the 4s default this
// yields 4s then 16s for a 3-attempt budget — a deliberately steep
// exponential to back off quickly from a likely-down endpoint.
func retryDelay(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		return 0
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 4
	}
	return delay
}
