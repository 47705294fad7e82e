package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ashita-ai/michibiki/internal/model"
)

// EnqueueWebhook persists a delivery task. Attempts reflects completed
// delivery attempts at enqueue time: 1 when queued after a failed immediate
// send (with NextRetryAt already backed off), 0 when queued without a prior
// attempt (NextRetryAt = now).
func (db *DB) EnqueueWebhook(ctx context.Context, item model.WebhookQueueItem) (model.WebhookQueueItem, error) {
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now
	}
	item.Status = model.WebhookStatusPending

	_, err := db.pool.Exec(ctx,
		`INSERT INTO webhook_queue (id, url, payload, event_type, session_id, attempts, max_attempts,
		 last_attempt_at, last_error, status, next_retry_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		item.ID, item.URL, item.Payload, string(item.EventType), item.SessionID,
		item.Attempts, item.MaxAttempts, item.LastAttemptAt, item.LastError,
		string(item.Status), item.NextRetryAt, item.CreatedAt,
	)
	if err != nil {
		return model.WebhookQueueItem{}, fmt.Errorf("storage: enqueue webhook: %w", err)
	}
	return item, nil
}

// DuePendingWebhooks returns up to limit pending items whose next_retry_at
// has passed, oldest due first. Single-sweeper deployment is assumed: no
// claim marker or SKIP LOCKED is taken here.
func (db *DB) DuePendingWebhooks(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueItem, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, url, payload, event_type, session_id, attempts, max_attempts,
		 last_attempt_at, last_error, status, next_retry_at, created_at
		 FROM webhook_queue
		 WHERE status = 'pending' AND next_retry_at <= $1
		 ORDER BY next_retry_at ASC
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select due webhooks: %w", err)
	}
	defer rows.Close()

	var items []model.WebhookQueueItem
	for rows.Next() {
		var item model.WebhookQueueItem
		var eventType, status string
		if err := rows.Scan(
			&item.ID, &item.URL, &item.Payload, &eventType, &item.SessionID,
			&item.Attempts, &item.MaxAttempts, &item.LastAttemptAt, &item.LastError,
			&status, &item.NextRetryAt, &item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage: scan webhook item: %w", err)
		}
		item.EventType = model.WebhookEventType(eventType)
		item.Status = model.WebhookStatus(status)
		items = append(items, item)
	}
	return items, rows.Err()
}

// MarkWebhookSuccess finalizes a delivered item.
func (db *DB) MarkWebhookSuccess(ctx context.Context, id uuid.UUID, attempts int, attemptedAt time.Time) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE webhook_queue
		 SET status = 'success', attempts = $2, last_attempt_at = $3, last_error = NULL
		 WHERE id = $1`,
		id, attempts, attemptedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: mark webhook success: %w", err)
	}
	return nil
}

// MarkWebhookFailure records a failed attempt. When terminal, the item
// moves to the failed status and is never retried; otherwise nextRetryAt
// schedules the next attempt.
func (db *DB) MarkWebhookFailure(ctx context.Context, id uuid.UUID, attempts int, attemptedAt time.Time, lastError string, nextRetryAt time.Time, terminal bool) error {
	status := model.WebhookStatusPending
	if terminal {
		status = model.WebhookStatusFailed
	}
	_, err := db.pool.Exec(ctx,
		`UPDATE webhook_queue
		 SET status = $2, attempts = $3, last_attempt_at = $4, last_error = $5, next_retry_at = $6
		 WHERE id = $1`,
		id, string(status), attempts, attemptedAt, lastError, nextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("storage: mark webhook failure: %w", err)
	}
	return nil
}

// WebhookQueueStats counts queue items by status.
func (db *DB) WebhookQueueStats(ctx context.Context) (model.WebhookQueueStats, error) {
	var stats model.WebhookQueueStats
	err := db.pool.QueryRow(ctx,
		`SELECT
		     COUNT(*) FILTER (WHERE status = 'pending'),
		     COUNT(*) FILTER (WHERE status = 'success'),
		     COUNT(*) FILTER (WHERE status = 'failed')
		 FROM webhook_queue`,
	).Scan(&stats.Pending, &stats.Success, &stats.Failed)
	if err != nil {
		return model.WebhookQueueStats{}, fmt.Errorf("storage: webhook queue stats: %w", err)
	}
	return stats, nil
}

// CountPendingWebhooks returns the pending queue depth (for metrics).
func (db *DB) CountPendingWebhooks(ctx context.Context) (int64, error) {
	var count int64
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM webhook_queue WHERE status = 'pending'`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("storage: count pending webhooks: %w", err)
	}
	return count, nil
}
