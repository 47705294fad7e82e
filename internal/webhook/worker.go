package webhook

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/telemetry"
	"github.com/google/uuid"
)

// RetryStore is the queue surface the worker drains. Implemented by
// *storage.DB.
type RetryStore interface {
	DuePendingWebhooks(ctx context.Context, now time.Time, limit int) ([]model.WebhookQueueItem, error)
	MarkWebhookSuccess(ctx context.Context, id uuid.UUID, attempts int, attemptedAt time.Time) error
	MarkWebhookFailure(ctx context.Context, id uuid.UUID, attempts int, attemptedAt time.Time, lastError string, nextRetryAt time.Time, terminal bool) error
	CountPendingWebhooks(ctx context.Context) (int64, error)
}

// Worker polls the webhook queue and retries due items with exponential
// backoff. One worker instance per deployment; items are processed oldest
// due first, each item's outcome isolated from the rest of the batch.
type Worker struct {
	store      RetryStore
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
	batchSize  int
	baseDelay  time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final sweep
}

// NewWorker creates a retry worker. interval is the poll period, batchSize
// the per-sweep item cap, baseDelay the backoff base.
func NewWorker(store RetryStore, dispatcher *Dispatcher, logger *slog.Logger, interval time.Duration, batchSize int, baseDelay time.Duration) *Worker {
	return &Worker{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   interval,
		batchSize:  batchSize,
		baseDelay:  baseDelay,
		done:       make(chan struct{}),
		drainCh:    make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (w *Worker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		w.logger.Warn("webhook worker: Start called more than once, ignoring")
		return
	}
	w.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancelLoop = cancel
	go w.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, runs one final sweep, and blocks
// until done or the context expires. The ctx parameter is passed to the
// final sweep so it respects the caller's deadline.
func (w *Worker) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case w.drainCh <- ctx:
	default:
	}
	if w.cancelLoop != nil {
		w.cancelLoop()
	}
	select {
	case <-w.done:
	case <-ctx.Done():
		w.logger.Warn("webhook worker: drain timed out")
	}
}

func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			var drainCtx context.Context
			select {
			case drainCtx = <-w.drainCh:
			default:
			}
			if drainCtx != nil {
				w.ProcessDue(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				w.ProcessDue(fallbackCtx)
				cancel()
			}
			w.once.Do(func() { close(w.done) })
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			w.ProcessDue(sweepCtx)
			cancel()
		}
	}
}

// ProcessDue runs one sweep: select due items, attempt each, record the
// outcome. Exported so tests and the final drain can pump the queue
// directly. Returns the number of items attempted.
func (w *Worker) ProcessDue(ctx context.Context) int {
	now := time.Now().UTC()
	items, err := w.store.DuePendingWebhooks(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Error("webhook worker: select due items", "error", err)
		return 0
	}
	for _, item := range items {
		w.processItem(ctx, item)
	}
	return len(items)
}

// processItem makes one delivery attempt for a queued item. A failure here
// never aborts the sweep: each item's state is written back independently.
func (w *Worker) processItem(ctx context.Context, item model.WebhookQueueItem) {
	attemptedAt := time.Now().UTC()
	attempts := item.Attempts + 1

	sendErr := w.dispatcher.Send(ctx, item.URL, []byte(item.Payload))
	if sendErr == nil {
		if err := w.store.MarkWebhookSuccess(ctx, item.ID, attempts, attemptedAt); err != nil {
			// The POST landed but the bookkeeping write failed; the item stays
			// pending and will be redelivered. At-least-once holds either way.
			w.logger.Error("webhook worker: mark success", "item_id", item.ID, "error", err)
			return
		}
		w.logger.Info("webhook retry succeeded",
			"item_id", item.ID, "event_type", item.EventType, "attempts", attempts)
		return
	}

	terminal := attempts >= item.MaxAttempts
	nextRetryAt := attemptedAt.Add(retryDelay(w.baseDelay, attempts))
	if err := w.store.MarkWebhookFailure(ctx, item.ID, attempts, attemptedAt, sendErr.Error(), nextRetryAt, terminal); err != nil {
		w.logger.Error("webhook worker: mark failure", "item_id", item.ID, "error", err)
		return
	}
	if terminal {
		w.logger.Warn("webhook permanently failed",
			"item_id", item.ID, "event_type", item.EventType, "attempts", attempts, "error", sendErr)
		return
	}
	w.logger.Info("webhook retry failed, rescheduled",
		"item_id", item.ID, "event_type", item.EventType, "attempts", attempts,
		"next_retry_at", nextRetryAt, "error", sendErr)
}

// registerMetrics registers an observable OTEL gauge for queue depth.
func (w *Worker) registerMetrics() {
	meter := telemetry.Meter("michibiki/webhook")

	_, _ = meter.Int64ObservableGauge("michibiki.webhook.queue.pending",
		metric.WithDescription("Number of pending items in the webhook retry queue"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count, err := w.store.CountPendingWebhooks(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}
