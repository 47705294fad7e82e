// Package maintenance runs background housekeeping over sessions.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/michibiki/internal/model"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/telemetry"
	"github.com/ashita-ai/michibiki/internal/webhook"
)

// Reaper periodically abandons active sessions with no activity for longer
// than the configured timeout. Each reaped session gets a session_ended
// notification, same as an explicit termination.
type Reaper struct {
	db             *storage.DB
	hooks          *webhook.Dispatcher
	logger         *slog.Logger
	interval       time.Duration
	sessionTimeout time.Duration

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context
}

// NewReaper creates a session reaper. interval is the sweep period,
// sessionTimeout the idle threshold past which an active session is
// considered abandoned.
func NewReaper(db *storage.DB, hooks *webhook.Dispatcher, logger *slog.Logger, interval, sessionTimeout time.Duration) *Reaper {
	return &Reaper{
		db:             db,
		hooks:          hooks,
		logger:         logger,
		interval:       interval,
		sessionTimeout: sessionTimeout,
		done:           make(chan struct{}),
		drainCh:        make(chan context.Context, 1),
	}
}

// Start begins the background sweep loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (r *Reaper) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("reaper: Start called more than once, ignoring")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.sweepLoop(loopCtx)
}

// Drain signals the sweep loop to stop and blocks until done or the
// context expires. No final sweep is run: an idle session missed at
// shutdown is simply reaped by the next process.
func (r *Reaper) Drain(ctx context.Context) {
	select {
	case r.drainCh <- ctx:
	default:
	}
	if r.cancelLoop != nil {
		r.cancelLoop()
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		r.logger.Warn("reaper: drain timed out")
	}
}

func (r *Reaper) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			select {
			case <-r.drainCh:
			default:
			}
			r.once.Do(func() { close(r.done) })
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			r.Sweep(sweepCtx)
			cancel()
		}
	}
}

// Sweep runs one pass: abandon every active session idle past the timeout
// and notify per reaped session. Exported so tests can invoke a pass
// directly. Returns the number of sessions reaped.
func (r *Reaper) Sweep(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-r.sessionTimeout)
	reaped, err := r.db.ReapStaleSessions(ctx, cutoff)
	if err != nil {
		r.logger.Error("reaper: sweep failed", "error", err)
		return 0
	}
	if len(reaped) == 0 {
		return 0
	}

	r.logger.Info("reaper: abandoned stale sessions", "count", len(reaped), "cutoff", cutoff)
	for _, view := range reaped {
		r.hooks.SessionEnded(ctx, view)
	}
	return len(reaped)
}

// Stats reports sweeper configuration and the current at-risk population.
func (r *Reaper) Stats(ctx context.Context) (model.MaintenanceStats, error) {
	active, err := r.db.CountActiveSessions(ctx)
	if err != nil {
		return model.MaintenanceStats{}, err
	}
	// At risk: already idle for more than half the timeout.
	atRiskCutoff := time.Now().UTC().Add(-r.sessionTimeout / 2)
	atRisk, err := r.db.CountActiveSessionsIdleSince(ctx, atRiskCutoff)
	if err != nil {
		return model.MaintenanceStats{}, err
	}
	queue, err := r.db.WebhookQueueStats(ctx)
	if err != nil {
		return model.MaintenanceStats{}, err
	}

	return model.MaintenanceStats{
		CleanupIntervalSeconds: int(r.interval.Seconds()),
		SessionTimeoutMinutes:  int(r.sessionTimeout.Minutes()),
		ActiveSessions:         active,
		SessionsAtRisk:         atRisk,
		WebhookQueue:           queue,
	}, nil
}

// registerMetrics registers an observable OTEL gauge for the active
// session population.
func (r *Reaper) registerMetrics() {
	meter := telemetry.Meter("michibiki/maintenance")

	_, _ = meter.Int64ObservableGauge("michibiki.sessions.active",
		metric.WithDescription("Number of sessions currently in the active status"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			count, err := r.db.CountActiveSessions(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(count)
			return nil
		}),
	)
}
