package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/michibiki/internal/maintenance"
	"github.com/ashita-ai/michibiki/internal/progress"
	"github.com/ashita-ai/michibiki/internal/service/manuals"
	"github.com/ashita-ai/michibiki/internal/service/messages"
	"github.com/ashita-ai/michibiki/internal/service/sessions"
	"github.com/ashita-ai/michibiki/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db         *storage.DB
	manualSvc  *manuals.Service
	sessionSvc *sessions.Service
	messageSvc *messages.Service
	engine     *progress.Engine
	reaper     *maintenance.Reaper
	logger     *slog.Logger
	startedAt  time.Time
	version    string

	retryInterval      time.Duration
	webhookMaxAttempts int
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB         *storage.DB
	ManualSvc  *manuals.Service
	SessionSvc *sessions.Service
	MessageSvc *messages.Service
	Engine     *progress.Engine
	Reaper     *maintenance.Reaper
	Logger     *slog.Logger
	Version    string

	// Retry settings echoed by the queue inspection endpoint.
	RetryInterval      time.Duration
	WebhookMaxAttempts int
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:         d.DB,
		manualSvc:  d.ManualSvc,
		sessionSvc: d.SessionSvc,
		messageSvc: d.MessageSvc,
		engine:     d.Engine,
		reaper:     d.Reaper,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,

		retryInterval:      d.RetryInterval,
		webhookMaxAttempts: d.WebhookMaxAttempts,
	}
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
		h.logger.Error("health: database ping failed", "error", err)
	}
	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	})
}

// HandleQueueStats handles GET /v1/webhooks/queue/stats.
func (h *Handlers) HandleQueueStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.db.WebhookQueueStats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	stats.RetryIntervalSeconds = int(h.retryInterval.Seconds())
	stats.MaxAttempts = h.webhookMaxAttempts
	writeJSON(w, r, http.StatusOK, stats)
}

// HandleMaintenanceStats handles GET /v1/maintenance/stats.
func (h *Handlers) HandleMaintenanceStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reaper.Stats(r.Context())
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, stats)
}

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// parsePage extracts limit/offset query parameters with clamped defaults.
func parsePage(r *http.Request) (limit, offset int) {
	limit = defaultPageLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, maxPageLimit)
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
