package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/michibiki/internal/maintenance"
	"github.com/ashita-ai/michibiki/internal/progress"
	"github.com/ashita-ai/michibiki/internal/ratelimit"
	"github.com/ashita-ai/michibiki/internal/service/manuals"
	"github.com/ashita-ai/michibiki/internal/service/messages"
	"github.com/ashita-ai/michibiki/internal/service/sessions"
	"github.com/ashita-ai/michibiki/internal/storage"
)

// Server is the michibiki HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. Limiter is optional (nil = no rate limiting).
type ServerConfig struct {
	DB         *storage.DB
	ManualSvc  *manuals.Service
	SessionSvc *sessions.Service
	MessageSvc *messages.Service
	Engine     *progress.Engine
	Reaper     *maintenance.Reaper
	Logger     *slog.Logger

	Limiter ratelimit.Limiter

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	RetryInterval      time.Duration
	WebhookMaxAttempts int
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:         cfg.DB,
		ManualSvc:  cfg.ManualSvc,
		SessionSvc: cfg.SessionSvc,
		MessageSvc: cfg.MessageSvc,
		Engine:     cfg.Engine,
		Reaper:     cfg.Reaper,
		Logger:     cfg.Logger,
		Version:    cfg.Version,

		RetryInterval:      cfg.RetryInterval,
		WebhookMaxAttempts: cfg.WebhookMaxAttempts,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	rl := ratelimit.Middleware(cfg.Limiter, ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Manuals.
	mux.Handle("POST /v1/manuals", rl(http.HandlerFunc(h.HandleCreateManual)))
	mux.Handle("GET /v1/manuals", rl(http.HandlerFunc(h.HandleListManuals)))
	mux.Handle("GET /v1/manuals/{manual_id}", rl(http.HandlerFunc(h.HandleGetManual)))
	mux.Handle("DELETE /v1/manuals/{manual_id}", rl(http.HandlerFunc(h.HandleDeleteManual)))

	// Sessions.
	mux.Handle("POST /v1/sessions", rl(http.HandlerFunc(h.HandleCreateSession)))
	mux.Handle("GET /v1/sessions", rl(http.HandlerFunc(h.HandleListSessions)))
	mux.Handle("GET /v1/sessions/{session_id}", rl(http.HandlerFunc(h.HandleGetSession)))
	mux.Handle("PATCH /v1/sessions/{session_id}", rl(http.HandlerFunc(h.HandleUpdateSession)))
	mux.Handle("DELETE /v1/sessions/{session_id}", rl(http.HandlerFunc(h.HandleDeleteSession)))

	// Progress.
	mux.Handle("POST /v1/sessions/{session_id}/progress", rl(http.HandlerFunc(h.HandleSubmitProgress)))
	mux.Handle("GET /v1/sessions/{session_id}/progress", rl(http.HandlerFunc(h.HandleProgressHistory)))
	mux.Handle("GET /v1/sessions/{session_id}/next-step", rl(http.HandlerFunc(h.HandleNextStep)))

	// Conversation transcript.
	mux.Handle("POST /v1/sessions/{session_id}/messages", rl(http.HandlerFunc(h.HandleAddMessage)))
	mux.Handle("GET /v1/sessions/{session_id}/messages", rl(http.HandlerFunc(h.HandleListMessages)))

	// Analytics.
	mux.Handle("GET /v1/analytics/overview", rl(http.HandlerFunc(h.HandleAnalyticsOverview)))
	mux.Handle("GET /v1/analytics/recent", rl(http.HandlerFunc(h.HandleAnalyticsRecent)))
	mux.Handle("GET /v1/analytics/popular-manuals", rl(http.HandlerFunc(h.HandleAnalyticsPopular)))
	mux.Handle("GET /v1/analytics/users/{user_id}", rl(http.HandlerFunc(h.HandleAnalyticsUser)))
	mux.Handle("GET /v1/analytics/manuals/{manual_id}/steps", rl(http.HandlerFunc(h.HandleAnalyticsSteps)))

	// Operational introspection.
	mux.Handle("GET /v1/webhooks/queue/stats", rl(http.HandlerFunc(h.HandleQueueStats)))
	mux.Handle("GET /v1/maintenance/stats", rl(http.HandlerFunc(h.HandleMaintenanceStats)))

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → body limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = bodyLimitMiddleware(cfg.MaxRequestBodyBytes, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
