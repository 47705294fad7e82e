// Command michibiki runs the manual session tracking service: HTTP API,
// webhook retry worker, and session maintenance sweeper in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/michibiki/internal/config"
	"github.com/ashita-ai/michibiki/internal/maintenance"
	"github.com/ashita-ai/michibiki/internal/progress"
	"github.com/ashita-ai/michibiki/internal/ratelimit"
	"github.com/ashita-ai/michibiki/internal/server"
	"github.com/ashita-ai/michibiki/internal/service/manuals"
	"github.com/ashita-ai/michibiki/internal/service/messages"
	"github.com/ashita-ai/michibiki/internal/service/sessions"
	"github.com/ashita-ai/michibiki/internal/storage"
	"github.com/ashita-ai/michibiki/internal/telemetry"
	"github.com/ashita-ai/michibiki/internal/webhook"
	"github.com/ashita-ai/michibiki/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("MICHIBIKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("michibiki starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Connect to database.
	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	// Register connection pool OTEL metrics (after telemetry.Init).
	db.RegisterPoolMetrics()

	// Apply embedded migrations.
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Webhook delivery: immediate dispatch plus the durable retry worker.
	dispatcher := webhook.NewDispatcher(db, webhook.Config{
		URL:         cfg.WebhookURL,
		Timeout:     cfg.WebhookTimeout,
		Enabled:     cfg.WebhookEnabled,
		MaxAttempts: cfg.WebhookMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
	}, logger)
	retryWorker := webhook.NewWorker(db, dispatcher, logger, cfg.RetryInterval, cfg.RetryBatchSize, cfg.RetryBaseDelay)
	retryWorker.Start(ctx)

	// Session maintenance sweeper.
	reaper := maintenance.NewReaper(db, dispatcher, logger, cfg.CleanupInterval, cfg.SessionTimeout)
	reaper.Start(ctx)

	// Services.
	manualSvc := manuals.New(db, logger)
	sessionSvc := sessions.New(db, dispatcher, logger)
	messageSvc := messages.New(db, logger)
	engine := progress.NewEngine(db, dispatcher, logger)

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		ManualSvc:           manualSvc,
		SessionSvc:          sessionSvc,
		MessageSvc:          messageSvc,
		Engine:              engine,
		Reaper:              reaper,
		Logger:              logger,
		Limiter:             limiter,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		RetryInterval:       cfg.RetryInterval,
		WebhookMaxAttempts:  cfg.WebhookMaxAttempts,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Order: (1) stop accepting new HTTP requests and
	// drain in-flight ones (they may still enqueue webhooks), (2) drain the
	// retry worker so queued deliveries get a final attempt, (3) stop the
	// sweeper. Each phase gets its own timeout so early completion doesn't
	// steal budget from later phases.
	slog.Info("michibiki shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	g, gctx := errgroup.WithContext(drainCtx)
	g.Go(func() error {
		retryWorker.Drain(gctx)
		return nil
	})
	g.Go(func() error {
		reaper.Drain(gctx)
		return nil
	})
	_ = g.Wait()

	slog.Info("michibiki stopped")
	return nil
}
