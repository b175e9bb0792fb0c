package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venuehq/webhook-ingestion/internal/api"
	"github.com/venuehq/webhook-ingestion/internal/config"
	"github.com/venuehq/webhook-ingestion/internal/engine"
	"github.com/venuehq/webhook-ingestion/internal/ingest"
	"github.com/venuehq/webhook-ingestion/internal/lock"
	"github.com/venuehq/webhook-ingestion/internal/retry"
	"github.com/venuehq/webhook-ingestion/internal/store"
	"github.com/venuehq/webhook-ingestion/internal/sweeper"
	"github.com/venuehq/webhook-ingestion/internal/tenant"
	"github.com/venuehq/webhook-ingestion/internal/verify"
	"github.com/venuehq/webhook-ingestion/migrations"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, migrations.FS); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	// Assemble the ingestion pipeline
	registry := ingest.NewRegistry()
	registerHandlers(registry, cfg.VenueServiceURL, logger)

	coordinator := ingest.NewCoordinator(
		pgStore,
		lock.NewManager(redisStore.Client(), cfg.LockTTL),
		verify.New(cfg.Secrets, cfg.SignatureTolerance),
		tenant.NewValidator(tenant.NewHTTPResolver(cfg.VenueServiceURL)),
		retry.NewPolicy(cfg.MaxRetries, cfg.RetryCooldown),
		registry,
		logger,
	)

	limiter := engine.NewRateLimiter(redisStore.Client(), logger)
	webhookHandler := api.NewWebhookHandler(coordinator, limiter, cfg.RateLimitPerSecond, logger)
	eventHandler := api.NewEventHandler(pgStore, coordinator)
	router := api.NewRouter(webhookHandler, eventHandler, cfg.AdminAPIKey)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	sw := sweeper.New(
		pgStore, coordinator, logger,
		cfg.SweepInterval, cfg.RetentionPeriod, cfg.LockTTL, cfg.RetrySweepEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sw.Start(gctx)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
