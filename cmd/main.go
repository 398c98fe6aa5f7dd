/**
 * @description
 * This is the main entry point for the entitlement service.
 * It initializes and wires together all the components of the application:
 * configuration, database connection pool, Redis rate limiter, RabbitMQ
 * producer, repository, services, the cron scheduler for the expiration
 * sweeper, and the HTTP router. Finally, it starts the HTTP server.
 */
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/rreusch2/parleyapp-sub015/internal/api"
	"github.com/rreusch2/parleyapp-sub015/internal/app"
	"github.com/rreusch2/parleyapp-sub015/internal/config"
	"github.com/rreusch2/parleyapp-sub015/internal/store"
	"github.com/rreusch2/parleyapp-sub015/pkg/rabbitmq"
)

func main() {
	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load .env for local development; environment variables win in deployment.
	if err := godotenv.Load(); err != nil {
		logger.Info("no .env file found, relying on environment variables")
	}

	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Establish connection to the PostgreSQL database with connection pool configuration
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Error("unable to parse database URL", "error", err)
		os.Exit(1)
	}

	// Configure connection pool for high-traffic scenarios
	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// IMPORTANT: Disable prepared statements to work with PgBouncer transaction pooling
	// Use simple protocol to avoid statement cache errors (SQLSTATE 42P05)
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Error("unable to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbpool.Close()
	logger.Info("database connection established")

	// RabbitMQ producer for the audit/notification hook; fall back to a no-op
	// publisher so a broker outage never blocks entitlement processing.
	var publisher app.EventPublisher
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			logger.Warn("rabbitmq unavailable, using no-op publisher", "error", err)
			publisher = &rabbitmq.EventProducerFallback{}
		} else {
			defer producer.Close()
			publisher = producer
			logger.Info("rabbitmq connection established")
		}
	} else {
		publisher = &rabbitmq.EventProducerFallback{}
	}

	// Optional Redis-backed rate limiter for the redemption endpoint.
	var limiter *app.RedisRateLimiter
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid REDIS_URL, redemption rate limiting disabled", "error", err)
		} else {
			redisClient := redis.NewClient(redisOpts)
			defer redisClient.Close()
			limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix)
		}
	}

	// Initialize application layers
	repository := store.NewPostgresRepository(dbpool)
	service := app.NewService(repository, publisher, logger, time.Duration(cfg.DayPassDurationHours)*time.Hour)
	processor := app.NewWebhookProcessor(repository, publisher, logger, "provider", cfg.WebhookUnresolvedAlertAttempts)
	jobs := app.NewJobs(repository, processor, publisher, logger, app.SweeperConfig{
		ExpiryWarningWindow: time.Duration(cfg.ExpiryWarningWindowMinutes) * time.Minute,
		ReprocessMaxAge:     time.Duration(cfg.WebhookRetryMaxAgeDays) * 24 * time.Hour,
	})

	// Start the cron scheduler for the sweeper, expiry warnings, and webhook
	// reprocessing in the background.
	scheduler := app.NewScheduler(jobs, logger, app.ScheduleConfig{
		SweepSchedule:         cfg.SweepSchedule,
		ExpiryWarningSchedule: cfg.ExpiryWarningSchedule,
		ReprocessSchedule:     cfg.WebhookReprocessSchedule,
	})
	scheduler.Start()
	logger.Info("scheduler started")

	handler := api.NewHandler(service, processor, jobs, limiter, logger, cfg.ProviderWebhookSecret, cfg.RedeemRateLimitPerMinute)
	router := api.NewRouter(handler, cfg.ClerkJWKSURL, cfg.InternalAPIKey)

	// Configure and start the HTTP server
	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: router,
	}

	go func() {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for an OS signal
	<-sigCh
	logger.Info("shutdown signal received, gracefully shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}

	// Stop the scheduler and wait for in-flight jobs to finish.
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()

	logger.Info("server stopped")
}
