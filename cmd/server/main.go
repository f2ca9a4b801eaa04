// Package main provides the API server entry point for the review
// reconciliation service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/review-reconciler/internal/ai"
	"github.com/review-reconciler/internal/api"
	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/chatstatus"
	"github.com/review-reconciler/internal/circuitbreaker"
	"github.com/review-reconciler/internal/config"
	"github.com/review-reconciler/internal/linking"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/ratelimit"
	"github.com/review-reconciler/internal/storage"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	// Initialize structured logging
	logLevel := logging.ParseLogLevel(cfg.Logging.Level)
	logFormat := logging.ParseLogFormat(cfg.Logging.Format)
	logging.InitGlobalLogger(logLevel, logFormat)

	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Initialize database connections
	logger.Info("Connecting to databases...")

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// The audit table is append-only diagnostics; create it on boot so a
	// fresh ClickHouse instance needs no manual setup.
	if err := clickhouse.EnsureAuditSchema(context.Background()); err != nil {
		logger.WithError(err).Fatal("Failed to ensure audit schema")
	}

	// Initialize repositories
	linkRepo := storage.NewLinkRepository(postgres)
	jobRepo := storage.NewBackfillJobRepository(postgres)
	limitRepo := storage.NewDailyLimitRepository(postgres)
	reviewRepo := storage.NewReviewRepository(postgres)
	chatRepo := storage.NewChatRepository(postgres)
	auditRepo := storage.NewEventAuditRepository(clickhouse)
	linkCache := storage.NewLinkCache(redis, cfg.Backfill.LinkCacheTTL, logger)

	// Initialize services
	logger.Info("Initializing services...")

	linkingService, err := linking.NewService(&linking.Config{
		Links:          linkRepo,
		Reviews:        reviewRepo,
		Chats:          chatRepo,
		Cache:          linkCache,
		DeriveStatus:   chatstatus.DeriveAt,
		MatchTolerance: cfg.Backfill.MatchTolerance,
		Logger:         logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create linking service")
	}
	linkingService.AddHook(linking.CacheHook(linkCache))
	linkingService.AddHook(linking.AuditHook(auditRepo))

	ledger, err := ratelimit.NewDailyLedger(&ratelimit.DailyLedgerConfig{
		Store:        limitRepo,
		DefaultLimit: cfg.Backfill.DefaultDailyLimit,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create daily ledger")
	}

	queue, err := backfill.NewQueue(jobRepo, reviewRepo)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create backfill queue")
	}

	openai, err := ai.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.DraftTimeout, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create draft generator")
	}
	breakerCfg := circuitbreaker.DefaultConfig("draft-generator")
	breakerCfg.Logger = logger
	generator := ai.NewGuardedGenerator(openai, breakerCfg)

	worker, err := backfill.NewWorker(&backfill.WorkerConfig{
		Jobs:         jobRepo,
		Reviews:      reviewRepo,
		Ledger:       ledger,
		Generator:    generator,
		BatchSize:    cfg.Backfill.BatchSize,
		LeaseTimeout: cfg.Backfill.LeaseTimeout,
		Logger:       logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create backfill worker")
	}

	logger.Info("Services initialized")

	// Create server configuration
	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		AgentRPS:        cfg.RateLimit.AgentRPS,
		Burst:           cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, linkingService, queue, worker, ledger, auditRepo)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
