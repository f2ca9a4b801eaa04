// Package main provides the cron-invoked backfill worker. Each invocation
// makes one bounded pass over the job queue, corrects drifted chat statuses
// and exits; scheduling lives outside the binary.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/review-reconciler/internal/ai"
	"github.com/review-reconciler/internal/backfill"
	"github.com/review-reconciler/internal/chatstatus"
	"github.com/review-reconciler/internal/circuitbreaker"
	"github.com/review-reconciler/internal/config"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/ratelimit"
	"github.com/review-reconciler/internal/storage"
)

func main() {
	var (
		maxJobs     = flag.Int("max-jobs", 0, "Maximum jobs to claim this pass (0 = configured default)")
		skipChats   = flag.Bool("skip-chat-correction", false, "Skip the chat status correction pass")
		passTimeout = flag.Duration("timeout", 4*time.Hour, "Hard deadline for the whole pass")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().WithError(err).Fatal("Failed to load configuration")
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	jobRepo := storage.NewBackfillJobRepository(postgres)
	limitRepo := storage.NewDailyLimitRepository(postgres)
	reviewRepo := storage.NewReviewRepository(postgres)
	chatRepo := storage.NewChatRepository(postgres)

	ledger, err := ratelimit.NewDailyLedger(&ratelimit.DailyLedgerConfig{
		Store:        limitRepo,
		DefaultLimit: cfg.Backfill.DefaultDailyLimit,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create daily ledger")
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

	ctx, cancel := context.WithTimeout(context.Background(), *passTimeout)
	defer cancel()

	// SIGTERM stops the pass at the next batch boundary; claimed jobs stay
	// in_progress and are reclaimed once their lease expires.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("Signal received, stopping pass")
		cancel()
	}()

	jobs := *maxJobs
	if jobs <= 0 {
		jobs = cfg.Backfill.MaxJobsPerRun
	}

	processed, err := worker.Run(ctx, jobs)
	if err != nil {
		logger.WithError(err).Error("Backfill pass ended with error")
	}
	logger.WithField("jobs", processed).Info("Backfill pass complete")

	if !*skipChats {
		corrector := chatstatus.NewCorrector(chatRepo, 0, logger)
		fixed, err := corrector.Run(ctx)
		if err != nil {
			logger.WithError(err).Error("Chat status correction ended with error")
		}
		logger.WithField("chats", fixed).Info("Chat status correction complete")
	}
}
