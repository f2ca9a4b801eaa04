package backfill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/review-reconciler/internal/ai"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/retry"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

// Default worker configuration values.
const (
	DefaultBatchSize     = 10
	DefaultMaxJobsPerRun = 20
	DefaultLeaseTimeout  = 30 * time.Minute
)

// Ledger hands out daily complaint submission slots.
type Ledger interface {
	Reserve(ctx context.Context, storeID string) (allowed bool, remaining int, err error)
	Release(ctx context.Context, storeID string) error
}

// Worker drains the backfill queue in bounded passes. It is built to be run
// from cron: one Run call claims up to maxJobs jobs, makes whatever progress
// today's quota allows, and returns. Jobs it had to suspend stay in_progress
// and are reclaimed by a later pass once their lease expires.
type Worker struct {
	jobs      JobStore
	reviews   ReviewStore
	ledger    Ledger
	generator ai.DraftGenerator

	workerID     string
	batchSize    int
	leaseTimeout time.Duration
	retryCfg     *retry.Config
	logger       *logging.Logger
}

// WorkerConfig holds dependencies and tuning for the worker.
type WorkerConfig struct {
	// Jobs, Reviews, Ledger and Generator are required.
	Jobs      JobStore
	Reviews   ReviewStore
	Ledger    Ledger
	Generator ai.DraftGenerator

	// WorkerID identifies this worker in job leases. Default: hostname+uuid.
	WorkerID string

	// BatchSize is how many reviews are drafted between progress writes.
	// Default: 10.
	BatchSize int

	// LeaseTimeout is how stale an in_progress claim must be before another
	// worker may take the job over. Default: 30m.
	LeaseTimeout time.Duration

	Logger *logging.Logger
}

// Validate checks if the configuration is valid.
func (c *WorkerConfig) Validate() error {
	if c.Jobs == nil {
		return errors.New("job store is required")
	}
	if c.Reviews == nil {
		return errors.New("review store is required")
	}
	if c.Ledger == nil {
		return errors.New("ledger is required")
	}
	if c.Generator == nil {
		return errors.New("draft generator is required")
	}
	if c.BatchSize < 0 {
		return errors.New("batch size cannot be negative")
	}
	if c.LeaseTimeout < 0 {
		return errors.New("lease timeout cannot be negative")
	}
	return nil
}

// NewWorker creates a worker with the given configuration.
func NewWorker(cfg *WorkerConfig) (*Worker, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	batchSize := cfg.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	leaseTimeout := cfg.LeaseTimeout
	if leaseTimeout == 0 {
		leaseTimeout = DefaultLeaseTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	return &Worker{
		jobs:         cfg.Jobs,
		reviews:      cfg.Reviews,
		ledger:       cfg.Ledger,
		generator:    cfg.Generator,
		workerID:     workerID,
		batchSize:    batchSize,
		leaseTimeout: leaseTimeout,
		retryCfg:     retry.DefaultConfig(),
		logger:       logger.WithField("workerId", workerID),
	}, nil
}

// Run executes one bounded pass: claim and process up to maxJobs jobs, then
// return the number of jobs touched. An empty queue returns early.
func (w *Worker) Run(ctx context.Context, maxJobs int) (int, error) {
	if maxJobs <= 0 {
		maxJobs = DefaultMaxJobsPerRun
	}

	processed := 0
	for processed < maxJobs {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		job, err := w.jobs.ClaimNext(ctx, w.workerID, w.leaseTimeout)
		if err != nil {
			return processed, err
		}
		if job == nil {
			break
		}

		processed++
		if err := w.processJob(ctx, job); err != nil {
			w.logger.WithError(err).WithField("jobId", job.ID).Error("backfill job pass failed")
		}
	}

	w.logger.WithField("jobs", processed).Info("backfill pass finished")
	return processed, nil
}

// processJob advances one claimed job as far as today's quota allows.
func (w *Worker) processJob(ctx context.Context, job *models.BackfillJob) error {
	logger := w.logger.WithFields(map[string]interface{}{
		"jobId":     job.ID,
		"productId": job.ProductID,
	})
	logger.WithField("progress", fmt.Sprintf("%d/%d", job.ProcessedCount, job.TotalReviews)).Info("processing backfill job")

	product, err := w.reviews.GetProduct(ctx, job.ProductID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// The one zero-progress failure case: the product is gone and no
			// review of it can ever be drafted.
			_, ferr := w.jobs.MarkFailed(ctx, job.ID, "product no longer exists")
			return ferr
		}
		return err
	}

	for {
		// Cancellation and crash recovery both hinge on batch boundaries:
		// re-read the job before each batch.
		current, err := w.jobs.GetByID(ctx, job.ID)
		if err != nil {
			return err
		}
		if current.Status != types.JobStatusInProgress {
			logger.WithField("status", string(current.Status)).Info("job no longer running, stopping")
			return nil
		}

		reviews, err := w.reviews.ListUndrafted(ctx, job.ProductID, w.batchSize)
		if err != nil {
			return err
		}
		if len(reviews) == 0 {
			// Every eligible review already has a draft. Advance by the
			// remaining gap so the completion accounting closes.
			_, err := w.jobs.Advance(ctx, job.ID, current.TotalReviews-current.ProcessedCount)
			return err
		}

		processed, suspended, err := w.draftBatch(ctx, logger, product, reviews)
		if err != nil {
			return err
		}

		if processed > 0 {
			if _, err := w.jobs.Advance(ctx, job.ID, processed); err != nil {
				return err
			}
		}
		if suspended {
			// Daily quota exhausted: leave the job in_progress for a pass on
			// a later day.
			logger.Info("daily limit reached, suspending job")
			return nil
		}
		if processed == 0 {
			// Should not happen once the empty-batch and quota cases above are
			// handled, but never spin on a batch that made no progress.
			logger.Warn("no progress in batch, stopping job pass")
			return nil
		}
	}
}

// draftBatch processes one batch of reviews: each review either gets a
// generated draft or, when generation keeps failing, a skip tombstone so the
// job can still close over it. Returns how many reviews got an outcome and
// whether the store's daily quota ran out mid-batch.
func (w *Worker) draftBatch(ctx context.Context, logger *logging.Logger, product *models.Product, reviews []*models.Review) (int, bool, error) {
	processed := 0
	for _, review := range reviews {
		if err := ctx.Err(); err != nil {
			return processed, false, err
		}

		allowed, _, err := w.ledger.Reserve(ctx, review.StoreID)
		if err != nil {
			return processed, false, err
		}
		if !allowed {
			return processed, true, nil
		}

		draft := &models.ComplaintDraft{
			ID:        uuid.New().String(),
			ReviewID:  review.ID,
			ProductID: review.ProductID,
			StoreID:   review.StoreID,
			Status:    types.DraftStatusGenerated,
		}

		text, err := w.generateDraft(ctx, product, review)
		if err != nil {
			// One bad review must not sink the job: release the slot and
			// record a skip so the review is not re-fed to every later pass.
			logger.WithError(err).WithField("reviewId", review.ID).Warn("draft generation failed, skipping review")
			if rerr := w.ledger.Release(ctx, review.StoreID); rerr != nil {
				logger.WithError(rerr).Warn("failed to release daily limit slot")
			}
			reason := err.Error()
			draft.Status = types.DraftStatusSkipped
			draft.SkipReason = &reason
		} else {
			draft.Text = text
		}

		if err := w.reviews.SaveDraft(ctx, draft); err != nil {
			return processed, false, err
		}
		processed++
	}
	return processed, false, nil
}

func (w *Worker) generateDraft(ctx context.Context, product *models.Product, review *models.Review) (string, error) {
	req := ai.DraftRequest{
		ProductTitle: product.Title,
		Rating:       review.Rating,
		ReviewText:   review.Text,
	}
	if review.Author != nil {
		req.Author = *review.Author
	}

	var text string
	err := retry.WithExponentialBackoff(ctx, w.retryCfg, func(ctx context.Context, attempt int) error {
		var genErr error
		text, genErr = w.generator.GenerateDraft(ctx, req)
		return genErr
	})
	return text, err
}
