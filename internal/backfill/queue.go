// Package backfill retroactively drafts complaints for a product's historical
// negative reviews: a Postgres-backed job queue plus a bounded worker pass.
package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

// JobStore is the persistence surface for backfill jobs.
type JobStore interface {
	Create(ctx context.Context, job *models.BackfillJob) (*models.BackfillJob, error)
	GetByID(ctx context.Context, jobID string) (*models.BackfillJob, error)
	ClaimNext(ctx context.Context, workerID string, leaseTimeout time.Duration) (*models.BackfillJob, error)
	Advance(ctx context.Context, jobID string, delta int) (*models.BackfillJob, error)
	Cancel(ctx context.Context, jobID string) (*models.BackfillJob, error)
	MarkFailed(ctx context.Context, jobID, reason string) (*models.BackfillJob, error)
	ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.BackfillJob, error)
}

// ReviewStore is the review/draft surface the queue and worker consume.
type ReviewStore interface {
	GetProduct(ctx context.Context, productID string) (*models.Product, error)
	CountEligible(ctx context.Context, productID string) (int, error)
	ListUndrafted(ctx context.Context, productID string, limit int) ([]*models.Review, error)
	SaveDraft(ctx context.Context, draft *models.ComplaintDraft) error
}

// CreateJobInput describes a requested backfill job.
type CreateJobInput struct {
	ProductID   string
	Priority    int
	TriggeredBy string
}

// Queue is the job lifecycle service behind the backfill API.
type Queue struct {
	jobs    JobStore
	reviews ReviewStore
}

// NewQueue creates a backfill job queue service.
func NewQueue(jobs JobStore, reviews ReviewStore) (*Queue, error) {
	if jobs == nil {
		return nil, errors.New("job store cannot be nil")
	}
	if reviews == nil {
		return nil, errors.New("review store cannot be nil")
	}
	return &Queue{jobs: jobs, reviews: reviews}, nil
}

// CreateJob validates the product, precomputes the job's total and enqueues
// it. A product with a non-terminal job returns ErrAlreadyInProgress; a
// product with no eligible reviews gets no job at all.
func (q *Queue) CreateJob(ctx context.Context, input CreateJobInput) (*models.BackfillJob, error) {
	if input.ProductID == "" {
		return nil, errors.New("product id is required")
	}

	product, err := q.reviews.GetProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}

	total, err := q.reviews.CountEligible(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, ErrNothingToBackfill
	}

	triggeredBy := input.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = "api"
	}

	return q.jobs.Create(ctx, &models.BackfillJob{
		ID:           uuid.New().String(),
		ProductID:    product.ID,
		StoreID:      product.StoreID,
		OwnerID:      product.StoreID,
		Priority:     input.Priority,
		TotalReviews: total,
		TriggeredBy:  triggeredBy,
	})
}

// GetJob retrieves a job by id.
func (q *Queue) GetJob(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	return q.jobs.GetByID(ctx, jobID)
}

// CancelJob cancels a pending or running job. A running worker notices at its
// next batch boundary; already-generated drafts are kept.
func (q *Queue) CancelJob(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	return q.jobs.Cancel(ctx, jobID)
}

// ListJobs retrieves jobs by status in queue order.
func (q *Queue) ListJobs(ctx context.Context, status types.JobStatus, limit int) ([]*models.BackfillJob, error) {
	if limit <= 0 {
		limit = 100
	}
	return q.jobs.ListByStatus(ctx, status, limit)
}

// ErrNothingToBackfill is returned when the product has no complaint-eligible
// reviews, so a job would complete vacuously.
var ErrNothingToBackfill = errors.New("product has no reviews eligible for complaint backfill")

// compile-time interface checks against the concrete repositories
var (
	_ JobStore    = (*storage.BackfillJobRepository)(nil)
	_ ReviewStore = (*storage.ReviewRepository)(nil)
)
