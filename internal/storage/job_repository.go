package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/types"
)

// jobColumns is the canonical column list for complaint_backfill_jobs scans.
const jobColumns = `
	id, product_id, store_id, owner_id, priority, status,
	total_reviews, processed_count, triggered_by,
	claimed_by, claimed_at, error, created_at, completed_at
`

// uniqueViolation is the Postgres error code for unique constraint violations.
const uniqueViolation = "23505"

// BackfillJobRepository handles complaint backfill job persistence
type BackfillJobRepository struct {
	db *PostgresDB
}

// NewBackfillJobRepository creates a new backfill job repository
func NewBackfillJobRepository(db *PostgresDB) *BackfillJobRepository {
	return &BackfillJobRepository{db: db}
}

func scanJob(row pgx.Row) (*models.BackfillJob, error) {
	var job models.BackfillJob
	err := row.Scan(
		&job.ID,
		&job.ProductID,
		&job.StoreID,
		&job.OwnerID,
		&job.Priority,
		&job.Status,
		&job.TotalReviews,
		&job.ProcessedCount,
		&job.TriggeredBy,
		&job.ClaimedBy,
		&job.ClaimedAt,
		&job.Error,
		&job.CreatedAt,
		&job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// Create inserts a pending job. A partial unique index on product_id over
// non-terminal statuses enforces the one-active-job-per-product invariant,
// so duplicate creation surfaces as ErrAlreadyInProgress.
func (r *BackfillJobRepository) Create(ctx context.Context, job *models.BackfillJob) (*models.BackfillJob, error) {
	query := fmt.Sprintf(`
		INSERT INTO complaint_backfill_jobs (
			id, product_id, store_id, owner_id, priority, status,
			total_reviews, processed_count, triggered_by
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
		RETURNING %s
	`, jobColumns)

	created, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		job.ID,
		job.ProductID,
		job.StoreID,
		job.OwnerID,
		job.Priority,
		types.JobStatusPending,
		job.TotalReviews,
		job.TriggeredBy,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyInProgress
		}
		return nil, fmt.Errorf("failed to create backfill job: %w", err)
	}

	return created, nil
}

// GetByID retrieves a backfill job by ID
func (r *BackfillJobRepository) GetByID(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM complaint_backfill_jobs WHERE id = $1`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get backfill job: %w", err)
	}
	return job, nil
}

// ClaimNext atomically claims the next runnable job for a worker: the highest
// priority pending job, FIFO on ties, including in_progress jobs whose lease
// has expired (crash recovery). Returns (nil, nil) when nothing is claimable.
// FOR UPDATE SKIP LOCKED guarantees two concurrent workers never claim the
// same row.
func (r *BackfillJobRepository) ClaimNext(ctx context.Context, workerID string, leaseTimeout time.Duration) (*models.BackfillJob, error) {
	query := fmt.Sprintf(`
		UPDATE complaint_backfill_jobs
		SET status = $2, claimed_by = $1, claimed_at = now()
		WHERE id = (
			SELECT id FROM complaint_backfill_jobs
			WHERE status = $3
			   OR (status = $2 AND claimed_at < now() - $4::interval)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s
	`, jobColumns)

	interval := fmt.Sprintf("%d seconds", int(leaseTimeout.Seconds()))

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		workerID,
		types.JobStatusInProgress,
		types.JobStatusPending,
		interval,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to claim backfill job: %w", err)
	}

	return job, nil
}

// Advance increments processed_count by delta, capped at total_reviews, and
// completes the job exactly once when the cap is reached. processed_count
// never decreases; advancing a non-in_progress job returns ErrInvalidTransition.
func (r *BackfillJobRepository) Advance(ctx context.Context, jobID string, delta int) (*models.BackfillJob, error) {
	if delta < 0 {
		return nil, fmt.Errorf("advance delta must be non-negative, got %d", delta)
	}

	query := fmt.Sprintf(`
		UPDATE complaint_backfill_jobs
		SET processed_count = LEAST(total_reviews, processed_count + $2),
			status = CASE
				WHEN LEAST(total_reviews, processed_count + $2) >= total_reviews THEN $3
				ELSE status
			END,
			completed_at = CASE
				WHEN LEAST(total_reviews, processed_count + $2) >= total_reviews AND completed_at IS NULL THEN now()
				ELSE completed_at
			END
		WHERE id = $1 AND status = $4
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		jobID, delta,
		types.JobStatusCompleted,
		types.JobStatusInProgress,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to advance backfill job: %w", err)
	}

	return job, nil
}

// Cancel moves a pending or in_progress job to cancelled. Terminal jobs
// return ErrAlreadyTerminal.
func (r *BackfillJobRepository) Cancel(ctx context.Context, jobID string) (*models.BackfillJob, error) {
	query := fmt.Sprintf(`
		UPDATE complaint_backfill_jobs
		SET status = $2, completed_at = now()
		WHERE id = $1 AND status IN ($3, $4)
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		jobID,
		types.JobStatusCancelled,
		types.JobStatusPending,
		types.JobStatusInProgress,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrAlreadyTerminal
		}
		return nil, fmt.Errorf("failed to cancel backfill job: %w", err)
	}

	return job, nil
}

// MarkFailed finalizes a job that could make no progress at all.
func (r *BackfillJobRepository) MarkFailed(ctx context.Context, jobID, reason string) (*models.BackfillJob, error) {
	query := fmt.Sprintf(`
		UPDATE complaint_backfill_jobs
		SET status = $2, error = $3, completed_at = now()
		WHERE id = $1 AND status = $4
		RETURNING %s
	`, jobColumns)

	job, err := scanJob(r.db.Pool().QueryRow(ctx, query,
		jobID,
		types.JobStatusFailed, reason,
		types.JobStatusInProgress,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
				return nil, getErr
			}
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("failed to mark backfill job failed: %w", err)
	}

	return job, nil
}

// ListByStatus retrieves jobs by status, queue-ordered.
func (r *BackfillJobRepository) ListByStatus(ctx context.Context, status types.JobStatus, limit int) ([]*models.BackfillJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM complaint_backfill_jobs
		WHERE status = $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`, jobColumns)

	rows, err := r.db.Pool().Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list backfill jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.BackfillJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan backfill job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating backfill jobs: %w", err)
	}

	return jobs, nil
}
