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

// complaintRatingCeiling bounds which reviews are complaint-eligible.
// Complaints are only drafted for 1-3 star reviews.
const complaintRatingCeiling = 3

// ReviewRepository handles review, product and complaint draft persistence
type ReviewRepository struct {
	db *PostgresDB
}

// NewReviewRepository creates a new review repository
func NewReviewRepository(db *PostgresDB) *ReviewRepository {
	return &ReviewRepository{db: db}
}

const reviewColumns = `
	id, store_id, product_id, nm_id, rating, review_date, text, author, created_at
`

func scanReview(row pgx.Row) (*models.Review, error) {
	var rev models.Review
	err := row.Scan(
		&rev.ID,
		&rev.StoreID,
		&rev.ProductID,
		&rev.NmID,
		&rev.Rating,
		&rev.ReviewDate,
		&rev.Text,
		&rev.Author,
		&rev.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rev, nil
}

// MatchByContext resolves a review id from the agent's observed context:
// same store and product, exact rating, timestamp within the tolerance
// window, nearest timestamp winning ties. Source systems truncate review
// timestamps to the minute, so exact equality is unsafe. A miss returns
// ("", nil): failed resolution is not an error.
func (r *ReviewRepository) MatchByContext(ctx context.Context, storeID, nmID string, rating int, approxDate time.Time, tolerance time.Duration) (string, error) {
	query := `
		SELECT id FROM reviews
		WHERE store_id = $1 AND nm_id = $2 AND rating = $3
		  AND review_date BETWEEN $4::timestamptz - $5::interval AND $4::timestamptz + $5::interval
		ORDER BY abs(extract(epoch FROM review_date - $4::timestamptz)) ASC
		LIMIT 1
	`

	interval := fmt.Sprintf("%d seconds", int(tolerance.Seconds()))

	var reviewID string
	err := r.db.Pool().QueryRow(ctx, query, storeID, nmID, rating, approxDate.UTC(), interval).Scan(&reviewID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to match review by context: %w", err)
	}

	return reviewID, nil
}

// GetProduct retrieves a product by id.
func (r *ReviewRepository) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	query := `
		SELECT id, store_id, nm_id, title, created_at
		FROM products WHERE id = $1
	`

	var p models.Product
	err := r.db.Pool().QueryRow(ctx, query, productID).Scan(
		&p.ID, &p.StoreID, &p.NmID, &p.Title, &p.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return &p, nil
}

// CountEligible counts a product's historical reviews that qualify for
// complaint drafting, drafted or not. This is the job's total_reviews.
func (r *ReviewRepository) CountEligible(ctx context.Context, productID string) (int, error) {
	query := `
		SELECT count(*) FROM reviews
		WHERE product_id = $1 AND rating <= $2
	`

	var count int
	if err := r.db.Pool().QueryRow(ctx, query, productID, complaintRatingCeiling).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count eligible reviews: %w", err)
	}
	return count, nil
}

// ListUndrafted pages a product's eligible reviews that have no drafting
// outcome yet, oldest first. Skip tombstones count as an outcome, so a review
// given up on is not re-fed to every later pass. The stable ordering is what
// makes repeated partial runs monotonic: a resumed job always picks up where
// outcomes stop.
func (r *ReviewRepository) ListUndrafted(ctx context.Context, productID string, limit int) ([]*models.Review, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM reviews r
		WHERE r.product_id = $1 AND r.rating <= $2
		  AND NOT EXISTS (SELECT 1 FROM complaint_drafts d WHERE d.review_id = r.id)
		ORDER BY r.review_date ASC, r.id ASC
		LIMIT $3
	`, reviewColumns)

	rows, err := r.db.Pool().Query(ctx, query, productID, complaintRatingCeiling, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list undrafted reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		rev, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, rev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reviews: %w", err)
	}

	return reviews, nil
}

// SaveDraft persists a drafting outcome: a generated complaint text or a
// skip tombstone for a review whose generation kept failing. review_id is
// unique; a concurrent duplicate is treated as success since a row exists
// either way.
func (r *ReviewRepository) SaveDraft(ctx context.Context, draft *models.ComplaintDraft) error {
	status := draft.Status
	if status == "" {
		status = types.DraftStatusGenerated
	}

	query := `
		INSERT INTO complaint_drafts (id, review_id, product_id, store_id, status, text, skip_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.Pool().Exec(ctx, query,
		draft.ID, draft.ReviewID, draft.ProductID, draft.StoreID, string(status), draft.Text, draft.SkipReason,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil
		}
		return fmt.Errorf("failed to save complaint draft: %w", err)
	}
	return nil
}
