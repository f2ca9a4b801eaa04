package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// DailyLimitRepository handles per-store daily submission counters. The
// counter is the one hot shared resource of the system; every mutation goes
// through a conditional update so concurrent workers can never push count
// past the limit.
type DailyLimitRepository struct {
	db *PostgresDB
}

// NewDailyLimitRepository creates a new daily limit repository
func NewDailyLimitRepository(db *PostgresDB) *DailyLimitRepository {
	return &DailyLimitRepository{db: db}
}

// Reserve atomically takes one submission slot for (storeID, day). The row is
// created on first use with the store's limit. Returns allowed=false with the
// remaining count when the day's quota is exhausted; denial is backpressure,
// not an error.
func (r *DailyLimitRepository) Reserve(ctx context.Context, storeID string, day time.Time, limit int) (bool, int, error) {
	day = day.UTC().Truncate(24 * time.Hour)

	insert := `
		INSERT INTO complaint_daily_limits (store_id, day, count, limit_value)
		VALUES ($1, $2, 0, $3)
		ON CONFLICT (store_id, day) DO NOTHING
	`
	if _, err := r.db.Pool().Exec(ctx, insert, storeID, day, limit); err != nil {
		return false, 0, fmt.Errorf("failed to initialize daily limit counter: %w", err)
	}

	// Increment-and-compare in one statement; rows-affected decides success.
	update := `
		UPDATE complaint_daily_limits
		SET count = count + 1
		WHERE store_id = $1 AND day = $2 AND count < limit_value
		RETURNING limit_value - count
	`

	var remaining int
	err := r.db.Pool().QueryRow(ctx, update, storeID, day).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("failed to reserve daily limit slot: %w", err)
	}

	return true, remaining, nil
}

// Release returns one slot after a failed submission. The counter never goes
// below zero.
func (r *DailyLimitRepository) Release(ctx context.Context, storeID string, day time.Time) error {
	day = day.UTC().Truncate(24 * time.Hour)

	query := `
		UPDATE complaint_daily_limits
		SET count = count - 1
		WHERE store_id = $1 AND day = $2 AND count > 0
	`

	if _, err := r.db.Pool().Exec(ctx, query, storeID, day); err != nil {
		return fmt.Errorf("failed to release daily limit slot: %w", err)
	}
	return nil
}

// GetCounter retrieves the counter for (storeID, day), if present.
func (r *DailyLimitRepository) GetCounter(ctx context.Context, storeID string, day time.Time) (count, limit int, err error) {
	day = day.UTC().Truncate(24 * time.Hour)

	query := `
		SELECT count, limit_value FROM complaint_daily_limits
		WHERE store_id = $1 AND day = $2
	`

	err = r.db.Pool().QueryRow(ctx, query, storeID, day).Scan(&count, &limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, 0, ErrNotFound
		}
		return 0, 0, fmt.Errorf("failed to get daily limit counter: %w", err)
	}
	return count, limit, nil
}

// GetStoreLimit returns the configured daily limit for a store, or
// ErrNotFound when the store has no explicit configuration.
func (r *DailyLimitRepository) GetStoreLimit(ctx context.Context, storeID string) (int, error) {
	query := `SELECT daily_limit FROM store_limits WHERE store_id = $1`

	var limit int
	err := r.db.Pool().QueryRow(ctx, query, storeID).Scan(&limit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("failed to get store limit: %w", err)
	}
	return limit, nil
}

// SetStoreLimit upserts a store's configured daily limit.
func (r *DailyLimitRepository) SetStoreLimit(ctx context.Context, storeID string, limit int) error {
	query := `
		INSERT INTO store_limits (store_id, daily_limit)
		VALUES ($1, $2)
		ON CONFLICT (store_id) DO UPDATE SET daily_limit = EXCLUDED.daily_limit
	`

	if _, err := r.db.Pool().Exec(ctx, query, storeID, limit); err != nil {
		return fmt.Errorf("failed to set store limit: %w", err)
	}
	return nil
}
