package models

import (
	"time"

	"github.com/review-reconciler/internal/types"
)

// BackfillJob represents one unit of work to retroactively draft complaints
// for a product's historical reviews. At most one non-terminal job exists per
// product; claiming is a status+timestamp lease, not a process-level lock, so
// a crashed worker's job becomes reclaimable once the lease expires.
type BackfillJob struct {
	ID             string          `json:"id" db:"id"`
	ProductID      string          `json:"productId" db:"product_id"`
	StoreID        string          `json:"storeId" db:"store_id"`
	OwnerID        string          `json:"ownerId" db:"owner_id"`
	Priority       int             `json:"priority" db:"priority"`
	Status         types.JobStatus `json:"status" db:"status"`
	TotalReviews   int             `json:"totalReviews" db:"total_reviews"`
	ProcessedCount int             `json:"processedCount" db:"processed_count"`
	TriggeredBy    string          `json:"triggeredBy" db:"triggered_by"`
	ClaimedBy      *string         `json:"claimedBy,omitempty" db:"claimed_by"`
	ClaimedAt      *time.Time      `json:"claimedAt,omitempty" db:"claimed_at"`
	Error          *string         `json:"error,omitempty" db:"error"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty" db:"completed_at"`
}
