package models

import (
	"time"

	"github.com/review-reconciler/internal/types"
)

// Review represents a stored marketplace review for one product.
type Review struct {
	ID         string    `json:"id" db:"id"`
	StoreID    string    `json:"storeId" db:"store_id"`
	ProductID  string    `json:"productId" db:"product_id"`
	NmID       string    `json:"nmId" db:"nm_id"`
	Rating     int       `json:"rating" db:"rating"`
	ReviewDate time.Time `json:"reviewDate" db:"review_date"`
	Text       string    `json:"text" db:"text"`
	Author     *string   `json:"author,omitempty" db:"author"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// Product represents a marketplace product card.
type Product struct {
	ID        string    `json:"id" db:"id"`
	StoreID   string    `json:"storeId" db:"store_id"`
	NmID      string    `json:"nmId" db:"nm_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// ComplaintDraft records the drafting outcome for one review. review_id is
// unique, which is what lets a resumed backfill job skip reviews it already
// processed in an earlier pass. A review whose generation kept failing gets a
// skipped row instead of a text, so the job can still close over it.
type ComplaintDraft struct {
	ID         string            `json:"id" db:"id"`
	ReviewID   string            `json:"reviewId" db:"review_id"`
	ProductID  string            `json:"productId" db:"product_id"`
	StoreID    string            `json:"storeId" db:"store_id"`
	Status     types.DraftStatus `json:"status" db:"status"`
	Text       string            `json:"text" db:"text"`
	SkipReason *string           `json:"skipReason,omitempty" db:"skip_reason"`
	CreatedAt  time.Time         `json:"createdAt" db:"created_at"`
}
