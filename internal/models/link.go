package models

import (
	"time"

	"github.com/review-reconciler/internal/types"
)

// ReviewChatLink represents one attempt to associate a marketplace review
// with the chat thread a field agent opened for it. Identity is the
// (store_id, review_key) pair; the agent retries freely, so every mutation
// path must be idempotent on that pair.
type ReviewChatLink struct {
	ID                 string           `json:"id" db:"id"`
	StoreID            string           `json:"storeId" db:"store_id"`
	ReviewKey          string           `json:"reviewKey" db:"review_key"`
	ReviewID           *string          `json:"reviewId,omitempty" db:"review_id"`
	ChatID             *string          `json:"chatId,omitempty" db:"chat_id"`
	ChatURL            string           `json:"chatUrl" db:"chat_url"`
	Status             types.LinkStatus `json:"status" db:"status"`
	OpenedAt           time.Time        `json:"openedAt" db:"opened_at"`
	AnchorFoundAt      *time.Time       `json:"anchorFoundAt,omitempty" db:"anchor_found_at"`
	MessageSentAt      *time.Time       `json:"messageSentAt,omitempty" db:"message_sent_at"`
	SystemMessageText  *string          `json:"systemMessageText,omitempty" db:"system_message_text"`
	ParsedNmID         *string          `json:"parsedNmId,omitempty" db:"parsed_nm_id"`
	ParsedProductTitle *string          `json:"parsedProductTitle,omitempty" db:"parsed_product_title"`
	MessageType        *string          `json:"messageType,omitempty" db:"message_type"`
	MessageText        *string          `json:"messageText,omitempty" db:"message_text"`
	ErrorCode          *string          `json:"errorCode,omitempty" db:"error_code"`
	ErrorMessage       *string          `json:"errorMessage,omitempty" db:"error_message"`
	ErrorStage         *string          `json:"errorStage,omitempty" db:"error_stage"`
	CreatedAt          time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time        `json:"updatedAt" db:"updated_at"`
}
