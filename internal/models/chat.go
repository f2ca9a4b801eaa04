package models

import (
	"time"

	"github.com/review-reconciler/internal/types"
)

// Chat represents a buyer-seller conversation thread on the marketplace.
type Chat struct {
	ID                string              `json:"id" db:"id"`
	StoreID           string              `json:"storeId" db:"store_id"`
	LastMessageSender types.MessageSender `json:"lastMessageSender" db:"last_message_sender"`
	LastMessageDate   time.Time           `json:"lastMessageDate" db:"last_message_date"`
	Status            types.ChatStatus    `json:"status" db:"status"`
	StatusUpdatedAt   time.Time           `json:"statusUpdatedAt" db:"status_updated_at"`
}
