package models

import "time"

// DailyLimitCounter is the per-store, per-calendar-day counter of complaint
// submissions. count never exceeds limit; the counter is only ever mutated
// through the repository's conditional increment, never read-modify-write.
type DailyLimitCounter struct {
	StoreID string    `json:"storeId" db:"store_id"`
	Day     time.Time `json:"day" db:"day"`
	Count   int       `json:"count" db:"count"`
	Limit   int       `json:"limit" db:"limit_value"`
}

// StoreLimit holds a store's configured daily complaint submission ceiling.
// Stores without a row use the service default.
type StoreLimit struct {
	StoreID    string `json:"storeId" db:"store_id"`
	DailyLimit int    `json:"dailyLimit" db:"daily_limit"`
}
