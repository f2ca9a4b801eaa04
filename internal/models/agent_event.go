package models

import "time"

// AgentEventRecord is one inbound agent event as written to the append-only
// audit trail. Audit rows are diagnostics only and are never read back by the
// reconciliation flow.
type AgentEventRecord struct {
	EventID    string    `json:"eventId" ch:"event_id"`
	LinkID     string    `json:"linkId" ch:"link_id"`
	StoreID    string    `json:"storeId" ch:"store_id"`
	Kind       string    `json:"kind" ch:"kind"`
	Status     string    `json:"status" ch:"status"`
	Payload    string    `json:"payload" ch:"payload"`
	OccurredAt time.Time `json:"occurredAt" ch:"occurred_at"`
	ReceivedAt time.Time `json:"receivedAt" ch:"received_at"`
}
