package storage

import (
	"context"
	"fmt"

	"github.com/review-reconciler/internal/models"
)

// EventAuditRepository appends inbound agent events to ClickHouse. The trail
// is diagnostics only; nothing in the reconciliation flow reads it back, only
// the admin audit endpoint does.
type EventAuditRepository struct {
	db *ClickHouseDB
}

// NewEventAuditRepository creates a new event audit repository
func NewEventAuditRepository(db *ClickHouseDB) *EventAuditRepository {
	return &EventAuditRepository{db: db}
}

// Append writes one event record.
func (r *EventAuditRepository) Append(ctx context.Context, rec *models.AgentEventRecord) error {
	batch, err := r.db.Conn().PrepareBatch(ctx, `
		INSERT INTO agent_events (
			event_id, link_id, store_id, kind, status, payload, occurred_at, received_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare audit batch: %w", err)
	}

	err = batch.Append(
		rec.EventID,
		rec.LinkID,
		rec.StoreID,
		rec.Kind,
		rec.Status,
		rec.Payload,
		rec.OccurredAt,
		rec.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send audit batch: %w", err)
	}
	return nil
}

// RecentByStore retrieves the latest audit records for a store.
func (r *EventAuditRepository) RecentByStore(ctx context.Context, storeID string, limit int) ([]*models.AgentEventRecord, error) {
	query := `
		SELECT event_id, link_id, store_id, kind, status, payload, occurred_at, received_at
		FROM agent_events
		WHERE store_id = ?
		ORDER BY received_at DESC
		LIMIT ?
	`

	rows, err := r.db.Conn().Query(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var records []*models.AgentEventRecord
	for rows.Next() {
		var rec models.AgentEventRecord
		err := rows.Scan(
			&rec.EventID,
			&rec.LinkID,
			&rec.StoreID,
			&rec.Kind,
			&rec.Status,
			&rec.Payload,
			&rec.OccurredAt,
			&rec.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit record: %w", err)
		}
		records = append(records, &rec)
	}

	return records, nil
}
