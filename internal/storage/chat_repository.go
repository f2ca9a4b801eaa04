package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/types"
)

// ChatRepository handles chat thread persistence
type ChatRepository struct {
	db *PostgresDB
}

// NewChatRepository creates a new chat repository
func NewChatRepository(db *PostgresDB) *ChatRepository {
	return &ChatRepository{db: db}
}

const chatColumns = `
	id, store_id, last_message_sender, last_message_date, status, status_updated_at
`

func scanChat(row pgx.Row) (*models.Chat, error) {
	var chat models.Chat
	err := row.Scan(
		&chat.ID,
		&chat.StoreID,
		&chat.LastMessageSender,
		&chat.LastMessageDate,
		&chat.Status,
		&chat.StatusUpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// GetByID retrieves a chat by id.
func (r *ChatRepository) GetByID(ctx context.Context, chatID string) (*models.Chat, error) {
	query := fmt.Sprintf(`SELECT %s FROM chats WHERE id = $1`, chatColumns)

	chat, err := scanChat(r.db.Pool().QueryRow(ctx, query, chatID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return chat, nil
}

// RecordMessage upserts a chat's last-message metadata and derived status
// after a message is observed or sent. Missing chats are created on first
// contact since the marketplace, not this service, owns chat creation.
func (r *ChatRepository) RecordMessage(ctx context.Context, chatID, storeID string, sender types.MessageSender, sentAt time.Time, status types.ChatStatus) error {
	query := `
		INSERT INTO chats (id, store_id, last_message_sender, last_message_date, status, status_updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE
		SET last_message_sender = EXCLUDED.last_message_sender,
			last_message_date = EXCLUDED.last_message_date,
			status = EXCLUDED.status,
			status_updated_at = now()
	`

	if _, err := r.db.Pool().Exec(ctx, query, chatID, storeID, sender, sentAt, status); err != nil {
		return fmt.Errorf("failed to record chat message: %w", err)
	}
	return nil
}

// UpdateStatus sets a chat's status if it changed; no-op writes are skipped
// so a batch correction pass touches only drifted rows.
func (r *ChatRepository) UpdateStatus(ctx context.Context, chatID string, status types.ChatStatus) (bool, error) {
	query := `
		UPDATE chats
		SET status = $2, status_updated_at = now()
		WHERE id = $1 AND status <> $2
	`

	tag, err := r.db.Pool().Exec(ctx, query, chatID, status)
	if err != nil {
		return false, fmt.Errorf("failed to update chat status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListPage pages all chats by id for the batch status correction job.
// afterID is exclusive; pass "" for the first page.
func (r *ChatRepository) ListPage(ctx context.Context, afterID string, limit int) ([]*models.Chat, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM chats
		WHERE id > $1
		ORDER BY id ASC
		LIMIT $2
	`, chatColumns)

	rows, err := r.db.Pool().Query(ctx, query, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chat: %w", err)
		}
		chats = append(chats, chat)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chats: %w", err)
	}

	return chats, nil
}
