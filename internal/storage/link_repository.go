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

// linkColumns is the canonical column list for review_chat_links scans.
const linkColumns = `
	id, store_id, review_key, review_id, chat_id, chat_url, status,
	opened_at, anchor_found_at, message_sent_at,
	system_message_text, parsed_nm_id, parsed_product_title,
	message_type, message_text,
	error_code, error_message, error_stage,
	created_at, updated_at
`

// LinkRepository handles review-chat link persistence
type LinkRepository struct {
	db *PostgresDB
}

// NewLinkRepository creates a new link repository
func NewLinkRepository(db *PostgresDB) *LinkRepository {
	return &LinkRepository{db: db}
}

func scanLink(row pgx.Row) (*models.ReviewChatLink, error) {
	var link models.ReviewChatLink
	err := row.Scan(
		&link.ID,
		&link.StoreID,
		&link.ReviewKey,
		&link.ReviewID,
		&link.ChatID,
		&link.ChatURL,
		&link.Status,
		&link.OpenedAt,
		&link.AnchorFoundAt,
		&link.MessageSentAt,
		&link.SystemMessageText,
		&link.ParsedNmID,
		&link.ParsedProductTitle,
		&link.MessageType,
		&link.MessageText,
		&link.ErrorCode,
		&link.ErrorMessage,
		&link.ErrorStage,
		&link.CreatedAt,
		&link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// UpsertOpened inserts a new opened link, or returns the existing record for
// the same (store_id, review_key) untouched. The boolean reports whether a
// new row was created. The agent retries freely, so this is the idempotency
// anchor of the whole linking flow.
func (r *LinkRepository) UpsertOpened(ctx context.Context, link *models.ReviewChatLink) (*models.ReviewChatLink, bool, error) {
	insert := fmt.Sprintf(`
		INSERT INTO review_chat_links (
			id, store_id, review_key, review_id, chat_id, chat_url, status, opened_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (store_id, review_key) DO NOTHING
		RETURNING %s
	`, linkColumns)

	created, err := scanLink(r.db.Pool().QueryRow(ctx, insert,
		link.ID,
		link.StoreID,
		link.ReviewKey,
		link.ReviewID,
		link.ChatID,
		link.ChatURL,
		types.LinkStatusOpened,
		link.OpenedAt,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to insert link: %w", err)
	}

	// Conflict: another delivery of the same review already created the row.
	existing, err := r.GetByReviewKey(ctx, link.StoreID, link.ReviewKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// GetByID retrieves a link by primary key
func (r *LinkRepository) GetByID(ctx context.Context, id string) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM review_chat_links WHERE id = $1`, linkColumns)

	link, err := scanLink(r.db.Pool().QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get link: %w", err)
	}
	return link, nil
}

// GetByReviewKey retrieves a link by its natural key
func (r *LinkRepository) GetByReviewKey(ctx context.Context, storeID, reviewKey string) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`SELECT %s FROM review_chat_links WHERE store_id = $1 AND review_key = $2`, linkColumns)

	link, err := scanLink(r.db.Pool().QueryRow(ctx, query, storeID, reviewKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get link by review key: %w", err)
	}
	return link, nil
}

// SetReviewID fills review_id if it is still unresolved. Already-resolved
// links are left untouched.
func (r *LinkRepository) SetReviewID(ctx context.Context, id, reviewID string) error {
	query := `
		UPDATE review_chat_links
		SET review_id = $2, updated_at = now()
		WHERE id = $1 AND review_id IS NULL
	`

	if _, err := r.db.Pool().Exec(ctx, query, id, reviewID); err != nil {
		return fmt.Errorf("failed to set review id: %w", err)
	}
	return nil
}

// transition runs a guarded status update and scans the updated row. The
// WHERE clause carries the allowed source statuses, so a zero-row result on
// an existing record means the transition table forbids the move.
func (r *LinkRepository) transition(ctx context.Context, id string, query string, args ...interface{}) (*models.ReviewChatLink, error) {
	link, err := scanLink(r.db.Pool().QueryRow(ctx, query, args...))
	if err == nil {
		return link, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update link status: %w", err)
	}

	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrInvalidTransition
}

// MarkAnchorFound advances an opened link to anchor_found and records the
// parsed system message evidence.
func (r *LinkRepository) MarkAnchorFound(ctx context.Context, id string, foundAt time.Time, systemMessageText, parsedNmID, parsedProductTitle *string) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		UPDATE review_chat_links
		SET status = $2, anchor_found_at = $3,
			system_message_text = $4, parsed_nm_id = $5, parsed_product_title = $6,
			updated_at = now()
		WHERE id = $1 AND status = $7
		RETURNING %s
	`, linkColumns)

	return r.transition(ctx, id, query, id,
		types.LinkStatusAnchorFound, foundAt,
		systemMessageText, parsedNmID, parsedProductTitle,
		types.LinkStatusOpened,
	)
}

// MarkAnchorNotFound advances an opened link to the terminal anchor_not_found.
func (r *LinkRepository) MarkAnchorNotFound(ctx context.Context, id string, searchAt time.Time) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		UPDATE review_chat_links
		SET status = $2, anchor_found_at = $3, updated_at = now()
		WHERE id = $1 AND status = $4
		RETURNING %s
	`, linkColumns)

	return r.transition(ctx, id, query, id,
		types.LinkStatusAnchorNotFound, searchAt,
		types.LinkStatusOpened,
	)
}

// MarkMessageOutcome advances an anchor_found link to one of the three
// terminal message outcomes.
func (r *LinkRepository) MarkMessageOutcome(ctx context.Context, id string, result types.LinkStatus, messageType *string, messageText *string, sentAt time.Time) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		UPDATE review_chat_links
		SET status = $2, message_sent_at = $3,
			message_type = $4, message_text = $5,
			updated_at = now()
		WHERE id = $1 AND status = $6
		RETURNING %s
	`, linkColumns)

	return r.transition(ctx, id, query, id,
		result, sentAt, messageType, messageText,
		types.LinkStatusAnchorFound,
	)
}

// MarkError moves any non-terminal link to error and records the agent's
// failure report verbatim.
func (r *LinkRepository) MarkError(ctx context.Context, id, errorCode, errorMessage string, stage types.ErrorStage) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		UPDATE review_chat_links
		SET status = $2, error_code = $3, error_message = $4, error_stage = $5,
			updated_at = now()
		WHERE id = $1 AND status IN ($6, $7)
		RETURNING %s
	`, linkColumns)

	return r.transition(ctx, id, query, id,
		types.LinkStatusError, errorCode, errorMessage, string(stage),
		types.LinkStatusOpened, types.LinkStatusAnchorFound,
	)
}

// ResetError is the administrative transition back from error to opened. It
// clears the error fields so the agent can retry the link from scratch; it is
// the only backward move the table allows.
func (r *LinkRepository) ResetError(ctx context.Context, id string) (*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		UPDATE review_chat_links
		SET status = $2, error_code = NULL, error_message = NULL, error_stage = NULL,
			updated_at = now()
		WHERE id = $1 AND status = $3
		RETURNING %s
	`, linkColumns)

	return r.transition(ctx, id, query, id,
		types.LinkStatusOpened, types.LinkStatusError,
	)
}

// ListByStore retrieves the most recent links for a store, for diagnostics.
func (r *LinkRepository) ListByStore(ctx context.Context, storeID string, limit int) ([]*models.ReviewChatLink, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM review_chat_links
		WHERE store_id = $1
		ORDER BY opened_at DESC
		LIMIT $2
	`, linkColumns)

	rows, err := r.db.Pool().Query(ctx, query, storeID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []*models.ReviewChatLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}
		links = append(links, link)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating links: %w", err)
	}

	return links, nil
}
