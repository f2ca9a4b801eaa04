package chatstatus

import (
	"context"
	"time"

	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/types"
)

// ChatStore is the persistence surface the corrector needs.
type ChatStore interface {
	ListPage(ctx context.Context, afterID string, limit int) ([]*models.Chat, error)
	UpdateStatus(ctx context.Context, chatID string, status types.ChatStatus) (bool, error)
}

// Corrector is the idempotent batch pass that re-derives every chat's status
// from its last-message metadata. Statuses drift when the service is down
// while messages age past the awaiting-reply threshold; running the pass
// twice is a no-op by construction.
type Corrector struct {
	chats    ChatStore
	pageSize int
	logger   *logging.Logger
	now      func() time.Time
}

// NewCorrector creates a batch status corrector.
func NewCorrector(chats ChatStore, pageSize int, logger *logging.Logger) *Corrector {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &Corrector{
		chats:    chats,
		pageSize: pageSize,
		logger:   logger,
		now:      time.Now,
	}
}

// Run walks all chats in id order and rewrites any whose derived status
// differs from the stored one. Returns the number of chats corrected.
func (c *Corrector) Run(ctx context.Context) (int, error) {
	corrected := 0
	afterID := ""

	for {
		if err := ctx.Err(); err != nil {
			return corrected, err
		}

		chats, err := c.chats.ListPage(ctx, afterID, c.pageSize)
		if err != nil {
			return corrected, err
		}
		if len(chats) == 0 {
			break
		}

		now := c.now()
		for _, chat := range chats {
			derived := DeriveAt(chat.LastMessageSender, chat.LastMessageDate, now, chat.Status)
			if derived == chat.Status {
				continue
			}

			changed, err := c.chats.UpdateStatus(ctx, chat.ID, derived)
			if err != nil {
				// One bad row must not abort the pass.
				c.logger.WithError(err).WithField("chatId", chat.ID).Warn("chat status correction failed")
				continue
			}
			if changed {
				corrected++
			}
		}

		afterID = chats[len(chats)-1].ID
	}

	if corrected > 0 {
		c.logger.WithField("corrected", corrected).Info("chat status correction pass finished")
	}
	return corrected, nil
}
