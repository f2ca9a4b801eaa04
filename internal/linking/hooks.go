package linking

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/review-reconciler/internal/models"
	"github.com/review-reconciler/internal/storage"
	"github.com/review-reconciler/internal/types"
)

// PostCommitHook observes the link after a successfully handled event.
// The event is nil for administrative transitions.
type PostCommitHook func(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) error

// AuditHook appends every handled agent event to the ClickHouse trail.
func AuditHook(audit *storage.EventAuditRepository) PostCommitHook {
	return func(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) error {
		if ev == nil {
			return nil
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return audit.Append(ctx, &models.AgentEventRecord{
			EventID:    uuid.New().String(),
			LinkID:     link.ID,
			StoreID:    link.StoreID,
			Kind:       ev.Kind(),
			Status:     string(link.Status),
			Payload:    string(payload),
			OccurredAt: ev.OccurredAt(),
			ReceivedAt: time.Now().UTC(),
		})
	}
}

// CacheHook keeps the link cache coherent: opened links are cached for the
// agent's duplicate-open fast path, every later transition invalidates.
func CacheHook(cache *storage.LinkCache) PostCommitHook {
	return func(ctx context.Context, link *models.ReviewChatLink, ev types.AgentEvent) error {
		if link.Status == types.LinkStatusOpened {
			cache.Put(ctx, link)
			return nil
		}
		cache.Invalidate(ctx, link.StoreID, link.ReviewKey)
		return nil
	}
}

// ExtractChatID pulls the chat identifier from a marketplace chat URL.
// Recognized shapes are a trailing path segment ("/seller/chats/<id>") and a
// chatId query parameter; anything else yields an empty id.
func ExtractChatID(chatURL string) string {
	u, err := url.Parse(chatURL)
	if err != nil {
		return ""
	}

	if id := u.Query().Get("chatId"); id != "" {
		return id
	}

	path := strings.Trim(u.Path, "/")
	if path == "" {
		return ""
	}
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	if last == "chats" || last == "chat" {
		return ""
	}
	return last
}
