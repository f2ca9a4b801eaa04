package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/review-reconciler/internal/logging"
	"github.com/review-reconciler/internal/models"
)

// LinkCache caches link lookups by natural key. It is constructed once at
// process start and injected into callers; eviction is TTL-based with
// explicit invalidation on every link mutation. Cache misses and cache
// failures both fall through to Postgres, never to the caller.
type LinkCache struct {
	cache  *RedisCache
	ttl    time.Duration
	logger *logging.Logger
}

// NewLinkCache creates a new link cache service.
func NewLinkCache(cache *RedisCache, ttl time.Duration, logger *logging.Logger) *LinkCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LinkCache{cache: cache, ttl: ttl, logger: logger}
}

func linkCacheKey(storeID, reviewKey string) string {
	return fmt.Sprintf("link:%s:%s", storeID, reviewKey)
}

// Get returns the cached link for (storeID, reviewKey), or nil on miss.
func (c *LinkCache) Get(ctx context.Context, storeID, reviewKey string) *models.ReviewChatLink {
	raw, err := c.cache.Get(ctx, linkCacheKey(storeID, reviewKey))
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.WithError(err).Warn("link cache read failed")
		}
		return nil
	}

	var link models.ReviewChatLink
	if err := json.Unmarshal([]byte(raw), &link); err != nil {
		c.logger.WithError(err).Warn("link cache entry corrupt, dropping")
		_ = c.cache.Del(ctx, linkCacheKey(storeID, reviewKey))
		return nil
	}
	return &link
}

// Put stores a link under its natural key. Failures are logged and swallowed.
func (c *LinkCache) Put(ctx context.Context, link *models.ReviewChatLink) {
	raw, err := json.Marshal(link)
	if err != nil {
		c.logger.WithError(err).Warn("link cache marshal failed")
		return
	}
	if err := c.cache.Set(ctx, linkCacheKey(link.StoreID, link.ReviewKey), raw, c.ttl); err != nil {
		c.logger.WithError(err).Warn("link cache write failed")
	}
}

// Invalidate drops the cached entry for a link's natural key.
func (c *LinkCache) Invalidate(ctx context.Context, storeID, reviewKey string) {
	if err := c.cache.Del(ctx, linkCacheKey(storeID, reviewKey)); err != nil {
		c.logger.WithError(err).Warn("link cache invalidation failed")
	}
}
