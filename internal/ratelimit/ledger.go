// Package ratelimit enforces the per-store daily complaint submission quota.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/review-reconciler/internal/storage"
)

// Default ledger configuration values.
const (
	DefaultDailyLimit    = 100
	DefaultLimitCacheTTL = 5 * time.Minute

	// maxCachedLimits caps the limit cache. When the cap is hit, expired
	// entries are dropped first; a cache still full of live entries is
	// cleared outright and repopulated on demand.
	maxCachedLimits = 10000
)

// LimitStore is the persistence surface for daily counters and per-store
// limit configuration.
type LimitStore interface {
	Reserve(ctx context.Context, storeID string, day time.Time, limit int) (bool, int, error)
	Release(ctx context.Context, storeID string, day time.Time) error
	GetCounter(ctx context.Context, storeID string, day time.Time) (count, limit int, err error)
	GetStoreLimit(ctx context.Context, storeID string) (int, error)
	SetStoreLimit(ctx context.Context, storeID string, limit int) error
}

// DailyLedger hands out complaint submission slots, at most the store's
// configured daily limit per UTC day. Store limits are cached briefly so the
// hot Reserve path does one round trip, not two.
type DailyLedger struct {
	store        LimitStore
	defaultLimit int
	cacheTTL     time.Duration
	now          func() time.Time

	mu     sync.Mutex
	limits map[string]cachedLimit
}

type cachedLimit struct {
	value     int
	fetchedAt time.Time
}

// DailyLedgerConfig holds configuration for the ledger.
type DailyLedgerConfig struct {
	// Store is the limit repository. Required.
	Store LimitStore

	// DefaultLimit applies to stores with no explicit configuration.
	// Default: 100.
	DefaultLimit int

	// CacheTTL bounds how long a store's configured limit is cached.
	// Default: 5m.
	CacheTTL time.Duration
}

// Validate checks if the configuration is valid.
func (c *DailyLedgerConfig) Validate() error {
	if c.Store == nil {
		return errors.New("limit store is required")
	}
	if c.DefaultLimit < 0 {
		return errors.New("default limit cannot be negative")
	}
	if c.CacheTTL < 0 {
		return errors.New("cache TTL cannot be negative")
	}
	return nil
}

// NewDailyLedger creates a ledger with the given configuration.
func NewDailyLedger(cfg *DailyLedgerConfig) (*DailyLedger, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	defaultLimit := cfg.DefaultLimit
	if defaultLimit == 0 {
		defaultLimit = DefaultDailyLimit
	}
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = DefaultLimitCacheTTL
	}

	return &DailyLedger{
		store:        cfg.Store,
		defaultLimit: defaultLimit,
		cacheTTL:     cacheTTL,
		now:          time.Now,
		limits:       make(map[string]cachedLimit),
	}, nil
}

// Reserve takes one submission slot for the store's current UTC day.
// allowed=false means today's quota is exhausted; that is backpressure for
// the caller to honor, not an error.
func (l *DailyLedger) Reserve(ctx context.Context, storeID string) (allowed bool, remaining int, err error) {
	limit, err := l.limitFor(ctx, storeID)
	if err != nil {
		return false, 0, err
	}
	return l.store.Reserve(ctx, storeID, l.today(), limit)
}

// Release returns a slot reserved earlier today, typically after the
// submission it was reserved for failed before reaching the marketplace.
func (l *DailyLedger) Release(ctx context.Context, storeID string) error {
	return l.store.Release(ctx, storeID, l.today())
}

// Usage reports today's counter for a store. A store that has not submitted
// today reports zero used against its configured limit.
func (l *DailyLedger) Usage(ctx context.Context, storeID string) (used, limit int, err error) {
	used, limit, err = l.store.GetCounter(ctx, storeID, l.today())
	if errors.Is(err, storage.ErrNotFound) {
		limit, lerr := l.limitFor(ctx, storeID)
		return 0, limit, lerr
	}
	return used, limit, err
}

// SetStoreLimit updates a store's configured daily limit and drops the
// cached value. The new limit applies to counters created after the change;
// today's existing counter keeps the limit it was created with.
func (l *DailyLedger) SetStoreLimit(ctx context.Context, storeID string, limit int) error {
	if limit <= 0 {
		return errors.New("daily limit must be positive")
	}
	if err := l.store.SetStoreLimit(ctx, storeID, limit); err != nil {
		return err
	}

	l.mu.Lock()
	delete(l.limits, storeID)
	l.mu.Unlock()
	return nil
}

func (l *DailyLedger) limitFor(ctx context.Context, storeID string) (int, error) {
	l.mu.Lock()
	cached, ok := l.limits[storeID]
	l.mu.Unlock()
	if ok && l.now().Sub(cached.fetchedAt) < l.cacheTTL {
		return cached.value, nil
	}

	limit, err := l.store.GetStoreLimit(ctx, storeID)
	if errors.Is(err, storage.ErrNotFound) {
		limit = l.defaultLimit
	} else if err != nil {
		return 0, err
	}

	l.mu.Lock()
	if len(l.limits) >= maxCachedLimits {
		l.evictLocked()
	}
	l.limits[storeID] = cachedLimit{value: limit, fetchedAt: l.now()}
	l.mu.Unlock()
	return limit, nil
}

// evictLocked drops expired cache entries, or everything when all are still
// fresh. Callers must hold l.mu.
func (l *DailyLedger) evictLocked() {
	now := l.now()
	for storeID, cached := range l.limits {
		if now.Sub(cached.fetchedAt) >= l.cacheTTL {
			delete(l.limits, storeID)
		}
	}
	if len(l.limits) >= maxCachedLimits {
		l.limits = make(map[string]cachedLimit)
	}
}

func (l *DailyLedger) today() time.Time {
	return l.now().UTC().Truncate(24 * time.Hour)
}
