// Package cache provides a two-tier cache: an out-of-process key/value
// store guarded by a circuit breaker, in front of an in-memory LRU. Writes
// are redundant (both tiers), so a remote outage never loses writes from
// in-process readers. Reads prefer the remote tier; an open circuit
// silently degrades to the LRU.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry is a cached value with freshness metadata.
type Entry[T any] struct {
	Value        T      `json:"value"`
	InsertedAt   int64  `json:"inserted_at"` // epoch milliseconds
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"last_modified,omitempty"`
	ContentHash  string `json:"content_hash,omitempty"`
}

// expired reports whether the entry is older than ttl. Zero ttl means no
// expiry.
func (e Entry[T]) expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(e.InsertedAt)) > ttl
}

// Meta carries optional metadata for Set.
type Meta struct {
	ETag         string
	LastModified string
	ContentHash  string
}

// RemoteStore is the outer cache tier: an out-of-process key/value store
// with TTL expiry. Implementations must be safe for concurrent use.
type RemoteStore interface {
	// Get returns the stored bytes and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	// Ready reports whether the store is reachable enough to try.
	Ready() bool
	Close() error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	RemoteHits    uint64 `json:"remote_hits"`
	LocalHits     uint64 `json:"local_hits"`
	RemoteErrors  uint64 `json:"remote_errors"`
	OpenFallbacks uint64 `json:"open_fallbacks"`
	Sets          uint64 `json:"sets"`
	Strategy      string `json:"strategy"`

	Breaker BreakerSnapshot `json:"breaker"`
}

// Config configures a TwoTier cache.
type Config struct {
	// LRUSize is the inner tier capacity. Default: 1024.
	LRUSize int
	// TTL expires entries in both tiers. Zero = no expiry.
	TTL time.Duration
	Logger *slog.Logger
	// Now is an injectable clock for expiry checks.
	Now func() time.Time
}

func (c *Config) defaults() {
	if c.LRUSize <= 0 {
		c.LRUSize = 1024
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// TwoTier is the two-tier cache over values of type T. Values cross the
// remote boundary as JSON. get+set on one key is not atomic: readers may
// observe a stale value or a miss during replacement, and the LRU tier may
// briefly hold a value absent from the remote tier after a remote write
// failure.
type TwoTier[T any] struct {
	local   *lru.Cache[string, Entry[T]]
	remote  RemoteStore
	breaker *Breaker
	cfg     Config

	hits          atomic.Uint64
	misses        atomic.Uint64
	remoteHits    atomic.Uint64
	localHits     atomic.Uint64
	remoteErrors  atomic.Uint64
	openFallbacks atomic.Uint64
	sets          atomic.Uint64
}

// New creates a TwoTier cache. remote may be nil, in which case only the
// LRU tier is used. breaker may be nil when remote is nil.
func New[T any](remote RemoteStore, breaker *Breaker, cfg Config) (*TwoTier[T], error) {
	cfg.defaults()
	l, err := lru.New[string, Entry[T]](cfg.LRUSize)
	if err != nil {
		return nil, fmt.Errorf("cache: lru: %w", err)
	}
	if remote != nil && breaker == nil {
		breaker = NewBreaker(WithBreakerLogger(cfg.Logger))
	}
	return &TwoTier[T]{local: l, remote: remote, breaker: breaker, cfg: cfg}, nil
}

// Strategy reports which tiers are active: "remote" when the outer tier is
// configured, else "lru".
func (c *TwoTier[T]) Strategy() string {
	if c.remote != nil {
		return "remote"
	}
	return "lru"
}

// Get returns the entry for key, or ok=false on a miss. Remote failures and
// an open circuit degrade to the LRU tier; they never surface as errors.
func (c *TwoTier[T]) Get(ctx context.Context, key string) (Entry[T], bool) {
	start := time.Now()
	if c.remote != nil && c.remote.Ready() {
		if entry, ok := c.remoteGet(ctx, key); ok {
			c.hits.Add(1)
			c.remoteHits.Add(1)
			c.observe(key, "remote", true, start)
			return entry, true
		}
	}

	entry, ok := c.local.Get(key)
	if ok && entry.expired(c.cfg.TTL, c.cfg.Now()) {
		c.local.Remove(key)
		ok = false
	}
	if ok {
		c.hits.Add(1)
		c.localHits.Add(1)
		c.observe(key, "lru", true, start)
		return entry, true
	}
	c.misses.Add(1)
	c.observe(key, "none", false, start)
	return Entry[T]{}, false
}

// Set stores value in both tiers. The remote write goes through the
// breaker; open-circuit and remote errors are swallowed so the LRU write
// always lands.
func (c *TwoTier[T]) Set(ctx context.Context, key string, value T, meta *Meta) {
	entry := Entry[T]{Value: value, InsertedAt: c.cfg.Now().UnixMilli()}
	if meta != nil {
		entry.ETag = meta.ETag
		entry.LastModified = meta.LastModified
		entry.ContentHash = meta.ContentHash
	}
	c.sets.Add(1)

	if c.remote != nil && c.remote.Ready() {
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			raw, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			return c.remote.Set(ctx, key, raw, c.cfg.TTL)
		})
		switch {
		case err == ErrCircuitOpen:
			c.openFallbacks.Add(1)
		case err != nil:
			c.remoteErrors.Add(1)
			c.cfg.Logger.Warn("cache: remote set failed", "key", key, "error", err)
		}
	}

	c.local.Add(key, entry)
}

// Has reports whether key resolves to a live entry in either tier.
func (c *TwoTier[T]) Has(ctx context.Context, key string) bool {
	_, ok := c.Get(ctx, key)
	return ok
}

// Delete removes key from both tiers, best-effort.
func (c *TwoTier[T]) Delete(ctx context.Context, key string) {
	if c.remote != nil && c.remote.Ready() {
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.remote.Delete(ctx, key)
		})
		if err != nil && err != ErrCircuitOpen {
			c.remoteErrors.Add(1)
			c.cfg.Logger.Warn("cache: remote delete failed", "key", key, "error", err)
		}
	}
	c.local.Remove(key)
}

// Clear empties both tiers. Never fails.
func (c *TwoTier[T]) Clear(ctx context.Context) {
	if c.remote != nil && c.remote.Ready() {
		err := c.breaker.Execute(ctx, func(ctx context.Context) error {
			return c.remote.Clear(ctx)
		})
		if err != nil && err != ErrCircuitOpen {
			c.remoteErrors.Add(1)
			c.cfg.Logger.Warn("cache: remote clear failed", "error", err)
		}
	}
	c.local.Purge()
}

// Stats returns a snapshot of the counters.
func (c *TwoTier[T]) Stats() Stats {
	s := Stats{
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		RemoteHits:    c.remoteHits.Load(),
		LocalHits:     c.localHits.Load(),
		RemoteErrors:  c.remoteErrors.Load(),
		OpenFallbacks: c.openFallbacks.Load(),
		Sets:          c.sets.Load(),
		Strategy:      c.Strategy(),
	}
	if c.breaker != nil {
		s.Breaker = c.breaker.Snapshot()
	}
	return s
}

// remoteGet queries the remote tier through the breaker. All failure modes
// (open circuit, remote error, decode error, expired) report a miss.
func (c *TwoTier[T]) remoteGet(ctx context.Context, key string) (Entry[T], bool) {
	var entry Entry[T]
	found := false
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		raw, ok, err := c.remote.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	switch {
	case err == ErrCircuitOpen:
		c.openFallbacks.Add(1)
		return Entry[T]{}, false
	case err != nil:
		c.remoteErrors.Add(1)
		c.cfg.Logger.Warn("cache: remote get failed", "key", key, "error", err)
		return Entry[T]{}, false
	}
	if !found || entry.expired(c.cfg.TTL, c.cfg.Now()) {
		return Entry[T]{}, false
	}
	return entry, true
}

func (c *TwoTier[T]) observe(key, tier string, hit bool, start time.Time) {
	c.cfg.Logger.Debug("cache: lookup",
		"key", key, "tier", tier, "hit", hit, "elapsed", time.Since(start))
}
