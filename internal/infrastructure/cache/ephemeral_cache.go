package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long a fetched dataset is served without going back to the remote store
const DefaultTTL = 30 * time.Second

// cacheEntry wraps a cached value with the time it was stored
type cacheEntry[T any] struct {
	value    T
	storedAt time.Time
}

// EphemeralCache is a process-local, TTL-bounded map of recently fetched values.
// Expiry is evaluated lazily on read; stale entries stay in place until overwritten
// or invalidated, so there is no cleanup goroutine.
//
// Every Invalidate and Clear advances a generation counter. A reader that
// captured Generation before fetching stores its result with PutIfGeneration,
// which refuses the value if the key was invalidated in between.
type EphemeralCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	gen     uint64
	keyGen  map[string]uint64
	clearAt uint64
	ttl     time.Duration
	now     func() time.Time
	logger  *zap.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

// EphemeralCacheOption configures an EphemeralCache
type EphemeralCacheOption func(*ephemeralOptions)

type ephemeralOptions struct {
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

// WithTTL sets the time-to-live for entries
func WithTTL(ttl time.Duration) EphemeralCacheOption {
	return func(o *ephemeralOptions) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests
func WithClock(now func() time.Time) EphemeralCacheOption {
	return func(o *ephemeralOptions) {
		o.now = now
	}
}

// WithCacheLogger sets the logger for the cache
func WithCacheLogger(logger *zap.Logger) EphemeralCacheOption {
	return func(o *ephemeralOptions) {
		o.logger = logger
	}
}

// NewEphemeralCache creates an empty cache
func NewEphemeralCache[T any](opts ...EphemeralCacheOption) *EphemeralCache[T] {
	o := ephemeralOptions{
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &EphemeralCache[T]{
		entries: make(map[string]cacheEntry[T]),
		keyGen:  make(map[string]uint64),
		ttl:     o.ttl,
		now:     o.now,
		logger:  o.logger,
	}
}

// Get returns the value for key if it is younger than the TTL
func (c *EphemeralCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if ok && c.now().Sub(entry.storedAt) < c.ttl {
		c.hits.Add(1)
		c.logger.Debug("Cache hit", zap.String("key", key))
		return entry.value, true
	}

	c.misses.Add(1)
	c.logger.Debug("Cache miss", zap.String("key", key), zap.Bool("stale", ok))
	var zero T
	return zero, false
}

// Put stores value under key, replacing any previous entry
func (c *EphemeralCache[T]) Put(key string, value T) {
	c.mu.Lock()
	c.entries[key] = cacheEntry[T]{value: value, storedAt: c.now()}
	c.mu.Unlock()
}

// Generation returns the invalidation generation of key
func (c *EphemeralCache[T]) Generation(key string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation(key)
}

func (c *EphemeralCache[T]) generation(key string) uint64 {
	return max(c.keyGen[key], c.clearAt)
}

// PutIfGeneration stores value under key only if key has not been invalidated
// since gen was read. It reports whether the value was stored.
func (c *EphemeralCache[T]) PutIfGeneration(key string, value T, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation(key) != gen {
		return false
	}
	c.entries[key] = cacheEntry[T]{value: value, storedAt: c.now()}
	return true
}

// Invalidate drops the entry for key
func (c *EphemeralCache[T]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gen++
	c.keyGen[key] = c.gen
	c.mu.Unlock()
	c.logger.Debug("Cache invalidated", zap.String("key", key))
}

// Clear drops every entry
func (c *EphemeralCache[T]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry[T])
	c.gen++
	c.clearAt = c.gen
	c.keyGen = make(map[string]uint64)
	c.mu.Unlock()
}

// TTL returns the configured time-to-live
func (c *EphemeralCache[T]) TTL() time.Duration {
	return c.ttl
}

// CacheStats holds cache statistics
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Entries int     `json:"entries"`
	HitRate float64 `json:"hit_rate"`
}

// Stats returns hit/miss counters and the number of stored (possibly stale) entries
func (c *EphemeralCache[T]) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()

	hits := c.hits.Load()
	misses := c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, Entries: n, HitRate: rate}
}
