// Package cache provides a read-through TTL cache with bounded capacity,
// instantiated per cached kind. The cache is advisory: every entry can be
// recomputed from storage, so eviction and expiry never lose data.
package cache

import (
	"context"
	"sync"
	"time"
)

// Stats is a point-in-time counter snapshot for one cache.
type Stats struct {
	Name      string
	Size      int
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
}

// Requests returns the total lookups observed.
func (s Stats) Requests() uint64 {
	return s.Hits + s.Misses
}

// HitRate returns hits over total requests, 0.0 when nothing was requested.
func (s Stats) HitRate() float64 {
	total := s.Requests()
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total)
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
	lastAccess time.Time
}

// Cache is a TTL cache with least-recently-accessed eviction once capacity
// is reached. Expired entries are dropped lazily on access and by Sweep.
type Cache[K comparable, V any] struct {
	name       string
	maxEntries int
	ttl        time.Duration

	mu        sync.Mutex
	entries   map[K]*entry[V]
	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	now func() time.Time
}

// New builds a cache. maxEntries <= 0 means unbounded; ttl <= 0 means
// entries never expire.
func New[K comparable, V any](name string, maxEntries int, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		name:       name,
		maxEntries: maxEntries,
		ttl:        ttl,
		entries:    make(map[K]*entry[V]),
		now:        time.Now,
	}
}

// Get returns the cached value when present and fresh. A stale entry is
// removed and counts as a miss.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.isExpired(e) {
		delete(c.entries, key)
		c.expired++
		c.misses++
		return zero, false
	}
	e.lastAccess = c.now()
	c.hits++
	return e.value, true
}

// GetOrCompute returns the cached value or computes, stores, and returns a
// fresh one. The loader runs outside the cache lock; concurrent callers may
// race to compute the same key and the last write wins, which is harmless
// for a read-through cache.
func (c *Cache[K, V]) GetOrCompute(ctx context.Context, key K, loader func(context.Context) (V, error)) (V, error) {
	if value, ok := c.Get(key); ok {
		return value, nil
	}
	var zero V
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	value, err := loader(ctx)
	if err != nil {
		return zero, err
	}
	c.Put(key, value)
	return value, nil
}

// Put stores a value, evicting the least recently accessed entry when the
// cache is full.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.insertedAt = now
		existing.lastAccess = now
		return
	}
	if c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &entry[V]{value: value, insertedAt: now, lastAccess: now}
}

// Invalidate removes one key.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// InvalidateAll removes every entry without resetting counters.
func (c *Cache[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*entry[V])
}

// Len returns the current entry count, stale entries included.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if c.isExpired(e) {
			delete(c.entries, key)
			c.expired++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Name:      c.name,
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
}

func (c *Cache[K, V]) isExpired(e *entry[V]) bool {
	if c.ttl <= 0 {
		return false
	}
	return c.now().Sub(e.insertedAt) >= c.ttl
}

// evictOldestLocked drops the entry with the oldest access time.
func (c *Cache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for key, e := range c.entries {
		if !found || e.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = e.lastAccess
			found = true
		}
	}
	if found {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}
