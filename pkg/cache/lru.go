// Package cache provides an in-memory TTL cache and the read-through
// metadata catalog that fronts the catalog store for schema and field
// lookups.
package cache

import (
	"strings"
	"sync"
	"time"
)

// entry holds a cached value with its expiration time and insertion order.
type entry[V any] struct {
	value      V
	expiresAt  time.Time
	insertedAt time.Time
}

// LRUCache is a thread-safe in-memory cache with TTL and max-size eviction.
// When the cache reaches maxSize, the oldest entry (by insertion time) is
// evicted to make room for new entries. Expired entries are lazily evicted
// on Get.
type LRUCache[V any] struct {
	mu      sync.RWMutex
	items   map[string]*entry[V]
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewLRUCache creates a new LRU cache with the given maximum size and TTL.
// maxSize must be >= 1; ttl must be > 0.
func NewLRUCache[V any](maxSize int, ttl time.Duration) *LRUCache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &LRUCache[V]{
		items:   make(map[string]*entry[V], maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the lifetime of new entries.
func (c *LRUCache[V]) TTL() time.Duration { return c.ttl }

// Get retrieves a cached value by key. Returns the zero value and false if
// the key is missing or expired. Expired entries are lazily deleted.
func (c *LRUCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.items, key)
		return zero, false
	}
	return e.value, true
}

// Set stores a value in the cache. If the cache is at capacity, the oldest
// entry (by insertion time) is evicted before inserting.
func (c *LRUCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, ok := c.items[key]; !ok && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &entry[V]{
		value:      value,
		expiresAt:  now.Add(c.ttl),
		insertedAt: now,
	}
}

// Invalidate removes a specific key from the cache.
func (c *LRUCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidatePrefix removes every key starting with prefix and returns how
// many were removed.
func (c *LRUCache[V]) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// InvalidateAll removes all entries from the cache.
func (c *LRUCache[V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V], c.maxSize)
}

// Size returns the number of entries currently in the cache (including
// potentially expired ones that haven't been lazily cleaned).
func (c *LRUCache[V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// evictOldest removes the entry with the oldest insertedAt timestamp.
// Must be called with c.mu held.
func (c *LRUCache[V]) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}

	if !first {
		delete(c.items, oldestKey)
	}
}
