// Package cache provides a TTL and capacity bounded result cache with
// insertion-order eviction.
package cache

import (
	"sync"
	"time"
)

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// Cache maps string keys to immutable values. Entries expire ttl after
// insertion and are purged lazily on Get. When the cache is at capacity,
// Set evicts the oldest-inserted entry; this is deliberately FIFO, not LRU:
// reads do not refresh an entry's position.
type Cache[T any] struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	entries    map[string]*entry[T]
	order      []string // insertion order, oldest first
	now        func() time.Time
}

// New creates a Cache holding at most maxEntries values for ttl each.
// maxEntries is floored at 1.
func New[T any](ttl time.Duration, maxEntries int) *Cache[T] {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache[T]{
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[T]),
		now:        time.Now,
	}
}

// Get returns the value for key if present and unexpired. Expired entries
// are removed on the way out.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		c.remove(key)
		return zero, false
	}
	return e.value, true
}

// Set inserts value under key with a fresh TTL. At capacity the single
// oldest-inserted entry is evicted first; evict-then-insert happens under
// one lock. Overwriting an existing key keeps its insertion position.
func (c *Cache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.remove(c.order[0])
	}
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &entry[T]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// Len reports the number of stored entries, including any not yet lazily
// purged.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// remove deletes key from both the map and the order slice. Must be called
// with c.mu held.
func (c *Cache[T]) remove(key string) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
