// ABOUTME: TTL set of message timestamps the gateway sent itself
// ABOUTME: Lets the event engine suppress the backend's echo of our own messages

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTTL is how long a sent message is expected to echo back.
const DefaultTTL = 10 * time.Second

// cacheEntry stores the mark time and list element for a cached key.
type cacheEntry struct {
	marked  time.Time
	element *list.Element
}

// Cache is a size-limited set of keys with a per-entry expiry. Keys are
// removed when consumed, when they expire, or when the cache is full.
// Insertion order is kept in a linked list so pruning and eviction stop at
// the first live entry.
type Cache[K comparable] struct {
	mu      sync.Mutex
	seen    map[K]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Cache.
type Option[K comparable] func(*Cache[K])

// WithClock replaces time.Now, for tests.
func WithClock[K comparable](now func() time.Time) Option[K] {
	return func(c *Cache[K]) { c.now = now }
}

// New creates a cache with the given TTL and maximum size.
func New[K comparable](ttl time.Duration, maxSize int, opts ...Option[K]) *Cache[K] {
	c := &Cache[K]{
		seen:    make(map[K]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mark records key. Marking an existing key refreshes nothing: an entry is
// never re-added or extended once it exists.
func (c *Cache[K]) Mark(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.seen[key]; exists {
		return
	}
	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{marked: c.now(), element: elem}
}

// Consume reports whether key is present and unexpired, removing it either
// way. A true result means exactly one echo was suppressed.
func (c *Cache[K]) Consume(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	if !ok {
		return false
	}
	live := c.now().Sub(entry.marked) < c.ttl
	c.removeLocked(entry.element)
	return live
}

// Check reports whether key is present and unexpired without consuming it.
func (c *Cache[K]) Check(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	return ok && c.now().Sub(entry.marked) < c.ttl
}

// Prune removes every expired entry.
func (c *Cache[K]) Prune() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for e := c.order.Front(); e != nil; {
		next := e.Next()
		key, _ := e.Value.(K)
		if now.Sub(c.seen[key].marked) < c.ttl {
			// Entries are in mark order, everything after is newer.
			return
		}
		c.removeLocked(e)
		e = next
	}
}

// Len returns the number of tracked keys, expired or not.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// removeLocked drops one element. Must be called with mu held.
func (c *Cache[K]) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	key, _ := e.Value.(K)
	c.order.Remove(e)
	delete(c.seen, key)
}
