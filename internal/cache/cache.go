// ABOUTME: Thread-safe TTL cache with LRU eviction.
// ABOUTME: Used by the search tool to reuse recent query results.

package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry stores a cached value, its write time and its list element.
type entry[V any] struct {
	key     string
	value   V
	written time.Time
	element *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited cache.
// A doubly-linked list keeps write order so eviction is O(1).
type Cache[V any] struct {
	mu      sync.Mutex
	items   map[string]*entry[V]
	order   *list.List // keys, oldest write at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize entries, each valid for ttl.
// A background goroutine periodically removes expired entries until Close.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache[V]{
		items:   make(map[string]*entry[V]),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		return zero, false
	}
	if c.now().Sub(e.written) >= c.ttl {
		c.removeLocked(e)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.items[key]; ok {
		e.value = value
		e.written = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.items) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.removeLocked(c.items[front.Value.(string)])
		}
	}

	e := &entry[V]{key: key, value: value, written: now}
	e.element = c.order.PushBack(key)
	c.items[key] = e
}

// Len reports the number of entries, including any not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// removeLocked drops e. Must be called with mu held.
func (c *Cache[V]) removeLocked(e *entry[V]) {
	if e == nil {
		return
	}
	c.order.Remove(e.element)
	delete(c.items, e.key)
}

func (c *Cache[V]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

// sweep removes all expired entries.
func (c *Cache[V]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, e := range c.items {
		if now.Sub(e.written) >= c.ttl {
			c.removeLocked(e)
		}
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
