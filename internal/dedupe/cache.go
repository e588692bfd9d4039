// ABOUTME: Duplicate-suppression set backing the router's seen-id checks
// ABOUTME: TTL-bounded and size-capped; the only operation is an atomic check-and-mark

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry pairs a key's expiry with its position in the eviction order.
type entry struct {
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe, TTL-based, size-limited set of seen keys. The
// router keeps one instance for appended event ids and one for agent-emitted
// event ids. The TTL must stay above the loop guard's 60s trace window so a
// suppressed id cannot re-enter within the classification horizon.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys oldest-first for O(1) eviction
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a suppression set with the given TTL and maximum size. A
// background goroutine sweeps expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// CheckAndMark atomically checks whether a key has been seen and marks it if
// not. Returns true if the key was already seen (duplicate), false if it is
// new and now marked. This single atomic form is what gives the ingest
// pipeline its guarantee that exactly one concurrent publish wins per id.
func (c *Cache) CheckAndMark(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok {
		if now.Before(e.expiresAt) {
			return true
		}
		// Expired: the key counts as new again; refresh it in place.
		e.expiresAt = now.Add(c.ttl)
		c.order.MoveToBack(e.element)
		return false
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			key, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, key)
		}
	}

	c.seen[key] = &entry{
		expiresAt: now.Add(c.ttl),
		element:   c.order.PushBack(key),
	}
	return false
}

// sweep drops expired entries once a minute until Close.
func (c *Cache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.dropExpired()
		case <-c.done:
			return
		}
	}
}

// dropExpired removes every entry past its expiry.
func (c *Cache) dropExpired() {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.seen {
		if now.After(e.expiresAt) {
			c.order.Remove(e.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
