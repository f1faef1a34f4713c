// ABOUTME: Thread-safe TTL cache for recognizing repeated keys
// ABOUTME: Backs idempotent publishing; expiry and cleanup run on an injectable clock

package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/coder/quartz"
)

// cleanupInterval is how often expired keys are swept.
const cleanupInterval = time.Minute

// cacheEntry stores the timestamp and list element for a cached key.
type cacheEntry struct {
	timestamp time.Time
	element   *list.Element
}

// Cache is a TTL-based, size-limited set of recently seen keys.
// Insertion order is kept in a linked list so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	clock   quartz.Clock

	cancel    context.CancelFunc
	cleaner   quartz.Waiter
	closeOnce sync.Once
}

// New creates a cache holding keys for ttl, at most maxSize at a time.
// A nil clock means the real clock. Close stops the background sweep.
func New(ttl time.Duration, maxSize int, clock quartz.Clock) *Cache {
	if clock == nil {
		clock = quartz.NewReal()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock,
		cancel:  cancel,
	}
	c.cleaner = clock.TickerFunc(ctx, cleanupInterval, func() error {
		c.runCleanup()
		return nil
	}, "dedupe", "cleanup")
	return c
}

// CheckAndMark reports whether key was seen within the TTL, marking it when not.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if entry, ok := c.seen[key]; ok && now.Sub(entry.timestamp) < c.ttl {
		return true
	}
	c.markLocked(key, now)
	return false
}

// Forget drops key so the next CheckAndMark treats it as new.
func (c *Cache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.seen[key]; ok {
		c.order.Remove(entry.element)
		delete(c.seen, key)
	}
}

// Len returns the number of keys held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, now time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.timestamp = now
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{timestamp: now, element: elem}
}

// evictOldest must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, entry := range c.seen {
		if now.Sub(entry.timestamp) >= c.ttl {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.cleaner.Wait()
	})
}
