// ABOUTME: Thread-safe TTL + LRU cache of recently processed delivery keys
// ABOUTME: Claim/Release let a caller reserve a key and give it back on failure

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/2389/helpdesk-gateway/internal/metrics"
)

// DeliveryKey builds the cache key for a platform message on a page.
func DeliveryKey(pageID, messageID string) string {
	return pageID + "/" + messageID
}

type entry struct {
	key     string
	claimed time.Time
}

// Cache tracks claimed keys. The list is kept in claim order (oldest at
// front) so eviction is O(1).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its background sweeper.
func New(ttl time.Duration, maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1
	}
	c := &Cache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval(ttl))
	return c
}

func sweepInterval(ttl time.Duration) time.Duration {
	if ttl < time.Minute {
		return ttl
	}
	return time.Minute
}

// Claim reserves key. It returns true if the key was free (never seen or
// expired) and is now held, false if it is a duplicate.
func (c *Cache) Claim(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return false
		}
		e.claimed = now
		c.order.MoveToBack(el)
		return true
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.entries[key] = c.order.PushBack(&entry{key: key, claimed: now})
	c.notifyLocked()
	return true
}

// Release forgets key so a later delivery can be processed again. Used when
// processing a claimed delivery failed.
func (c *Cache) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
		c.notifyLocked()
	}
}

// notifyLocked publishes the key count. Must be called with mu held.
func (c *Cache) notifyLocked() {
	metrics.DedupeKeys.Set(float64(len(c.entries)))
}

func (c *Cache) evictOldestLocked() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.entries, front.Value.(*entry).key)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
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

// sweep drops expired keys. Entries are in claim order, so it stops at the
// first live one.
func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.notifyLocked()

	now := c.now()
	for el := c.order.Front(); el != nil; {
		e := el.Value.(*entry)
		if now.Sub(e.claimed) < c.ttl {
			return
		}
		next := el.Next()
		c.order.Remove(el)
		delete(c.entries, e.key)
		el = next
	}
}

// Close stops the sweeper. Safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
