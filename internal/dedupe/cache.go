// ABOUTME: Thread-safe TTL and size bounded seen-set keyed by any comparable type
// ABOUTME: Lets the read-receipt tracker skip store round trips for repeated acknowledgments

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cleanupInterval is how often expired entries are swept.
const cleanupInterval = time.Minute

type entry[K comparable] struct {
	key    K
	seenAt time.Time
}

// Cache remembers keys for ttl, holding at most maxSize of them. The oldest
// key is evicted first when full. The zero value is not usable; call New.
type Cache[K comparable] struct {
	mu      sync.Mutex
	index   map[K]*list.Element // element values are *entry[K]
	order   *list.List          // oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache and starts its background sweeper. Call Close to
// stop it.
func New[K comparable](ttl time.Duration, maxSize int) *Cache[K] {
	if maxSize < 1 {
		maxSize = 1
	}
	c := &Cache[K]{
		index:   make(map[K]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Seen reports whether key was marked within the TTL.
func (c *Cache[K]) Seen(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(key)
}

// CheckAndMark marks key and reports whether it had already been seen.
// The check and the mark happen under one lock.
func (c *Cache[K]) CheckAndMark(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.liveLocked(key) {
		return true
	}
	c.markLocked(key)
	return false
}

// Mark records key as seen now, refreshing it if already present.
func (c *Cache[K]) Mark(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key)
}

// Forget drops key so the next CheckAndMark treats it as new.
func (c *Cache[K]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.index[key]; ok {
		c.order.Remove(elem)
		delete(c.index, key)
	}
}

// Len returns the number of keys held, including expired ones not yet swept.
func (c *Cache[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}

func (c *Cache[K]) liveLocked(key K) bool {
	elem, ok := c.index[key]
	if !ok {
		return false
	}
	return c.now().Sub(elem.Value.(*entry[K]).seenAt) < c.ttl
}

func (c *Cache[K]) markLocked(key K) {
	now := c.now()

	if elem, ok := c.index[key]; ok {
		elem.Value.(*entry[K]).seenAt = now
		c.order.MoveToBack(elem)
		return
	}

	if len(c.index) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			c.order.Remove(front)
			delete(c.index, front.Value.(*entry[K]).key)
		}
	}

	c.index[key] = c.order.PushBack(&entry[K]{key: key, seenAt: now})
}

func (c *Cache[K]) sweepLoop() {
	ticker := time.NewTicker(cleanupInterval)
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

// sweep removes expired entries. Entries are ordered by last mark, so it
// stops at the first live one.
func (c *Cache[K]) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for elem := c.order.Front(); elem != nil; {
		e := elem.Value.(*entry[K])
		if now.Sub(e.seenAt) < c.ttl {
			return
		}
		next := elem.Next()
		c.order.Remove(elem)
		delete(c.index, e.key)
		elem = next
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (c *Cache[K]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
