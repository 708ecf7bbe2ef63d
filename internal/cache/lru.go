package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

const defaultLocalMaxSize = 10000

// LRUCache keeps counter windows in process.
// When the table is full, expired windows go first, then the least recently bumped one.
type LRUCache struct {
	mu      sync.Mutex
	maxSize int
	windows map[string]*list.Element
	recency *list.List
	now     func() time.Time
}

type window struct {
	key     string
	count   int64
	resetAt time.Time
}

// NewLRUCache returns an in-process counter table holding at most maxSize windows.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = defaultLocalMaxSize
	}
	return &LRUCache{
		maxSize: maxSize,
		windows: make(map[string]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
}

// IncrementCounter bumps the window for (accountID, key), opening a new one if it has lapsed.
func (c *LRUCache) IncrementCounter(ctx context.Context, accountID string, key string, span time.Duration) (int64, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}
	id := accountID + "\x00" + key

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.windows[id]; ok {
		w := el.Value.(*window)
		c.recency.MoveToFront(el)
		if now.Before(w.resetAt) {
			w.count++
			return w.count, nil
		}
		w.count = 1
		w.resetAt = now.Add(span)
		return 1, nil
	}

	if len(c.windows) >= c.maxSize {
		c.makeRoom(now)
	}
	c.windows[id] = c.recency.PushFront(&window{key: id, count: 1, resetAt: now.Add(span)})
	return 1, nil
}

// makeRoom drops lapsed windows, or the stalest one if none have lapsed. Caller holds c.mu.
func (c *LRUCache) makeRoom(now time.Time) {
	for el := c.recency.Back(); el != nil; {
		prev := el.Prev()
		if !now.Before(el.Value.(*window).resetAt) {
			c.drop(el)
		}
		el = prev
	}
	if len(c.windows) >= c.maxSize {
		c.drop(c.recency.Back())
	}
}

func (c *LRUCache) drop(el *list.Element) {
	c.recency.Remove(el)
	delete(c.windows, el.Value.(*window).key)
}

// Ping always succeeds.
func (c *LRUCache) Ping(ctx context.Context) error {
	return nil
}

// Close forgets every window.
func (c *LRUCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows = make(map[string]*list.Element)
	c.recency.Init()
	return nil
}

// Stats reports tracked windows against capacity.
func (c *LRUCache) Stats() (size int, capacity int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.windows), c.maxSize
}
