package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type lruEntry[V any] struct {
	key     string
	value   V
	expires time.Time // zero = never
}

// LRU is a size-bounded in-process cache. Least recently used entries are
// evicted first; expired entries are dropped lazily on access.
type LRU[V any] struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	ll    *list.List
	items map[string]*list.Element
	now   func() time.Time
	stats stats
}

// NewLRU returns an LRU holding at most opts.MaxSize entries (default 1000).
func NewLRU[V any](opts Options) *LRU[V] {
	if opts.MaxSize <= 0 {
		opts.MaxSize = 1000
	}
	return &LRU[V]{
		max:   opts.MaxSize,
		ttl:   opts.TTL,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
		stats: newStats(opts.Name),
	}
}

func (c *LRU[V]) Get(_ context.Context, key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.stats.record(false)
		return zero, false
	}
	e := el.Value.(*lruEntry[V])
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.removeLocked(el)
		c.stats.record(false)
		return zero, false
	}
	c.ll.MoveToFront(el)
	c.stats.record(true)
	return e.value, true
}

func (c *LRU[V]) Set(_ context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var exp time.Time
	if c.ttl > 0 {
		exp = c.now().Add(c.ttl)
	}
	if el, ok := c.items[key]; ok {
		e := el.Value.(*lruEntry[V])
		e.value, e.expires = value, exp
		c.ll.MoveToFront(el)
		return nil
	}
	c.items[key] = c.ll.PushFront(&lruEntry[V]{key: key, value: value, expires: exp})
	for c.ll.Len() > c.max {
		c.removeLocked(c.ll.Back())
	}
	c.stats.size.SetFloat64(float64(c.ll.Len()))
	return nil
}

func (c *LRU[V]) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

func (c *LRU[V]) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.stats.size.SetFloat64(0)
	return nil
}

// Len reports the number of entries, including not yet collected expired ones.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *LRU[V]) removeLocked(el *list.Element) {
	e := c.ll.Remove(el).(*lruEntry[V])
	delete(c.items, e.key)
	c.stats.size.SetFloat64(float64(c.ll.Len()))
}
