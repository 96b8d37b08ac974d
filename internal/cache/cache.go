package cache

import (
	"container/list"
	"sync"
	"time"
)

const defaultCapacity = 10_000

// Cache is a bounded in-memory cache with per-entry TTL. It is strictly an
// optimization layer: a miss must always be resolved against the
// authoritative store by the caller.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V, ttl time.Duration)
	Delete(key K)
	Len() int
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

type ttlCache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*list.Element
	order    *list.List // front = most recently used
	now      func() time.Time
}

// NewTTLCache returns a TTL cache with the default capacity.
func NewTTLCache[K comparable, V any]() Cache[K, V] {
	return NewBoundedTTLCache[K, V](defaultCapacity)
}

// NewBoundedTTLCache returns a TTL cache evicting least-recently-used entries
// once capacity is reached.
func NewBoundedTTLCache[K comparable, V any](capacity int) Cache[K, V] {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &ttlCache[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

func (c *ttlCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		return zero, false
	}
	ent := el.Value.(*entry[K, V])
	if c.now().After(ent.expiresAt) {
		c.removeLocked(el)
		return zero, false
	}
	c.order.MoveToFront(el)
	return ent.value, true
}

func (c *ttlCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[K, V])
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return
	}

	for len(c.items) >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	el := c.order.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = el
}

func (c *ttlCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

func (c *ttlCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *ttlCache[K, V]) removeLocked(el *list.Element) {
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.order.Remove(el)
}
