// Package lru implements a fixed-capacity least-recently-used cache whose
// entries carry their own time-to-live.
package lru

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidCapacity is returned by New when capacity is not positive.
var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

// EvictReason tells an eviction callback why an entry was dropped.
type EvictReason int

const (
	EvictCapacity EvictReason = iota
	EvictExpired
)

func (r EvictReason) String() string {
	switch r {
	case EvictCapacity:
		return "capacity"
	case EvictExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EvictFunc is called outside the cache lock for every entry dropped by
// capacity pressure or lazy expiry. Explicit Remove and Purge do not call it.
type EvictFunc[K comparable, V any] func(key K, value V, reason EvictReason)

type node[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time // zero means never
	prev      *node[K, V]
	next      *node[K, V]
}

// Cache is safe for concurrent use. The list runs from head (most recently
// used) to tail (least recently used), both ends being sentinels.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*node[K, V]
	head     *node[K, V]
	tail     *node[K, V]
	onEvict  EvictFunc[K, V]
	now      func() time.Time
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithEvictFunc registers a callback for capacity and expiry drops.
func WithEvictFunc[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.now = now
	}
}

// New creates a cache holding at most capacity entries.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	head := &node[K, V]{}
	tail := &node[K, V]{}
	head.next = tail
	tail.prev = head

	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V], capacity),
		head:     head,
		tail:     tail,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value for key if present and not expired, promoting it to
// most recently used. An expired entry is removed.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	c.mu.Lock()
	n, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return zero, false
	}
	if n.expired(c.now()) {
		c.unlink(n)
		delete(c.items, key)
		c.mu.Unlock()
		c.evicted(n, EvictExpired)
		return zero, false
	}
	c.moveToFront(n)
	value := n.value
	c.mu.Unlock()

	return value, true
}

// Put inserts or overwrites key. Overwriting bumps recency and resets the
// TTL. Inserting a new key at capacity first evicts the least recently used
// entry. A ttl <= 0 means the entry never expires.
func (c *Cache[K, V]) Put(key K, value V, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	c.mu.Lock()
	if n, ok := c.items[key]; ok {
		n.value = value
		n.expiresAt = expiresAt
		c.moveToFront(n)
		c.mu.Unlock()
		return
	}

	var victim *node[K, V]
	if len(c.items) >= c.capacity {
		victim = c.tail.prev
		c.unlink(victim)
		delete(c.items, victim.key)
	}

	n := &node[K, V]{key: key, value: value, expiresAt: expiresAt}
	c.items[key] = n
	c.pushFront(n)
	c.mu.Unlock()

	if victim != nil {
		c.evicted(victim, EvictCapacity)
	}
}

// Remove deletes key. It is a no-op if key is absent.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		c.unlink(n)
		delete(c.items, key)
	}
}

// Len returns the number of entries, including expired entries that have
// not been read since they expired.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for n := c.head.next; n != c.tail; n = n.next {
		keys = append(keys, n.key)
	}
	return keys
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*node[K, V], c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

func (c *Cache[K, V]) evicted(n *node[K, V], reason EvictReason) {
	if c.onEvict != nil {
		c.onEvict(n.key, n.value, reason)
	}
}

func (c *Cache[K, V]) pushFront(n *node[K, V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *Cache[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev = nil
	n.next = nil
}

func (c *Cache[K, V]) moveToFront(n *node[K, V]) {
	if c.head.next == n {
		return
	}
	c.unlink(n)
	c.pushFront(n)
}

func (n *node[K, V]) expired(now time.Time) bool {
	return !n.expiresAt.IsZero() && !now.Before(n.expiresAt)
}
