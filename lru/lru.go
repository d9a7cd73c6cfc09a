// Package lru provides a fixed-capacity key/value cache with least-recently-used eviction.
//
// Cache is a single-goroutine structure: it does no locking of its own. Wrap it
// in Synced, or guard it yourself, when it is shared between goroutines.
package lru

import "fmt"

// entry is a node in the recency list.
type entry[K comparable, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

// Cache is a bounded map that evicts the least recently used entry on overflow.
type Cache[K comparable, V any] struct {
	capacity int
	items    map[K]*entry[K, V]

	// head is the most recently used entry, tail the least.
	head *entry[K, V]
	tail *entry[K, V]

	onEvict func(key K, value V)
}

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers a hook called for every entry dropped because the cache
// ran over capacity. It is not called for Remove or Purge.
func WithOnEvict[K comparable, V any](fn func(key K, value V)) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// New creates a Cache holding at most capacity entries.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		panic(fmt.Sprintf("lru: capacity must be positive, got %d", capacity))
	}

	c := &Cache[K, V]{
		capacity: capacity,
		items:    make(map[K]*entry[K, V], capacity),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Put stores value under key and marks it most recently used. It returns the
// value previously stored under key, if any.
func (c *Cache[K, V]) Put(key K, value V) (V, bool) {
	if e, ok := c.items[key]; ok {
		prev := e.value
		e.value = value
		c.moveToFront(e)
		return prev, true
	}

	e := &entry[K, V]{key: key, value: value}
	c.items[key] = e
	c.pushFront(e)

	if len(c.items) > c.capacity {
		c.evictOldest()
	}

	var zero V
	return zero, false
}

// Get returns the value stored under key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	c.moveToFront(e)
	return e.value, true
}

// Peek returns the value stored under key without touching its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	if e, ok := c.items[key]; ok {
		return e.value, true
	}

	var zero V
	return zero, false
}

// Contains reports whether key is present, without touching its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Remove deletes key and returns the value it held.
func (c *Cache[K, V]) Remove(key K) (V, bool) {
	e, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	c.unlink(e)
	delete(c.items, key)
	return e.value, true
}

// Oldest returns the least recently used entry without touching it.
func (c *Cache[K, V]) Oldest() (K, V, bool) {
	if c.tail == nil {
		var (
			k K
			v V
		)
		return k, v, false
	}

	return c.tail.key, c.tail.value, true
}

// Keys returns the keys ordered from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.items))
	for e := c.head; e != nil; e = e.next {
		keys = append(keys, e.key)
	}

	return keys
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	return len(c.items)
}

// Cap returns the capacity the cache was built with.
func (c *Cache[K, V]) Cap() int {
	return c.capacity
}

// Purge drops every entry.
func (c *Cache[K, V]) Purge() {
	c.items = make(map[K]*entry[K, V], c.capacity)
	c.head = nil
	c.tail = nil
}

func (c *Cache[K, V]) evictOldest() {
	e := c.tail
	if e == nil {
		return
	}

	c.unlink(e)
	delete(c.items, e.key)

	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}

func (c *Cache[K, V]) pushFront(e *entry[K, V]) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e

	if c.tail == nil {
		c.tail = e
	}
}

func (c *Cache[K, V]) unlink(e *entry[K, V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}

	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}

	e.prev = nil
	e.next = nil
}

func (c *Cache[K, V]) moveToFront(e *entry[K, V]) {
	if c.head == e {
		return
	}

	c.unlink(e)
	c.pushFront(e)
}
