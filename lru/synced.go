package lru

import "sync"

// Synced is a Cache guarded by a mutex. Use it when the cache is shared between
// goroutines; every call, including Get, takes the exclusive lock since reads
// reorder the recency list.
type Synced[K comparable, V any] struct {
	mu    sync.Mutex
	cache *Cache[K, V]
}

// NewSynced creates a mutex-guarded Cache holding at most capacity entries.
func NewSynced[K comparable, V any](capacity int, opts ...Option[K, V]) *Synced[K, V] {
	return &Synced[K, V]{cache: New(capacity, opts...)}
}

// Put stores value under key. See Cache.Put.
func (s *Synced[K, V]) Put(key K, value V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Put(key, value)
}

// Get returns the value stored under key. See Cache.Get.
func (s *Synced[K, V]) Get(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Get(key)
}

// GetOrPut returns the value stored under key, storing the result of create
// first if the key is missing. create runs under the lock and must not call
// back into s. The boolean reports whether the value was already present.
func (s *Synced[K, V]) GetOrPut(key K, create func() V) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.cache.Get(key); ok {
		return v, true
	}

	v := create()
	s.cache.Put(key, v)
	return v, false
}

// Peek returns the value stored under key without touching its recency.
func (s *Synced[K, V]) Peek(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Peek(key)
}

// Remove deletes key and returns the value it held.
func (s *Synced[K, V]) Remove(key K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Remove(key)
}

// Keys returns the keys ordered from most to least recently used.
func (s *Synced[K, V]) Keys() []K {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Keys()
}

// Len returns the number of entries.
func (s *Synced[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.cache.Len()
}

// Purge drops every entry.
func (s *Synced[K, V]) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()
}

// Cap returns the capacity the cache was built with.
func (s *Synced[K, V]) Cap() int {
	return s.cache.Cap()
}
