// Package store provides a generic in-memory key-value store with TTL
// support, used for per-call session state and cached conversations.
package store

import (
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e *entry[V]) expired() bool {
	return time.Now().After(e.expiresAt)
}

// TTLStore is a concurrency-safe map with per-entry expiry and a background
// cleanup loop. Update closures run under the store lock, so read-modify-write
// sequences on a single key are atomic with respect to other callers.
type TTLStore[K comparable, V any] struct {
	mu       sync.RWMutex
	items    map[K]*entry[V]
	stopCh   chan struct{}
	interval time.Duration
	onEvict  func(key K, value V)
}

// NewTTLStore creates a store whose cleanup loop runs every cleanupInterval.
func NewTTLStore[K comparable, V any](cleanupInterval time.Duration) *TTLStore[K, V] {
	s := &TTLStore[K, V]{
		items:    make(map[K]*entry[V]),
		stopCh:   make(chan struct{}),
		interval: cleanupInterval,
	}
	go s.cleanupLoop()
	return s
}

// SetOnEvict registers a callback invoked when entries expire out of the
// store. It is not called on explicit Delete.
func (s *TTLStore[K, V]) SetOnEvict(fn func(key K, value V)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvict = fn
}

// Set stores a value with the given TTL, replacing any existing entry.
func (s *TTLStore[K, V]) Set(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// SetIfAbsent stores a value only if the key has no live entry. Returns true
// if the value was stored.
func (s *TTLStore[K, V]) SetIfAbsent(key K, value V, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.items[key]; ok && !existing.expired() {
		return false
	}
	s.items[key] = &entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	return true
}

// Get retrieves a value by key. Returns the value and true if found and not
// expired.
func (s *TTLStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[key]
	if !ok || e.expired() {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Update applies fn to the value of an existing live key under the store
// lock. Returns false if the key is missing or expired.
func (s *TTLStore[K, V]) Update(key K, fn func(V) V) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok || e.expired() {
		return false
	}
	e.value = fn(e.value)
	return true
}

// Delete removes a key. Returns true if a live entry was removed.
func (s *TTLStore[K, V]) Delete(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[key]
	if !ok {
		return false
	}
	delete(s.items, key)
	return !e.expired()
}

// Len returns the number of live entries.
func (s *TTLStore[K, V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, e := range s.items {
		if !e.expired() {
			count++
		}
	}
	return count
}

// Close stops the cleanup goroutine and drops all entries.
func (s *TTLStore[K, V]) Close() {
	close(s.stopCh)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[K]*entry[V])
}

func (s *TTLStore[K, V]) cleanupLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

func (s *TTLStore[K, V]) cleanup() {
	s.mu.Lock()
	var evicted []struct {
		key   K
		value V
	}
	for key, e := range s.items {
		if e.expired() {
			evicted = append(evicted, struct {
				key   K
				value V
			}{key, e.value})
			delete(s.items, key)
		}
	}
	onEvict := s.onEvict
	s.mu.Unlock()

	// Callbacks run outside the critical section to avoid deadlocks.
	if onEvict != nil {
		for _, e := range evicted {
			onEvict(e.key, e.value)
		}
	}
}
