// Package cache provides the result stores used in front of paid upstream
// calls: an in-process TTL map with in-flight tracking and a Redis adapter.
package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultTTL is how long a stored result stays fresh
const DefaultTTL = 15 * time.Minute

// Status represents the result of checking the cache.
type Status int

const (
	// StatusNotFound means no cached result and no in-flight request.
	StatusNotFound Status = iota
	// StatusCached means a cached result was found.
	StatusCached
	// StatusInFlight means another caller is producing this result.
	StatusInFlight
)

type entry[V any] struct {
	value  V
	expiry time.Time
}

// Memory is a mutex-guarded TTL cache that also tracks keys currently being
// produced, so concurrent identical misses pay for the upstream call once.
type Memory[V any] struct {
	mu       sync.Mutex
	entries  map[string]entry[V]
	inFlight map[string]chan struct{}
	ttl      time.Duration
	now      func() time.Time
}

// MemoryOption configures a Memory cache
type MemoryOption func(*memoryConfig)

type memoryConfig struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL sets the entry lifetime
func WithTTL(ttl time.Duration) MemoryOption {
	return func(c *memoryConfig) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) MemoryOption {
	return func(c *memoryConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemory creates an empty cache
func NewMemory[V any](opts ...MemoryOption) *Memory[V] {
	cfg := memoryConfig{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Memory[V]{
		entries:  make(map[string]entry[V]),
		inFlight: make(map[string]chan struct{}),
		ttl:      cfg.ttl,
		now:      cfg.now,
	}
}

// Get returns the value stored under key if it has not expired
func (c *Memory[V]) Get(_ context.Context, key string) (V, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.getLocked(key)
	return v, ok, nil
}

// Put stores value under key for the configured TTL
func (c *Memory[V]) Put(_ context.Context, key string, value V) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiry: c.now().Add(c.ttl)}
	c.cleanupExpiredLocked()
	return nil
}

// Len returns the number of live entries
func (c *Memory[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupExpiredLocked()
	return len(c.entries)
}

// CheckAndMark atomically checks the cache and marks the key as in-flight if needed.
// Returns:
// - StatusCached + value if a fresh value exists
// - StatusInFlight + wait channel if another caller is producing it
// - StatusNotFound + done channel if this caller should proceed (now marked in-flight)
func (c *Memory[V]) CheckAndMark(key string) (Status, V, chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.getLocked(key); ok {
		return StatusCached, v, nil
	}

	var zero V
	if done, exists := c.inFlight[key]; exists {
		return StatusInFlight, zero, done
	}

	done := make(chan struct{})
	c.inFlight[key] = done
	return StatusNotFound, zero, done
}

// WaitForResult waits for an in-flight producer, respecting context cancellation.
// ok is false when the producer failed and nothing was stored.
func (c *Memory[V]) WaitForResult(ctx context.Context, key string, done chan struct{}) (V, bool, error) {
	select {
	case <-done:
		return c.Get(ctx, key)
	case <-ctx.Done():
		var zero V
		return zero, false, ctx.Err()
	}
}

// Complete stores value, clears the in-flight marker and wakes waiters
func (c *Memory[V]) Complete(key string, value V, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, expiry: c.now().Add(c.ttl)}
	c.release(key, done)
	c.cleanupExpiredLocked()
}

// Fail clears the in-flight marker without storing anything; waiters retry
func (c *Memory[V]) Fail(key string, done chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.release(key, done)
}

func (c *Memory[V]) release(key string, done chan struct{}) {
	if current, ok := c.inFlight[key]; ok && current == done {
		delete(c.inFlight, key)
	}
	select {
	case <-done:
	default:
		close(done)
	}
}

func (c *Memory[V]) getLocked(key string) (V, bool) {
	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if !c.now().Before(e.expiry) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (c *Memory[V]) cleanupExpiredLocked() {
	now := c.now()
	for key, e := range c.entries {
		if !now.Before(e.expiry) {
			delete(c.entries, key)
		}
	}
}
