// Package cache holds the last good aggregation result in process memory.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long a result counts as fresh.
const DefaultTTL = 60 * time.Second

// Entry is a cached value and the wall-clock time it was produced.
type Entry[T any] struct {
	Value      T
	ProducedAt time.Time
}

// ResultCache keeps a single entry. Put replaces it whole; Get never evicts, so an
// expired entry stays available as a stale fallback.
type ResultCache[T any] struct {
	mu    sync.RWMutex
	entry *Entry[T]
	ttl   time.Duration
	now   func() time.Time
}

type Option func(*options)

type options struct {
	ttl time.Duration
	now func() time.Time
}

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *options) { o.ttl = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func NewResultCache[T any](opts ...Option) *ResultCache[T] {
	o := options{ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &ResultCache[T]{ttl: o.ttl, now: o.now}
}

// Get returns the current entry regardless of age.
func (c *ResultCache[T]) Get() (T, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		var zero T
		return zero, time.Time{}, false
	}
	return c.entry.Value, c.entry.ProducedAt, true
}

// Put stores value as produced now.
func (c *ResultCache[T]) Put(value T) {
	e := &Entry[T]{Value: value, ProducedAt: c.now()}
	c.mu.Lock()
	c.entry = e
	c.mu.Unlock()
}

// IsFresh reports whether an entry exists and is younger than the TTL.
func (c *ResultCache[T]) IsFresh() bool {
	age, ok := c.Age()
	return ok && age < c.ttl
}

// Age is the time since the entry was produced; ok is false when empty.
func (c *ResultCache[T]) Age() (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.entry == nil {
		return 0, false
	}
	return c.now().Sub(c.entry.ProducedAt), true
}

// TTL is the freshness window.
func (c *ResultCache[T]) TTL() time.Duration { return c.ttl }
