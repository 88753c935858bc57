// Package cache provides a single-slot, time-bounded value cache.
package cache

import (
	"context"
	"sync"
	"time"
)

// TTL holds at most one value together with the time it was fetched. The
// value is reused while now - fetchedAt < ttl; after that the next Get
// refreshes it synchronously.
//
// Get holds a lock across "check, refresh, store", so concurrent callers
// share one upstream call instead of racing.
type TTL[T any] struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.Mutex
	value     T
	fetchedAt time.Time
	valid     bool
}

// NewTTL returns an empty cache slot. now may be nil, in which case
// time.Now is used.
func NewTTL[T any](ttl time.Duration, now func() time.Time) *TTL[T] {
	if now == nil {
		now = time.Now
	}
	return &TTL[T]{ttl: ttl, now: now}
}

// Get returns the cached value if it is still fresh, otherwise it calls
// fetch and stores the result. Errors from fetch are returned as-is and are
// not cached; the slot is emptied so the next call retries upstream.
func (c *TTL[T]) Get(ctx context.Context, fetch func(context.Context) (T, error)) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.value, nil
	}

	v, err := fetch(ctx)
	if err != nil {
		var zero T
		c.valid = false
		return zero, err
	}

	c.value = v
	c.fetchedAt = c.now()
	c.valid = true
	return v, nil
}

// Invalidate drops the cached value so the next Get refreshes.
func (c *TTL[T]) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// FetchedAt returns when the current value was fetched and whether a value
// is held at all.
func (c *TTL[T]) FetchedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchedAt, c.valid
}
