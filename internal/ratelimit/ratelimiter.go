// Package ratelimit implements a token-bucket models.RateLimiter keyed by
// string: LoadRequest reserves against both a "global" key and, when a
// download belongs to a Queue, that queue's own key, so a queue-level cap
// and the process-wide cap both apply to the same chunk transfer.
//
// Adapted from the teacher's internal/ratelimit/ratelimiter.go: same
// token-bucket refill math, but each bucket now owns its own mutex instead
// of sharing one map-wide lock, since fetchmux's sibling chunk goroutines
// reserve against several distinct keys concurrently and a single lock
// would serialize transfers on unrelated queues.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket is one key's token-bucket state: capacity and current tokens are
// both denominated in bytes per second, refilled continuously based on
// elapsed wall time since the last reservation.
type bucket struct {
	mu         sync.Mutex
	capacity   int64
	tokens     int64
	lastRefill time.Time
}

func (b *bucket) reserve(bytes int64) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.capacity <= 0 {
		return 0
	}

	now := time.Now()
	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		if refill := int64(float64(b.capacity) * elapsed); refill > 0 {
			b.tokens += refill
			if b.tokens > b.capacity {
				b.tokens = b.capacity
			}
			b.lastRefill = now
		}
	}

	if b.tokens >= bytes {
		b.tokens -= bytes
		return 0
	}
	needed := bytes - b.tokens
	b.tokens = 0
	return time.Duration(float64(needed) / float64(b.capacity) * float64(time.Second))
}

func (b *bucket) setLimit(bytesPerSecond int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = bytesPerSecond
	b.tokens = bytesPerSecond
	b.lastRefill = time.Now()
}

// BucketLimiter is a models.RateLimiter backed by one token bucket per key.
// A key with no configured limit (SetLimit never called, or called with a
// non-positive value) reserves with zero wait -- unlimited by default,
// matching the teacher's "no bucket registered" behavior.
type BucketLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New returns an empty BucketLimiter. Callers register per-key limits with
// SetLimit before the first Reserve against that key; an unregistered key
// is unthrottled.
func New() *BucketLimiter {
	return &BucketLimiter{buckets: make(map[string]*bucket)}
}

func (l *BucketLimiter) bucketFor(key string) (*bucket, bool) {
	l.mu.RLock()
	b, ok := l.buckets[key]
	l.mu.RUnlock()
	return b, ok
}

// Reserve reports how long the caller should wait before consuming bytes
// against key's bucket. ctx is accepted to satisfy models.RateLimiter and
// for future cancellation of a long wait; the token math itself never
// blocks.
func (l *BucketLimiter) Reserve(ctx context.Context, key string, bytes int64) (time.Duration, error) {
	b, ok := l.bucketFor(key)
	if !ok {
		return 0, nil
	}
	return b.reserve(bytes), nil
}

// SetLimit sets or replaces key's rate limit, creating the bucket on first
// use and resetting it to full so a config change (e.g. a Queue's rate
// limit edited mid-run) takes effect immediately rather than waiting for
// the old bucket to refill.
func (l *BucketLimiter) SetLimit(key string, bytesPerSecond int64) {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{}
		l.buckets[key] = b
	}
	l.mu.Unlock()
	b.setLimit(bytesPerSecond)
}
