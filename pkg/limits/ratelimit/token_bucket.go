package ratelimit

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket allows bursts up to its capacity while holding the average
// rate at refillRate tokens per second. Each request consumes one or more
// tokens; a request that finds too few tokens is rejected.
//
// # Algorithm
//
//  1. Add tokens for the time elapsed since the last refill
//  2. Cap at capacity
//  3. Consume tokens if enough are available
//
// TokenBucket is safe for concurrent use.
type TokenBucket struct {
	capacity   float64
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
	clock      clock.Clock
	mu         sync.Mutex
}

// NewTokenBucket creates a full bucket.
//
// Example:
//
//	// 10 requests/sec average, burst up to 40
//	bucket := NewTokenBucket(40, 10, clock.New())
func NewTokenBucket(capacity int64, refillRate float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
		clock:      clk,
	}
}

// Take attempts to consume n tokens and reports whether it did.
func (tb *TokenBucket) Take(n int64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	tb.lastUsed = tb.lastRefill
	if tb.tokens >= float64(n) {
		tb.tokens -= float64(n)
		return true
	}
	return false
}

// Remaining returns the whole tokens currently available.
func (tb *TokenBucket) Remaining() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return int64(tb.tokens)
}

// Capacity returns the maximum bucket capacity.
func (tb *TokenBucket) Capacity() int64 {
	return int64(tb.capacity)
}

// LastUsed returns when Take was last called.
func (tb *TokenBucket) LastUsed() time.Time {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.lastUsed
}

// Reset refills the bucket to capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.tokens = tb.capacity
	tb.lastRefill = tb.clock.Now()
}

// TimeUntilAvailable returns how long until n tokens will be available.
// Returns 0 if tokens are immediately available.
func (tb *TokenBucket) TimeUntilAvailable(n int64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	if tb.tokens >= float64(n) {
		return 0
	}
	if tb.refillRate <= 0 {
		return time.Duration(1<<63 - 1)
	}
	needed := float64(n) - tb.tokens
	return time.Duration(needed / tb.refillRate * float64(time.Second))
}

// refillLocked adds tokens for the elapsed time. Caller must hold lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.clock.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed.Seconds() * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}
