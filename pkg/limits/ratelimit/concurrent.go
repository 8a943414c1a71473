package ratelimit

import (
	"sync"
	"sync/atomic"
)

// ConcurrentLimiter limits the number of simultaneous holders.
//
// It is a lock-free counting semaphore:
//
//  1. Atomically increment counter
//  2. If the counter exceeds the limit, decrement and reject
//  3. On completion, decrement
type ConcurrentLimiter struct {
	limit   int64
	current atomic.Int64
}

// NewConcurrentLimiter creates a limiter allowing limit holders.
//
//	limiter := NewConcurrentLimiter(2)
//	if limiter.Acquire() {
//	    defer limiter.Release()
//	    // stream
//	}
func NewConcurrentLimiter(limit int) *ConcurrentLimiter {
	return &ConcurrentLimiter{limit: int64(limit)}
}

// Acquire takes a slot and reports whether one was free. A true result must
// be paired with Release.
func (cl *ConcurrentLimiter) Acquire() bool {
	if cl.current.Add(1) > cl.limit {
		cl.current.Add(-1)
		return false
	}
	return true
}

// Release frees a slot taken by Acquire.
func (cl *ConcurrentLimiter) Release() {
	cl.current.Add(-1)
}

// Current returns the number of held slots.
func (cl *ConcurrentLimiter) Current() int64 {
	return cl.current.Load()
}

// Limit returns the configured limit.
func (cl *ConcurrentLimiter) Limit() int64 {
	return cl.limit
}

// Remaining returns the number of free slots.
func (cl *ConcurrentLimiter) Remaining() int64 {
	remaining := cl.limit - cl.current.Load()
	if remaining < 0 {
		return 0
	}
	return remaining
}

// StreamLimiter caps concurrent streams per user. Each user gets a
// ConcurrentLimiter sized by the limit passed on first use; a changed limit
// replaces the limiter once the user has no streams.
type StreamLimiter struct {
	mu    sync.Mutex
	users map[string]*ConcurrentLimiter
}

// NewStreamLimiter creates an empty per-user stream limiter.
func NewStreamLimiter() *StreamLimiter {
	return &StreamLimiter{users: make(map[string]*ConcurrentLimiter)}
}

// Acquire takes a stream slot for user. A limit of 0 or less means
// unlimited and always succeeds. The returned release func is idempotent.
func (s *StreamLimiter) Acquire(user string, limit int) (release func(), ok bool) {
	if limit <= 0 {
		return func() {}, true
	}

	s.mu.Lock()
	cl, exists := s.users[user]
	if !exists || (cl.Limit() != int64(limit) && cl.Current() == 0) {
		cl = NewConcurrentLimiter(limit)
		s.users[user] = cl
	}
	s.mu.Unlock()

	if !cl.Acquire() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(cl.Release) }, true
}

// Active returns the number of streams held by user.
func (s *StreamLimiter) Active(user string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.users[user]; ok {
		return cl.Current()
	}
	return 0
}
