package ratelimit

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// ============================================================================
// Token Bucket Tests
// ============================================================================

func TestTokenBucket_Basic(t *testing.T) {
	bucket := NewTokenBucket(10, 10, clock.NewMock())

	if !bucket.Take(5) {
		t.Error("Expected to take 5 tokens from full bucket")
	}
	if remaining := bucket.Remaining(); remaining != 5 {
		t.Errorf("Expected 5 remaining, got %d", remaining)
	}
	if !bucket.Take(5) {
		t.Error("Expected to take remaining 5 tokens")
	}
	if bucket.Take(1) {
		t.Error("Expected bucket to be empty")
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	mock := clock.NewMock()
	bucket := NewTokenBucket(10, 10, mock)

	bucket.Take(10)
	if bucket.Remaining() != 0 {
		t.Error("Expected bucket to be empty")
	}

	mock.Add(150 * time.Millisecond)
	if !bucket.Take(1) {
		t.Error("Expected bucket to have refilled")
	}

	mock.Add(time.Hour)
	if got := bucket.Remaining(); got != 10 {
		t.Errorf("Expected refill capped at 10, got %d", got)
	}
}

func TestTokenBucket_FractionalRate(t *testing.T) {
	mock := clock.NewMock()
	bucket := NewTokenBucket(1, 0.5, mock)

	bucket.Take(1)
	mock.Add(time.Second)
	if bucket.Take(1) {
		t.Error("Expected half a token to be insufficient")
	}
	mock.Add(time.Second)
	if !bucket.Take(1) {
		t.Error("Expected a full token after two seconds")
	}
}

func TestTokenBucket_TimeUntilAvailable(t *testing.T) {
	bucket := NewTokenBucket(10, 10, clock.NewMock())
	bucket.Take(10)

	if got := bucket.TimeUntilAvailable(5); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}
	if got := NewTokenBucket(10, 10, clock.NewMock()).TimeUntilAvailable(1); got != 0 {
		t.Errorf("Expected 0 for full bucket, got %v", got)
	}
}

// ============================================================================
// Concurrent Limiter Tests
// ============================================================================

func TestConcurrentLimiter_Basic(t *testing.T) {
	limiter := NewConcurrentLimiter(2)

	if !limiter.Acquire() || !limiter.Acquire() {
		t.Fatal("Expected two slots")
	}
	if limiter.Acquire() {
		t.Error("Expected third acquire to fail")
	}
	if limiter.Current() != 2 {
		t.Errorf("Expected 2 current, got %d", limiter.Current())
	}
	limiter.Release()
	if limiter.Remaining() != 1 {
		t.Errorf("Expected 1 remaining, got %d", limiter.Remaining())
	}
}

func TestConcurrentLimiter_Parallel(t *testing.T) {
	limiter := NewConcurrentLimiter(5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	acquired := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Acquire() {
				mu.Lock()
				acquired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if acquired != 5 {
		t.Errorf("Expected exactly 5 acquisitions, got %d", acquired)
	}
}

func TestStreamLimiter(t *testing.T) {
	s := NewStreamLimiter()

	release1, ok := s.Acquire("alice", 1)
	if !ok {
		t.Fatal("Expected first stream allowed")
	}
	if _, ok := s.Acquire("alice", 1); ok {
		t.Error("Expected second stream rejected")
	}
	if _, ok := s.Acquire("bob", 1); !ok {
		t.Error("Expected other user unaffected")
	}

	release1()
	release1()
	if s.Active("alice") != 0 {
		t.Errorf("Expected release to be idempotent, got %d active", s.Active("alice"))
	}

	for i := 0; i < 3; i++ {
		if _, ok := s.Acquire("carol", 0); !ok {
			t.Error("Expected unlimited user to be allowed")
		}
	}
}

func TestStreamLimiter_LimitChange(t *testing.T) {
	s := NewStreamLimiter()

	release, _ := s.Acquire("alice", 1)
	release()

	if _, ok := s.Acquire("alice", 2); !ok {
		t.Fatal("Expected first stream under new limit")
	}
	if _, ok := s.Acquire("alice", 2); !ok {
		t.Error("Expected raised limit to apply")
	}
}

// ============================================================================
// Limiter Tests
// ============================================================================

func TestLimiter_Disabled(t *testing.T) {
	l, err := New(config.RateLimitConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	for i := 0; i < 100; i++ {
		if !l.Allow(context.Background(), "1.2.3.4").Allowed {
			t.Fatal("Expected disabled limiter to allow")
		}
	}
}

func TestLimiter_PerClient(t *testing.T) {
	mock := clock.NewMock()
	l, err := New(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             3,
	}, WithClock(mock))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !l.Allow(context.Background(), "a").Allowed {
			t.Fatalf("Expected request %d within burst", i+1)
		}
	}
	res := l.Allow(context.Background(), "a")
	if res.Allowed {
		t.Fatal("Expected request over burst to be rejected")
	}
	if res.RetryAfter != time.Second {
		t.Errorf("Expected retry after 1s, got %v", res.RetryAfter)
	}
	if !l.Allow(context.Background(), "b").Allowed {
		t.Error("Expected other client to have its own bucket")
	}

	mock.Add(time.Second)
	if !l.Allow(context.Background(), "a").Allowed {
		t.Error("Expected refill after one second")
	}
}

func TestMemoryBackend_Sweep(t *testing.T) {
	mock := clock.NewMock()
	m := NewMemoryBackend(1, 1, time.Minute, mock)

	m.Allow(context.Background(), "old")
	mock.Add(2 * time.Minute)
	m.Allow(context.Background(), "new")

	if removed := m.Sweep(); removed != 1 {
		t.Errorf("Expected 1 bucket evicted, got %d", removed)
	}
	if m.Len() != 1 {
		t.Errorf("Expected 1 bucket left, got %d", m.Len())
	}
}

func TestLimiter_StartStopEvicts(t *testing.T) {
	mock := clock.NewMock()
	l, _ := New(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		IdleTTL:           time.Minute,
	}, WithClock(mock))

	l.Allow(context.Background(), "a")
	l.Start(context.Background(), 30*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for l.memory.Len() != 0 && time.Now().Before(deadline) {
		mock.Add(30 * time.Second)
		time.Sleep(5 * time.Millisecond)
	}
	l.Stop()

	if l.memory.Len() != 0 {
		t.Errorf("Expected idle bucket evicted, got %d", l.memory.Len())
	}
}

type failingBackend struct{}

func (failingBackend) Allow(context.Context, string) (*CheckResult, error) {
	return nil, errors.New("backend down")
}

func TestLimiter_BackendFailureAllows(t *testing.T) {
	l, _ := New(config.RateLimitConfig{Enabled: true}, WithBackend(failingBackend{}))
	if !l.Allow(context.Background(), "a").Allowed {
		t.Error("Expected backend failure to allow the request")
	}
}

// TestRedisBackend runs against a real server when XTREAM_PROXY_TEST_REDIS
// holds its address.
func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("XTREAM_PROXY_TEST_REDIS")
	if addr == "" {
		t.Skip("XTREAM_PROXY_TEST_REDIS not set")
	}

	rb, err := NewRedisBackend(config.RedisConfig{
		Addr:   addr,
		Prefix: "xtream-proxy-test:" + t.Name(),
		Window: 4 * time.Second,
	}, 0.5)
	if err != nil {
		t.Fatalf("Failed to create backend: %v", err)
	}
	defer rb.Close()

	fixed := time.Date(2025, 1, 1, 12, 0, 30, 0, time.UTC)
	rb.now = func() time.Time { return fixed }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		res, err := rb.Allow(ctx, "client")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("Expected request %d allowed", i+1)
		}
	}
	res, err := rb.Allow(ctx, "client")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if res.Allowed {
		t.Error("Expected third request in window rejected")
	}
	if res.RetryAfter != 2*time.Second {
		t.Errorf("Expected retry after 2s, got %v", res.RetryAfter)
	}
}
