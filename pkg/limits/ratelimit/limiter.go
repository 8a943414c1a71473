package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

// MemoryBackend keeps one TokenBucket per key in process memory.
type MemoryBackend struct {
	capacity int64
	rate     float64
	idleTTL  time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewMemoryBackend creates a backend allowing rate requests per second with
// bursts of up to burst requests per key.
func NewMemoryBackend(rate float64, burst int, idleTTL time.Duration, clk clock.Clock) *MemoryBackend {
	if clk == nil {
		clk = clock.New()
	}
	if burst < 1 {
		burst = 1
	}
	return &MemoryBackend{
		capacity: int64(burst),
		rate:     rate,
		idleTTL:  idleTTL,
		clock:    clk,
		buckets:  make(map[string]*TokenBucket),
	}
}

// Allow consumes one token from key's bucket.
func (m *MemoryBackend) Allow(_ context.Context, key string) (*CheckResult, error) {
	m.mu.Lock()
	b, ok := m.buckets[key]
	if !ok {
		b = NewTokenBucket(m.capacity, m.rate, m.clock)
		m.buckets[key] = b
	}
	m.mu.Unlock()

	if b.Take(1) {
		return &CheckResult{
			Allowed:   true,
			Limit:     b.Capacity(),
			Remaining: b.Remaining(),
		}, nil
	}
	return &CheckResult{
		Allowed:    false,
		Reason:     "request rate limit exceeded",
		Limit:      b.Capacity(),
		Remaining:  0,
		RetryAfter: b.TimeUntilAvailable(1),
	}, nil
}

// Sweep drops buckets unused for longer than the idle TTL and returns how
// many were removed.
func (m *MemoryBackend) Sweep() int {
	if m.idleTTL <= 0 {
		return 0
	}
	cutoff := m.clock.Now().Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for key, b := range m.buckets {
		if b.LastUsed().Before(cutoff) {
			delete(m.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *MemoryBackend) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buckets)
}

// Limiter applies per-client request rate limits. A disabled limiter allows
// everything.
type Limiter struct {
	enabled bool
	backend Backend
	memory  *MemoryBackend
	clock   clock.Clock
	logger  *slog.Logger

	started  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the clock used by in-memory buckets.
func WithClock(clk clock.Clock) Option {
	return func(l *Limiter) { l.clock = clk }
}

// WithBackend replaces the counting backend.
func WithBackend(b Backend) Option {
	return func(l *Limiter) { l.backend = b }
}

// New creates a limiter from configuration. When cfg.Redis.Addr is set,
// counters live in Redis so every proxy instance shares them.
func New(cfg config.RateLimitConfig, opts ...Option) (*Limiter, error) {
	l := &Limiter{
		enabled: cfg.Enabled,
		clock:   clock.New(),
		logger:  slog.Default().With("component", "ratelimit"),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if !l.enabled || l.backend != nil {
		return l, nil
	}

	if cfg.Redis.Addr != "" {
		rb, err := NewRedisBackend(cfg.Redis, cfg.RequestsPerSecond)
		if err != nil {
			return nil, err
		}
		l.backend = rb
		l.logger.Info("rate limiting with shared redis counters", "addr", cfg.Redis.Addr, "window", cfg.Redis.Window)
		return l, nil
	}

	l.memory = NewMemoryBackend(cfg.RequestsPerSecond, cfg.Burst, cfg.IdleTTL, l.clock)
	l.backend = l.memory
	return l, nil
}

// Enabled reports whether limits are enforced.
func (l *Limiter) Enabled() bool {
	return l.enabled
}

// Allow checks one request from key. Backend failures allow the request.
func (l *Limiter) Allow(ctx context.Context, key string) *CheckResult {
	if !l.enabled {
		return &CheckResult{Allowed: true}
	}
	res, err := l.backend.Allow(ctx, key)
	if err != nil {
		l.logger.Warn("rate limit backend failed, allowing request", "error", err)
		return &CheckResult{Allowed: true}
	}
	return res
}

// Start runs idle bucket eviction in the background when counters are kept
// in memory.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	if l.memory == nil || interval <= 0 || l.started {
		return
	}
	l.started = true
	go func() {
		defer close(l.doneCh)
		ticker := l.clock.Ticker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				if n := l.memory.Sweep(); n > 0 {
					l.logger.Debug("evicted idle rate limit buckets", "count", n)
				}
			}
		}
	}()
}

// Stop stops eviction and closes the backend.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	if l.started {
		<-l.doneCh
	}
	if c, ok := l.backend.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			l.logger.Warn("failed to close rate limit backend", "error", err)
		}
	}
}
