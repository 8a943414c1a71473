package upstream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// State is the health state of an upstream account.
type State int

const (
	// StateHealthy accounts are preferred for new streams.
	StateHealthy State = iota

	// StateDegraded accounts are used after healthy ones.
	StateDegraded

	// StateDown accounts receive no new streams but are still probed.
	StateDown
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateDown:
		return "down"
	default:
		return "unknown"
	}
}

// AccountHealth is a point-in-time view of one account's health.
type AccountHealth struct {
	Name                string    `json:"name"`
	State               State     `json:"-"`
	StateName           string    `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastChecked         time.Time `json:"last_checked"`
	LastTransition      time.Time `json:"last_transition"`
	LastError           string    `json:"last_error,omitempty"`
}

// TransitionFunc is called after an account changes state.
type TransitionFunc func(account string, from, to State)

// HealthRegistry owns the health state of every account. It is an explicit
// object rather than package state so tests can drive it with a mock clock
// and scripted probe results.
type HealthRegistry struct {
	mu            sync.RWMutex
	clock         clock.Clock
	degradedAfter int
	downAfter     int
	accounts      map[string]*AccountHealth
	onTransition  []TransitionFunc
	logger        *slog.Logger
}

// NewHealthRegistry creates a registry. An account turns degraded after
// degradedAfter consecutive failures and down after downAfter more.
func NewHealthRegistry(clk clock.Clock, degradedAfter, downAfter int) *HealthRegistry {
	if clk == nil {
		clk = clock.New()
	}
	if degradedAfter < 1 {
		degradedAfter = 1
	}
	if downAfter < 1 {
		downAfter = 1
	}
	return &HealthRegistry{
		clock:         clk,
		degradedAfter: degradedAfter,
		downAfter:     downAfter,
		accounts:      make(map[string]*AccountHealth),
		logger:        slog.Default().With("component", "upstream.health"),
	}
}

// OnTransition registers fn to observe state changes.
func (r *HealthRegistry) OnTransition(fn TransitionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = append(r.onTransition, fn)
}

// Register starts tracking name as healthy. Registering a tracked account
// is a no-op.
func (r *HealthRegistry) Register(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[name]; ok {
		return
	}
	now := r.clock.Now()
	r.accounts[name] = &AccountHealth{
		Name:           name,
		State:          StateHealthy,
		LastChecked:    now,
		LastTransition: now,
	}
}

// Remove stops tracking name.
func (r *HealthRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, name)
}

// Record applies one probe result and returns the resulting state.
func (r *HealthRegistry) Record(name string, err error) State {
	r.mu.Lock()

	h, ok := r.accounts[name]
	if !ok {
		r.mu.Unlock()
		return StateDown
	}

	prev := h.State
	h.LastChecked = r.clock.Now()

	if err == nil {
		h.ConsecutiveFailures = 0
		h.LastError = ""
		h.State = StateHealthy
	} else {
		h.ConsecutiveFailures++
		h.LastError = err.Error()
		switch {
		case h.ConsecutiveFailures >= r.degradedAfter+r.downAfter:
			h.State = StateDown
		case h.ConsecutiveFailures >= r.degradedAfter && h.State == StateHealthy:
			h.State = StateDegraded
		}
	}

	next := h.State
	failures := h.ConsecutiveFailures
	var observers []TransitionFunc
	if next != prev {
		h.LastTransition = h.LastChecked
		observers = append(observers, r.onTransition...)
	}
	r.mu.Unlock()

	if next != prev {
		level := slog.LevelWarn
		if next == StateHealthy {
			level = slog.LevelInfo
		}
		r.logger.Log(context.Background(), level, "upstream health changed",
			"account", name,
			"from", prev.String(),
			"to", next.String(),
			"consecutive_failures", failures,
		)
		for _, fn := range observers {
			fn(name, prev, next)
		}
	}
	return next
}

// State returns the current state of name. Unknown accounts are down.
func (r *HealthRegistry) State(name string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.accounts[name]; ok {
		return h.State
	}
	return StateDown
}

// Get returns a copy of the health record of name.
func (r *HealthRegistry) Get(name string) (AccountHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.accounts[name]
	if !ok {
		return AccountHealth{}, false
	}
	out := *h
	out.StateName = out.State.String()
	return out, true
}

// Snapshot returns all health records sorted by account name.
func (r *HealthRegistry) Snapshot() []AccountHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AccountHealth, 0, len(r.accounts))
	for _, h := range r.accounts {
		cp := *h
		cp.StateName = cp.State.String()
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProbeFunc checks one account and returns nil when it is usable.
type ProbeFunc func(ctx context.Context, acct *Account) error

// Prober periodically probes every account in a pool.
type Prober struct {
	pool     *Pool
	registry *HealthRegistry
	probe    ProbeFunc
	interval time.Duration
	timeout  time.Duration
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewProber creates a prober. probe defaults to the pool client's Probe.
func NewProber(pool *Pool, probe ProbeFunc, interval, timeout time.Duration, clk clock.Clock) *Prober {
	if probe == nil {
		probe = pool.Client().Probe
	}
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Prober{
		pool:     pool,
		registry: pool.Health(),
		probe:    probe,
		interval: interval,
		timeout:  timeout,
		clock:    clk,
		logger:   slog.Default().With("component", "upstream.prober"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the probe loop in a background goroutine. Calls after the
// first are ignored.
func (p *Prober) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	go p.run(ctx)
}

// Stop stops the loop and waits for it to exit. It returns at once when
// the loop was never started.
func (p *Prober) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })

	p.mu.Lock()
	running := p.running
	p.mu.Unlock()
	if running {
		<-p.doneCh
	}
}

func (p *Prober) run(ctx context.Context) {
	defer close(p.doneCh)

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.logger.Info("health prober started", "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("health prober stopped (context cancelled)")
			return
		case <-p.stopCh:
			p.logger.Debug("health prober stopped")
			return
		case <-ticker.C:
			p.ProbeAll(ctx)
		}
	}
}

// ProbeAll probes every account once, concurrently, and waits for all
// results to be recorded.
func (p *Prober) ProbeAll(ctx context.Context) {
	accounts := p.pool.Accounts()

	var wg sync.WaitGroup
	for _, acct := range accounts {
		wg.Add(1)
		go func(acct *Account) {
			defer wg.Done()
			p.ProbeOne(ctx, acct)
		}(acct)
	}
	wg.Wait()
}

// ProbeOne probes a single account and records the result.
func (p *Prober) ProbeOne(ctx context.Context, acct *Account) State {
	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := p.clock.Now()
	err := p.probe(checkCtx, acct)
	latency := p.clock.Since(start)

	if err != nil {
		p.logger.Debug("health probe failed",
			"account", acct.Name,
			"error", err,
			"latency", latency,
		)
	} else {
		p.logger.Debug("health probe passed",
			"account", acct.Name,
			"latency", latency,
		)
	}
	return p.registry.Record(acct.Name, err)
}
