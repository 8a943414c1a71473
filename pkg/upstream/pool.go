package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// Observer receives stream slot events. Implementations must not block.
type Observer interface {
	SlotAcquired(account string, inUse int64)
	SlotReleased(account string, inUse int64)
	SlotRejected(account string)
}

type nopObserver struct{}

func (nopObserver) SlotAcquired(string, int64) {}
func (nopObserver) SlotReleased(string, int64) {}
func (nopObserver) SlotRejected(string)        {}

// Option configures a Pool.
type Option func(*Pool)

// WithClock sets the clock used by the health registry.
func WithClock(clk clock.Clock) Option {
	return func(p *Pool) { p.clock = clk }
}

// WithObserver sets the slot event observer.
func WithObserver(o Observer) Option {
	return func(p *Pool) { p.observer = o }
}

// WithClient overrides the HTTP client.
func WithClient(c *Client) Option {
	return func(p *Pool) { p.client = c }
}

// Pool owns the upstream accounts, their stream slots and their health.
// Catalog API calls go through Client directly and never take a slot.
type Pool struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	configs  map[string]config.UpstreamConfig
	names    []string

	acquireTimeout time.Duration
	health         *HealthRegistry
	client         *Client
	clock          clock.Clock
	observer       Observer
	logger         *slog.Logger
}

// NewPool creates a pool for every upstream in cfg.
func NewPool(cfg *config.Config, opts ...Option) (*Pool, error) {
	p := &Pool{
		accounts:       make(map[string]*Account),
		configs:        make(map[string]config.UpstreamConfig),
		acquireTimeout: cfg.Pool.AcquireTimeout,
		observer:       nopObserver{},
		logger:         slog.Default().With("component", "upstream.pool"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.clock == nil {
		p.clock = clock.New()
	}
	if p.client == nil {
		p.client = NewClient(cfg.Pool)
	}
	p.health = NewHealthRegistry(p.clock, cfg.Health.DegradedAfter, cfg.Health.DownAfter)

	if err := p.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Reconfigure replaces the account set. Accounts whose settings are unchanged
// keep their slot counters; changed accounts get fresh ones. Health is
// tracked by name and survives the swap. Streams holding slots on a replaced
// account release them there.
func (p *Pool) Reconfigure(cfg *config.Config) error {
	next := make(map[string]*Account, len(cfg.Upstreams))

	p.mu.RLock()
	for name, ucfg := range cfg.Upstreams {
		if old, ok := p.accounts[name]; ok && reflect.DeepEqual(p.configs[name], ucfg) {
			next[name] = old
			continue
		}
		acct, err := NewAccount(name, ucfg)
		if err != nil {
			p.mu.RUnlock()
			return err
		}
		next[name] = acct
	}
	p.mu.RUnlock()

	names := make([]string, 0, len(next))
	for name := range next {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make(map[string]config.UpstreamConfig, len(cfg.Upstreams))
	for name, ucfg := range cfg.Upstreams {
		configs[name] = ucfg
	}

	p.mu.Lock()
	for name := range p.accounts {
		if _, ok := next[name]; !ok {
			p.health.Remove(name)
			p.logger.Info("upstream account removed", "account", name)
		}
	}
	for _, name := range names {
		if _, ok := p.accounts[name]; !ok {
			p.logger.Info("upstream account added", "account", name, "max_connections", next[name].MaxConnections)
		}
		p.health.Register(name)
	}
	p.accounts = next
	p.configs = configs
	p.names = names
	p.acquireTimeout = cfg.Pool.AcquireTimeout
	p.mu.Unlock()

	return nil
}

// Account returns the named account.
func (p *Pool) Account(name string) (*Account, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	acct, ok := p.accounts[name]
	return acct, ok
}

// Accounts returns every account sorted by name.
func (p *Pool) Accounts() []*Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Account, 0, len(p.names))
	for _, name := range p.names {
		out = append(out, p.accounts[name])
	}
	return out
}

// AccountNames returns every account name sorted.
func (p *Pool) AccountNames() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.names...)
}

// AccountDisabled reports whether name is disabled and whether it exists.
func (p *Pool) AccountDisabled(name string) (disabled, ok bool) {
	acct, ok := p.Account(name)
	if !ok {
		return false, false
	}
	return acct.Disabled, true
}

// State returns the health state of name.
func (p *Pool) State(name string) State {
	return p.health.State(name)
}

// Health returns the pool's health registry.
func (p *Pool) Health() *HealthRegistry {
	return p.health
}

// Client returns the pool's HTTP client.
func (p *Pool) Client() *Client {
	return p.client
}

// Acquire reserves one stream slot on acct. It waits up to the configured
// acquire timeout and fails with an Overloaded error when no slot frees up.
func (p *Pool) Acquire(ctx context.Context, acct *Account) (*Conn, error) {
	const op = "upstream.Acquire"

	if acct.Disabled {
		return nil, types.E(types.KindServiceUnavailable, op, "", fmt.Errorf("account %s is disabled", acct.Name))
	}

	p.mu.RLock()
	timeout := p.acquireTimeout
	p.mu.RUnlock()

	if timeout <= 0 {
		if !acct.sem.TryAcquire(1) {
			p.observer.SlotRejected(acct.Name)
			return nil, types.E(types.KindOverloaded, op, "", fmt.Errorf("account %s has no free connection", acct.Name))
		}
	} else {
		acquireCtx, cancel := context.WithTimeout(ctx, timeout)
		err := acct.sem.Acquire(acquireCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			p.observer.SlotRejected(acct.Name)
			return nil, types.E(types.KindOverloaded, op, "",
				fmt.Errorf("account %s has no free connection after %s", acct.Name, timeout))
		}
	}

	inUse := acct.inUse.Add(1)
	p.observer.SlotAcquired(acct.Name, inUse)
	p.logger.Debug("stream slot acquired", "account", acct.Name, "in_use", inUse, "max", acct.MaxConnections)

	return &Conn{pool: p, account: acct}, nil
}

// Conn is one held stream slot. Release must be called exactly once the
// stream ends; further calls are no-ops.
type Conn struct {
	pool    *Pool
	account *Account
	once    sync.Once
}

// Account returns the account the slot belongs to.
func (c *Conn) Account() *Account {
	return c.account
}

// Open issues the upstream stream request for t on the slot's account.
func (c *Conn) Open(ctx context.Context, t Target, header http.Header) (*http.Response, error) {
	return c.pool.client.OpenStream(ctx, c.account, t, header)
}

// Release returns the slot to its account.
func (c *Conn) Release() {
	c.once.Do(func() {
		inUse := c.account.inUse.Add(-1)
		c.account.sem.Release(1)
		c.pool.observer.SlotReleased(c.account.Name, inUse)
		c.pool.logger.Debug("stream slot released", "account", c.account.Name, "in_use", inUse)
	})
}
