package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/routing"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// Collector owns the proxy's Prometheus metrics and receives events from
// the pool, the catalog cache and the relay engine.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	requestMetrics  *RequestMetrics
	upstreamMetrics *UpstreamMetrics
	catalogMetrics  *CatalogMetrics
	relayMetrics    *RelayMetrics

	// routes guards against unbounded route label values.
	routes *CardinalityLimiter

	routingOnce sync.Once
}

var (
	_ upstream.Observer = (*Collector)(nil)
	_ catalog.Observer  = (*Collector)(nil)
	_ relay.Observer    = (*Collector)(nil)
)

// NewCollector creates a collector registered on registry. A nil registry
// gets a fresh one.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}

	return &Collector{
		config:          cfg,
		registry:        registry,
		requestMetrics:  NewRequestMetrics(cfg, registry),
		upstreamMetrics: NewUpstreamMetrics(cfg, registry),
		catalogMetrics:  NewCatalogMetrics(cfg, registry),
		relayMetrics:    NewRelayMetrics(cfg, registry),
		routes:          NewCardinalityLimiter(64),
	}
}

// RecordRequest records a finished client request.
func (c *Collector) RecordRequest(route string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if !c.routes.Allow(route) {
		route = "other"
	}
	c.requestMetrics.Record(route, status, duration)
}

// SlotAcquired implements upstream.Observer.
func (c *Collector) SlotAcquired(account string, inUse int64) {
	if !c.config.Enabled {
		return
	}
	c.upstreamMetrics.SetInUse(account, inUse)
}

// SlotReleased implements upstream.Observer.
func (c *Collector) SlotReleased(account string, inUse int64) {
	if !c.config.Enabled {
		return
	}
	c.upstreamMetrics.SetInUse(account, inUse)
}

// SlotRejected implements upstream.Observer.
func (c *Collector) SlotRejected(account string) {
	if !c.config.Enabled {
		return
	}
	c.upstreamMetrics.RecordRejected(account)
}

// HealthTransition is an upstream.TransitionFunc.
func (c *Collector) HealthTransition(account string, from, to upstream.State) {
	if !c.config.Enabled {
		return
	}
	c.upstreamMetrics.RecordTransition(account, from, to)
}

// SetAccountState seeds the health gauge, e.g. for accounts that have not
// transitioned yet.
func (c *Collector) SetAccountState(account string, state upstream.State) {
	if !c.config.Enabled {
		return
	}
	c.upstreamMetrics.SetState(account, state)
}

// CatalogLookup implements catalog.Observer.
func (c *Collector) CatalogLookup(kind string, status catalog.Status) {
	if !c.config.Enabled {
		return
	}
	c.catalogMetrics.RecordLookup(kind, string(status))
}

// CatalogFetch implements catalog.Observer.
func (c *Collector) CatalogFetch(kind string, err error, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.catalogMetrics.RecordFetch(kind, err, duration)
}

// RelayStarted implements relay.Observer.
func (c *Collector) RelayStarted(h *relay.Handle) {
	if !c.config.Enabled {
		return
	}
	c.relayMetrics.Started(h.Kind)
}

// RelayFinished implements relay.Observer.
func (c *Collector) RelayFinished(h *relay.Handle) {
	if !c.config.Enabled {
		return
	}
	c.relayMetrics.Finished(h)
}

// RegisterRouting exposes the selector's counters. Only the first call
// registers.
func (c *Collector) RegisterRouting(stats *routing.Stats) {
	c.routingOnce.Do(func() {
		registerRouting(c.config, c.registry, stats)
	})
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter caps the number of distinct label values seen.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether labelSet is known or there is room for it.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
