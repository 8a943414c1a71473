package server

import (
	"fmt"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/gateway"
	"github.com/rafaalpizar/xtream-proxy/pkg/history"
	"github.com/rafaalpizar/xtream-proxy/pkg/limits/ratelimit"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/routing"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/health"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/metrics"
	"github.com/rafaalpizar/xtream-proxy/pkg/telemetry/tracing"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// components holds everything the server owns.
type components struct {
	clock      clock.Clock
	collector  *metrics.Collector
	tracer     *tracing.Tracer
	pool       *upstream.Pool
	prober     *upstream.Prober
	sessions   *credentials.SessionStore
	translator *credentials.Translator
	fetcher    *catalog.UpstreamFetcher
	snapshots  *catalog.SQLiteStore
	cache      *catalog.Cache
	scheduler  *catalog.Scheduler
	selector   *routing.Selector
	engine     *relay.Engine
	streams    *ratelimit.StreamLimiter
	limiter    *ratelimit.Limiter
	history    history.Store
	recorder   *history.Recorder
	pruner     *history.Pruner
	checker    *health.Checker
	gateway    *gateway.Gateway
}

func buildComponents(cfg *config.Config, opts Options) (c *components, err error) {
	c = &components{clock: opts.Clock}
	if c.clock == nil {
		c.clock = clock.New()
	}
	defer func() {
		if err != nil {
			c.close()
		}
	}()

	c.collector = metrics.NewCollector(&cfg.Telemetry.Metrics, nil)

	if c.tracer, err = tracing.New(&cfg.Telemetry.Tracing, opts.Version); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}

	c.pool, err = upstream.NewPool(cfg, upstream.WithClock(c.clock), upstream.WithObserver(c.collector))
	if err != nil {
		return nil, fmt.Errorf("upstream pool: %w", err)
	}
	c.pool.Health().OnTransition(c.collector.HealthTransition)
	for _, h := range c.pool.Health().Snapshot() {
		c.collector.SetAccountState(h.Name, h.State)
	}
	c.prober = upstream.NewProber(c.pool, nil, cfg.Health.Interval, cfg.Health.Timeout, c.clock)

	c.sessions, err = credentials.NewSessionStore(cfg.Sessions.MaxEntries, cfg.Sessions.TTL, c.clock)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	c.translator = credentials.NewTranslator(cfg.Users, c.pool, c.sessions)

	c.fetcher = catalog.NewUpstreamFetcher(c.pool, catalog.NewFilter(cfg.Catalog.Filter))
	cacheOpts := catalog.Options{
		TTLs: catalog.TTLs{
			Lists: cfg.Catalog.TTL.Lists,
			Info:  cfg.Catalog.TTL.Info,
			EPG:   cfg.Catalog.TTL.EPG,
		},
		MaxStale:     cfg.Catalog.MaxStale,
		FetchTimeout: cfg.Catalog.FetchTimeout,
		Clock:        c.clock,
		Observer:     c.collector,
	}
	if cfg.Catalog.Snapshot.Enabled {
		c.snapshots, err = catalog.NewSQLiteStore(cfg.Catalog.Snapshot.Path, 0)
		if err != nil {
			return nil, fmt.Errorf("catalog snapshot store: %w", err)
		}
		cacheOpts.Store = c.snapshots
	}
	c.cache = catalog.New(c.fetcher, cacheOpts)
	c.scheduler = catalog.NewScheduler(c.cache, c.pool, cfg.Catalog.RefreshSchedule)

	c.selector = routing.NewSelector(c.pool)
	c.collector.RegisterRouting(c.selector.Stats())

	engineOpts := []relay.Option{
		relay.WithClock(c.clock),
		relay.WithObserver(c.collector),
		relay.WithFailoverRecorder(c.selector),
	}
	if cfg.History.Enabled {
		if c.history, err = history.Open(cfg.History); err != nil {
			return nil, fmt.Errorf("history store: %w", err)
		}
		c.recorder = history.NewRecorder(c.history)
		engineOpts = append(engineOpts, relay.WithObserver(c.recorder))
		c.pruner, err = history.NewPruner(c.history, cfg.History.Retention.Days, cfg.History.Retention.PruneSchedule, c.clock)
		if err != nil {
			return nil, fmt.Errorf("history pruner: %w", err)
		}
	}
	c.engine = relay.NewEngine(cfg.Relay, c.pool, engineOpts...)

	c.streams = ratelimit.NewStreamLimiter()
	c.limiter, err = ratelimit.New(cfg.Limits.RateLimit, ratelimit.WithClock(c.clock))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	c.checker = health.New(cfg.Health.Timeout)
	c.checker.RegisterCheck("upstreams", health.UpstreamsCheck(c.pool.Health(), cfg.Telemetry.Health.MinHealthyUpstreams))

	c.gateway, err = gateway.New(cfg, gateway.Deps{
		Translator: c.translator,
		Catalog:    c.cache,
		Selector:   c.selector,
		Engine:     c.engine,
		Accounts:   c.pool,
		Streams:    c.streams,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return c, nil
}

// close releases stores. Background loops are stopped by the server.
func (c *components) close() {
	if c.recorder != nil {
		_ = c.recorder.Close()
	}
	if c.history != nil {
		_ = c.history.Close()
	}
	if c.snapshots != nil {
		_ = c.snapshots.Close()
	}
}
