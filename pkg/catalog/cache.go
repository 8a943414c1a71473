package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// Status describes how a Get was served.
type Status string

const (
	// StatusFresh is an entry younger than its TTL.
	StatusFresh Status = "fresh"

	// StatusStale is an entry past its TTL, served while a refresh runs or
	// after a refresh failed.
	StatusStale Status = "stale"

	// StatusRefreshed is an entry fetched synchronously because the stored
	// one was past the staleness ceiling or invalidated.
	StatusRefreshed Status = "refreshed"

	// StatusMiss is an entry fetched synchronously because none existed.
	StatusMiss Status = "miss"
)

// Entry is one cached payload. Payload must not be modified.
type Entry struct {
	Key       Key
	Payload   []byte
	FetchedAt time.Time
}

// Result is the outcome of a Get.
type Result struct {
	Entry
	Status Status
}

// Fetcher loads a payload from the upstream.
type Fetcher interface {
	Fetch(ctx context.Context, key Key) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key Key) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, key Key) ([]byte, error) {
	return f(ctx, key)
}

// Observer receives cache events. Implementations must not block.
type Observer interface {
	CatalogLookup(kind string, status Status)
	CatalogFetch(kind string, err error, duration time.Duration)
}

type nopObserver struct{}

func (nopObserver) CatalogLookup(string, Status)               {}
func (nopObserver) CatalogFetch(string, error, time.Duration) {}

// Options configures a Cache.
type Options struct {
	TTLs         TTLs
	MaxStale     time.Duration
	FetchTimeout time.Duration
	Clock        clock.Clock
	Store        Store
	Observer     Observer
}

type record struct {
	Entry
	forced bool
}

// Cache is a per-account catalog cache with stale-while-revalidate reads and
// single-flight refresh. An entry past MaxStale is never served without one
// synchronous refresh attempt first; if that attempt fails the stale entry
// is served anyway.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]*record

	group   singleflight.Group
	fetcher Fetcher

	ttls         TTLs
	maxStale     time.Duration
	fetchTimeout time.Duration
	clock        clock.Clock
	store        Store
	observer     Observer
	tracer       trace.Tracer
	logger       *slog.Logger
}

// New creates a cache that loads entries with fetcher.
func New(fetcher Fetcher, opts Options) *Cache {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 30 * time.Second
	}
	return &Cache{
		entries:      make(map[Key]*record),
		fetcher:      fetcher,
		ttls:         opts.TTLs,
		maxStale:     opts.MaxStale,
		fetchTimeout: opts.FetchTimeout,
		clock:        opts.Clock,
		store:        opts.Store,
		observer:     opts.Observer,
		tracer:       otel.Tracer("github.com/rafaalpizar/xtream-proxy/pkg/catalog"),
		logger:       slog.Default().With("component", "catalog"),
	}
}

// Get returns the entry for key, fetching it when absent, expired past the
// staleness ceiling, or invalidated.
func (c *Cache) Get(ctx context.Context, key Key) (Result, error) {
	ctx, span := c.tracer.Start(ctx, "catalog.Get", trace.WithAttributes(
		attribute.String("catalog.account", key.Account),
		attribute.String("catalog.kind", string(key.Kind)),
	))
	defer span.End()

	res, err := c.get(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(attribute.String("catalog.status", string(res.Status)))
	c.observer.CatalogLookup(string(key.Kind), res.Status)
	return res, nil
}

func (c *Cache) get(ctx context.Context, key Key) (Result, error) {
	c.mu.RLock()
	rec, ok := c.entries[key]
	var cur record
	if ok {
		cur = *rec
	}
	c.mu.RUnlock()

	if !ok {
		e, err := c.refreshWait(ctx, key)
		if err != nil {
			return Result{}, err
		}
		return Result{Entry: e, Status: StatusMiss}, nil
	}

	age := c.clock.Since(cur.FetchedAt)
	switch {
	case !cur.forced && age < c.ttls.forKind(key.Kind):
		return Result{Entry: cur.Entry, Status: StatusFresh}, nil

	case cur.forced || (c.maxStale > 0 && age >= c.maxStale):
		e, err := c.refreshWait(ctx, key)
		if err != nil {
			c.logger.Warn("refresh failed, serving stale entry",
				"account", key.Account,
				"kind", key.Kind,
				"age", age,
				"error", err,
			)
			return Result{Entry: cur.Entry, Status: StatusStale}, nil
		}
		return Result{Entry: e, Status: StatusRefreshed}, nil

	default:
		c.refreshAsync(key)
		return Result{Entry: cur.Entry, Status: StatusStale}, nil
	}
}

// Peek returns the stored entry for key without fetching.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec, ok := c.entries[key]
	if !ok {
		return Entry{}, false
	}
	return rec.Entry, true
}

// Invalidate makes the next Get for key wait for a refresh. The current
// entry is kept as a fallback for when that refresh fails.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.entries[key]; ok {
		rec.forced = true
	}
}

// InvalidateAccount invalidates every entry of account.
func (c *Cache) InvalidateAccount(account string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, rec := range c.entries {
		if k.Account == account {
			rec.forced = true
			n++
		}
	}
	return n
}

// Refresh fetches key now, sharing any in-flight fetch, and stores the
// result. Stored entries are kept when the fetch fails.
func (c *Cache) Refresh(ctx context.Context, key Key) error {
	_, err := c.refreshWait(ctx, key)
	return err
}

// Len returns the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the keys of every stored entry.
func (c *Cache) Keys() []Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Key, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

// Prune drops parameterised entries older than the staleness ceiling, plus
// every entry of accounts not in keep. It returns the number removed.
func (c *Cache) Prune(keep map[string]bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, rec := range c.entries {
		orphan := keep != nil && !keep[k.Account]
		expired := k.Param != "" && c.maxStale > 0 && c.clock.Since(rec.FetchedAt) >= c.maxStale
		if orphan || expired {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Put stores e unless a newer entry for the same key exists. It returns the
// entry that is stored afterwards.
func (c *Cache) Put(e Entry) Entry {
	c.mu.Lock()
	if cur, ok := c.entries[e.Key]; ok && cur.FetchedAt.After(e.FetchedAt) {
		c.mu.Unlock()
		c.logger.Debug("dropping out-of-order catalog commit",
			"account", e.Key.Account,
			"kind", e.Key.Kind,
		)
		return cur.Entry
	}
	c.entries[e.Key] = &record{Entry: e}
	c.mu.Unlock()
	return e
}

// Warm loads entries from the snapshot store.
func (c *Cache) Warm(ctx context.Context) (int, error) {
	if c.store == nil {
		return 0, nil
	}
	entries, err := c.store.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load catalog snapshot: %w", err)
	}
	for _, e := range entries {
		if !e.Key.Kind.Valid() {
			continue
		}
		c.Put(e)
	}
	c.logger.Info("catalog warmed from snapshot", "entries", len(entries))
	return len(entries), nil
}

func (c *Cache) refreshAsync(key Key) {
	// DoChan shares an in-flight fetch, so repeated stale reads start one
	// refresh at most.
	c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(context.Background(), key)
	})
}

func (c *Cache) refreshWait(ctx context.Context, key Key) (Entry, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String(), func() (any, error) {
		return c.fetch(detached, key)
	})

	select {
	case <-ctx.Done():
		return Entry{}, types.E(types.KindUpstreamUnavailable, "catalog.Get", "", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

func (c *Cache) fetch(ctx context.Context, key Key) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "catalog.Fetch", trace.WithAttributes(
		attribute.String("catalog.account", key.Account),
		attribute.String("catalog.kind", string(key.Kind)),
	))
	defer span.End()

	start := c.clock.Now()
	payload, err := c.fetcher.Fetch(ctx, key)
	duration := c.clock.Since(start)
	c.observer.CatalogFetch(string(key.Kind), err, duration)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var typed *types.Error
		if !errors.As(err, &typed) {
			err = types.E(types.KindUpstreamUnavailable, "catalog.Fetch", "", err)
		}
		c.logger.Warn("catalog fetch failed",
			"account", key.Account,
			"kind", key.Kind,
			"duration", duration,
			"error", err,
		)
		return Entry{}, err
	}

	stored := c.Put(Entry{Key: key, Payload: payload, FetchedAt: start})
	c.logger.Debug("catalog entry refreshed",
		"account", key.Account,
		"kind", key.Kind,
		"bytes", len(payload),
		"duration", duration,
	)

	if c.store != nil {
		if err := c.store.Save(ctx, stored); err != nil {
			c.logger.Warn("failed to persist catalog entry",
				"account", key.Account,
				"kind", key.Kind,
				"error", err,
			)
		}
	}
	return stored, nil
}
