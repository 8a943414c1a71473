package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

var testTTLs = TTLs{Lists: time.Hour, Info: 30 * time.Minute, EPG: 10 * time.Minute}

type scriptedFetcher struct {
	calls   atomic.Int32
	mu      sync.Mutex
	payload []byte
	err     error
	block   chan struct{}
}

func (f *scriptedFetcher) set(payload string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payload = []byte(payload)
	f.err = err
}

func (f *scriptedFetcher) Fetch(ctx context.Context, key Key) ([]byte, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.payload, f.err
}

func newTestCache(f Fetcher, clk clock.Clock) *Cache {
	return New(f, Options{
		TTLs:         testTTLs,
		MaxStale:     3 * time.Hour,
		FetchTimeout: 5 * time.Second,
		Clock:        clk,
	})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestCache_SingleFlight(t *testing.T) {
	f := &scriptedFetcher{block: make(chan struct{})}
	f.set(`[]`, nil)
	c := newTestCache(f, clock.NewMock())
	key := NewKey("main", KindLiveStreams, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), key)
			errs <- err
		}()
	}

	waitFor(t, func() bool { return f.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(f.block)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := f.calls.Load(); got != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", got)
	}
}

func TestCache_RoundTripIsByteIdentical(t *testing.T) {
	raw := "[ {\"stream_id\" : 1, \"name\":\"Caf\\u00e9\"} ]\n"
	f := &scriptedFetcher{}
	f.set(raw, nil)
	clk := clock.NewMock()
	c := newTestCache(f, clk)
	key := NewKey("main", KindLiveStreams, nil)

	first, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Status != StatusMiss {
		t.Errorf("expected miss, got %s", first.Status)
	}

	clk.Add(30 * time.Minute)
	second, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status != StatusFresh {
		t.Errorf("expected fresh, got %s", second.Status)
	}
	if string(second.Payload) != raw {
		t.Errorf("expected payload %q, got %q", raw, second.Payload)
	}
	if f.calls.Load() != 1 {
		t.Errorf("expected 1 fetch, got %d", f.calls.Load())
	}
}

func TestCache_StaleWhileRevalidate(t *testing.T) {
	f := &scriptedFetcher{}
	f.set(`["v1"]`, nil)
	clk := clock.NewMock()
	c := newTestCache(f, clk)
	key := NewKey("main", KindLiveCategories, nil)

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.set(`["v2"]`, nil)
	clk.Add(2 * time.Hour)

	res, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusStale || string(res.Payload) != `["v1"]` {
		t.Errorf("expected stale v1, got %s %s", res.Status, res.Payload)
	}

	waitFor(t, func() bool {
		e, _ := c.Peek(key)
		return string(e.Payload) == `["v2"]`
	})

	res, err = c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusFresh || string(res.Payload) != `["v2"]` {
		t.Errorf("expected fresh v2, got %s %s", res.Status, res.Payload)
	}
	if f.calls.Load() != 2 {
		t.Errorf("expected 2 fetches, got %d", f.calls.Load())
	}
}

func TestCache_ConcurrentStaleReadsShareOneRefresh(t *testing.T) {
	f := &scriptedFetcher{}
	f.set(`["v1"]`, nil)
	clk := clock.NewMock()
	c := newTestCache(f, clk)
	key := NewKey("main", KindLiveStreams, nil)

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.block = make(chan struct{})
	f.set(`["v2"]`, nil)
	clk.Add(2 * time.Hour)

	var wg sync.WaitGroup
	results := make(chan Result, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := c.Get(context.Background(), key)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			results <- res
		}()
	}
	wg.Wait()
	close(results)

	for res := range results {
		if res.Status != StatusStale || string(res.Payload) != `["v1"]` {
			t.Errorf("expected stale v1, got %s %s", res.Status, res.Payload)
		}
	}

	waitFor(t, func() bool { return f.calls.Load() == 2 })
	close(f.block)
	waitFor(t, func() bool {
		e, _ := c.Peek(key)
		return string(e.Payload) == `["v2"]`
	})

	if f.calls.Load() != 2 {
		t.Errorf("expected one background fetch for 20 stale reads, got %d fetches", f.calls.Load()-1)
	}
}

func TestCache_MaxStaleForcesRefresh(t *testing.T) {
	f := &scriptedFetcher{}
	f.set(`["v1"]`, nil)
	clk := clock.NewMock()
	c := newTestCache(f, clk)
	key := NewKey("main", KindSeries, nil)

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.set(`["v2"]`, nil)
	clk.Add(4 * time.Hour)

	res, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusRefreshed || string(res.Payload) != `["v2"]` {
		t.Errorf("expected refreshed v2, got %s %s", res.Status, res.Payload)
	}
}

func TestCache_FailedRefreshServesStale(t *testing.T) {
	f := &scriptedFetcher{}
	f.set(`["v1"]`, nil)
	clk := clock.NewMock()
	c := newTestCache(f, clk)
	key := NewKey("main", KindVODStreams, nil)

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f.set("", errors.New("connection refused"))
	clk.Add(10 * time.Hour)

	res, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("expected stale entry, got %v", err)
	}
	if res.Status != StatusStale || string(res.Payload) != `["v1"]` {
		t.Errorf("expected stale v1, got %s %s", res.Status, res.Payload)
	}
	if f.calls.Load() != 2 {
		t.Errorf("expected a refresh attempt, got %d fetches", f.calls.Load())
	}
}

func TestCache_MissingEntryErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"transport", errors.New("dial tcp: refused"), types.ErrUpstreamUnavailable},
		{"protocol", types.E(types.KindUpstreamProtocol, "test", "", errors.New("bad json")), types.ErrUpstreamProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &scriptedFetcher{}
			f.set("", tt.err)
			c := newTestCache(f, clock.NewMock())

			_, err := c.Get(context.Background(), NewKey("main", KindLiveStreams, nil))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	f := &scriptedFetcher{}
	f.set(`["v1"]`, nil)
	c := newTestCache(f, clock.NewMock())
	key := NewKey("main", KindLiveStreams, nil)

	if _, err := c.Get(context.Background(), key); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	f.set(`["v2"]`, nil)
	c.Invalidate(key)

	res, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != StatusRefreshed || string(res.Payload) != `["v2"]` {
		t.Errorf("expected refreshed v2, got %s %s", res.Status, res.Payload)
	}

	// A failed forced refresh still serves the previous entry.
	f.set("", errors.New("down"))
	c.Invalidate(key)
	res, err = c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("expected fallback entry, got %v", err)
	}
	if string(res.Payload) != `["v2"]` {
		t.Errorf("expected v2 fallback, got %s", res.Payload)
	}
}

func TestCache_MonotonicCommit(t *testing.T) {
	clk := clock.NewMock()
	c := newTestCache(&scriptedFetcher{}, clk)
	key := NewKey("main", KindLiveStreams, nil)

	newer := Entry{Key: key, Payload: []byte(`["new"]`), FetchedAt: clk.Now().Add(time.Minute)}
	older := Entry{Key: key, Payload: []byte(`["old"]`), FetchedAt: clk.Now()}

	c.Put(newer)
	stored := c.Put(older)
	if string(stored.Payload) != `["new"]` {
		t.Errorf("expected newer entry to win, got %s", stored.Payload)
	}
}

func TestCache_CancelledCallerDoesNotAbortFetch(t *testing.T) {
	f := &scriptedFetcher{block: make(chan struct{})}
	f.set(`["v1"]`, nil)
	c := newTestCache(f, clock.NewMock())
	key := NewKey("main", KindLiveStreams, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, key)
		done <- err
	}()

	waitFor(t, func() bool { return f.calls.Load() == 1 })
	cancel()
	if err := <-done; err == nil {
		t.Fatal("expected cancelled caller to get an error")
	}

	close(f.block)
	waitFor(t, func() bool {
		_, ok := c.Peek(key)
		return ok
	})
}

func TestNewKey_CanonicalParams(t *testing.T) {
	a := NewKey("main", KindShortEPG, map[string][]string{
		"stream_id": {"42"}, "limit": {"4"}, "username": {"alice"},
	})
	b := NewKey("main", KindShortEPG, map[string][]string{
		"limit": {"4"}, "stream_id": {"42"}, "action": {"get_short_epg"},
	})
	if a != b {
		t.Errorf("expected equal keys, got %v and %v", a, b)
	}
	if a.Param != "limit=4&stream_id=42" {
		t.Errorf("unexpected param %q", a.Param)
	}

	if k := NewKey("main", KindLiveStreams, map[string][]string{"category_id": {"1"}}); k.Param != "" {
		t.Errorf("expected list key without params, got %q", k.Param)
	}
}

func TestKindForAction(t *testing.T) {
	tests := []struct {
		action string
		want   Kind
		ok     bool
	}{
		{"", KindPlayerInfo, true},
		{"get_live_streams", KindLiveStreams, true},
		{"get_series_info", KindSeriesInfo, true},
		{"get_simple_data_table", KindSimpleDataTable, true},
		{"xmltv", "", false},
		{"player_info", "", false},
		{"get_everything", "", false},
	}
	for _, tt := range tests {
		got, ok := KindForAction(tt.action)
		if got != tt.want || ok != tt.ok {
			t.Errorf("KindForAction(%q): expected %q %v, got %q %v", tt.action, tt.want, tt.ok, got, ok)
		}
	}
}
