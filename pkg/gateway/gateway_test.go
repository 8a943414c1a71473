package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/catalog"
	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/credentials"
	"github.com/rafaalpizar/xtream-proxy/pkg/limits/ratelimit"
	"github.com/rafaalpizar/xtream-proxy/pkg/relay"
	"github.com/rafaalpizar/xtream-proxy/pkg/routing"
	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// ===== Fake panel =====

type fakePanel struct {
	srv      *httptest.Server
	failing  atomic.Bool
	apiCalls atomic.Int64
}

var panelAccounts = map[string]string{
	"up-user": "up-pass",
	"bk-user": "bk-pass",
}

func newFakePanel(t *testing.T) *fakePanel {
	t.Helper()
	p := &fakePanel{}

	mux := http.NewServeMux()
	mux.HandleFunc("/player_api.php", func(w http.ResponseWriter, r *http.Request) {
		p.apiCalls.Add(1)
		if p.failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		q := r.URL.Query()
		user := q.Get("username")
		if pass, ok := panelAccounts[user]; !ok || pass != q.Get("password") {
			fmt.Fprint(w, `{"user_info":{"auth":0}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch q.Get("action") {
		case "":
			fmt.Fprintf(w, `{"user_info":{"username":%q,"password":%q,"auth":1,"status":"Active","max_connections":"5","active_cons":"3"},`+
				`"server_info":{"url":"panel.internal","port":"8080","server_protocol":"http","timezone":"UTC"}}`, user, q.Get("password"))
		case "get_live_categories":
			fmt.Fprint(w, `[{"category_id":"1","category_name":"News"},{"category_id":"2","category_name":"Sports"}]`)
		case "get_live_streams":
			fmt.Fprint(w, `[{"name":"CNN","stream_id":10,"category_id":"1","epg_channel_id":"cnn.us","stream_icon":"http://img/cnn.png"},`+
				`{"name":"ESPN","stream_id":"11","category_id":"2"}]`)
		case "get_series_info":
			fmt.Fprintf(w, `{"info":{"name":"Show %s"}}`, q.Get("series_id"))
		default:
			fmt.Fprint(w, `[]`)
		}
	})
	mux.HandleFunc("/xmltv.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0"?><tv></tv>`)
	})
	mux.HandleFunc("/live/", func(w http.ResponseWriter, r *http.Request) {
		segs := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(segs) != 4 || panelAccounts[segs[1]] != segs[2] {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		fmt.Fprint(w, "stream:"+segs[1])
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

// ===== Harness =====

type harness struct {
	gw      *Gateway
	pool    *upstream.Pool
	cache   *catalog.Cache
	streams *ratelimit.StreamLimiter
	mock    *clock.Mock
	panel   *fakePanel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	panel := newFakePanel(t)

	cfg := &config.Config{
		Upstreams: map[string]config.UpstreamConfig{
			"main": {
				BaseURL:        panel.srv.URL,
				Username:       "up-user",
				Password:       "up-pass",
				MaxConnections: 2,
				Mirrors:        []string{"backup"},
			},
			"backup": {
				BaseURL:        panel.srv.URL,
				Username:       "bk-user",
				Password:       "bk-pass",
				MaxConnections: 2,
			},
		},
		Users: []config.UserConfig{
			{Username: "alice", Password: "secret", Upstream: "main", MaxConnections: 1},
			{Username: "bob", Password: "hunter22", Upstream: "main", Suspended: true},
		},
	}
	config.ApplyDefaults(cfg)
	cfg.Pool.AcquireTimeout = 20 * time.Millisecond
	cfg.Pool.MaxRetries = 0

	mock := clock.NewMock()
	pool, err := upstream.NewPool(cfg, upstream.WithClock(mock))
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	sessions, err := credentials.NewSessionStore(100, time.Hour, mock)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	cache := catalog.New(catalog.NewUpstreamFetcher(pool, nil), catalog.Options{
		TTLs:     catalog.TTLs{Lists: time.Hour, Info: time.Hour, EPG: time.Hour},
		MaxStale: 72 * time.Hour,
		Clock:    mock,
	})
	selector := routing.NewSelector(pool)
	engine := relay.NewEngine(cfg.Relay, pool, relay.WithFailoverRecorder(selector))
	t.Cleanup(func() { _ = engine.Shutdown(context.Background()) })
	streams := ratelimit.NewStreamLimiter()

	gw, err := New(cfg, Deps{
		Translator: credentials.NewTranslator(cfg.Users, pool, sessions),
		Catalog:    cache,
		Selector:   selector,
		Engine:     engine,
		Accounts:   pool,
		Streams:    streams,
	})
	if err != nil {
		t.Fatalf("failed to create gateway: %v", err)
	}
	return &harness{gw: gw, pool: pool, cache: cache, streams: streams, mock: mock, panel: panel}
}

func (h *harness) get(target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "http://proxy.local:8000"+target, nil)
	w := httptest.NewRecorder()
	h.gw.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid error body %q: %v", w.Body.String(), err)
	}
	return body.Error.Code
}

// ===== Player API Tests =====

func TestPlayerInfo_RewritesIdentity(t *testing.T) {
	h := newHarness(t)

	w := h.get("/player_api.php?username=alice&password=secret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "up-pass") || strings.Contains(w.Body.String(), "panel.internal") {
		t.Fatalf("upstream identity leaked: %s", w.Body.String())
	}

	var info struct {
		UserInfo   map[string]any `json:"user_info"`
		ServerInfo map[string]any `json:"server_info"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if info.UserInfo["username"] != "alice" || info.UserInfo["password"] != "secret" {
		t.Errorf("expected proxy credentials, got %v", info.UserInfo)
	}
	if info.UserInfo["max_connections"] != "1" || info.UserInfo["active_cons"] != "0" {
		t.Errorf("expected user connection counts, got %v", info.UserInfo)
	}
	if info.ServerInfo["url"] != "proxy.local" || info.ServerInfo["port"] != "8000" {
		t.Errorf("expected proxy server info, got %v", info.ServerInfo)
	}
	if info.ServerInfo["timezone"] != "UTC" {
		t.Errorf("expected unknown fields kept, got %v", info.ServerInfo)
	}
	if w.Header().Get(SessionTokenHeader) == "" {
		t.Error("expected session token header")
	}
}

func TestPlayerAPI_Unauthorized(t *testing.T) {
	h := newHarness(t)

	w := h.get("/player_api.php?username=alice&password=wrong")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"user_info":{"auth":0}`) {
		t.Errorf("expected auth=0 user info, got %s", w.Body.String())
	}

	w = h.get("/player_api.php?username=bob&password=hunter22")
	if w.Code != http.StatusForbidden || errorCode(t, w) != "account_suspended" {
		t.Errorf("expected 403 account_suspended, got %d %s", w.Code, w.Body.String())
	}

	w = h.get("/player_api.php?action=get_live_streams")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", w.Code)
	}
}

func TestPlayerAPI_UnknownActionReturnsEmptyList(t *testing.T) {
	h := newHarness(t)

	w := h.get("/player_api.php?username=alice&password=secret&action=get_everything")
	if w.Code != http.StatusOK || w.Body.String() != "[]" {
		t.Errorf("expected 200 [], got %d %q", w.Code, w.Body.String())
	}
}

func TestPlayerAPI_CategoryFilter(t *testing.T) {
	h := newHarness(t)

	w := h.get("/player_api.php?username=alice&password=secret&action=get_live_streams&category_id=2")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var items []map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if len(items) != 1 || items[0]["name"] != "ESPN" {
		t.Errorf("expected only ESPN, got %v", items)
	}

	// The unfiltered list comes from the same cache entry.
	calls := h.panel.apiCalls.Load()
	w = h.get("/player_api.php?username=alice&password=secret&action=get_live_streams")
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil || len(items) != 2 {
		t.Errorf("expected 2 streams, got %s", w.Body.String())
	}
	if h.panel.apiCalls.Load() != calls {
		t.Error("expected cached list to be reused")
	}
	if w.Header().Get(CacheStatusHeader) != string(catalog.StatusFresh) {
		t.Errorf("expected fresh cache status, got %q", w.Header().Get(CacheStatusHeader))
	}
}

func TestPlayerAPI_ParameterisedAction(t *testing.T) {
	h := newHarness(t)

	w := h.get("/player_api.php?username=alice&password=secret&action=get_series_info&series_id=5")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Show 5") {
		t.Errorf("expected series info, got %d %s", w.Code, w.Body.String())
	}

	w = h.get("/player_api.php?username=alice&password=secret&action=get_series_info")
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "invalid_request" {
		t.Errorf("expected 400 invalid_request, got %d %s", w.Code, w.Body.String())
	}
}

func TestPlayerAPI_TokenAuthentication(t *testing.T) {
	h := newHarness(t)

	login := h.get("/player_api.php?username=alice&password=secret")
	token := login.Header().Get(SessionTokenHeader)

	req := httptest.NewRequest(http.MethodGet, "http://proxy.local:8000/player_api.php", nil)
	req.Header.Set(SessionTokenHeader, token)
	w := httptest.NewRecorder()
	h.gw.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "secret") {
		t.Error("token login must not echo the password")
	}

	// URLs handed to token clients carry the token as password.
	w = h.get("/live/alice/" + token + "/10.ts")
	if w.Code != http.StatusOK || w.Body.String() != "stream:up-user" {
		t.Errorf("expected stream with token credentials, got %d %q", w.Code, w.Body.String())
	}
}

// ===== Export Tests =====

func TestGetPHP_ExportsPlaylist(t *testing.T) {
	h := newHarness(t)

	w := h.get("/get.php?username=alice&password=secret&type=m3u_plus&output=ts")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	for _, want := range []string{
		"#EXTM3U\n",
		`#EXTINF:-1 tvg-id="cnn.us" tvg-name="CNN" tvg-logo="http://img/cnn.png" group-title="News",CNN`,
		"http://proxy.local:8000/live/alice/secret/10.ts",
		`group-title="Sports",ESPN`,
		"http://proxy.local:8000/live/alice/secret/11.ts",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected playlist to contain %q, got:\n%s", want, body)
		}
	}
	if strings.Contains(body, "up-pass") {
		t.Error("upstream password leaked into playlist")
	}

	w = h.get("/get.php?username=alice&password=secret&type=m3u&output=m3u8")
	if !strings.Contains(w.Body.String(), "#EXTINF:-1,CNN\nhttp://proxy.local:8000/live/alice/secret/10.m3u8\n") {
		t.Errorf("expected plain m3u entry, got:\n%s", w.Body.String())
	}

	w = h.get("/get.php?username=alice&password=secret&output=flv")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown output, got %d", w.Code)
	}
}

func TestXMLTV(t *testing.T) {
	h := newHarness(t)

	w := h.get("/xmltv.php?username=alice&password=secret")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<tv>") {
		t.Errorf("expected guide, got %d %s", w.Code, w.Body.String())
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/xml") {
		t.Errorf("unexpected content type %q", w.Header().Get("Content-Type"))
	}
}

// ===== Stream Tests =====

func TestStream_UsesUpstreamCredentials(t *testing.T) {
	h := newHarness(t)

	w := h.get("/live/alice/secret/10.ts")
	if w.Code != http.StatusOK || w.Body.String() != "stream:up-user" {
		t.Errorf("expected relayed stream, got %d %q", w.Code, w.Body.String())
	}
	if acct, _ := h.pool.Account("main"); acct.InUse() != 0 {
		t.Errorf("expected slot released, got %d in use", acct.InUse())
	}
	if h.streams.Active("alice") != 0 {
		t.Errorf("expected user stream released, got %d", h.streams.Active("alice"))
	}
}

func TestStream_PerUserLimit(t *testing.T) {
	h := newHarness(t)

	release, ok := h.streams.Acquire("alice", 1)
	if !ok {
		t.Fatal("expected first stream slot")
	}
	defer release()

	w := h.get("/live/alice/secret/10.ts")
	if w.Code != http.StatusTooManyRequests || errorCode(t, w) != "overloaded" {
		t.Errorf("expected 429 overloaded, got %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestStream_WrongPassword(t *testing.T) {
	h := newHarness(t)

	w := h.get("/movie/alice/nope/1.mp4")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestRelay_RejectsUnrelatedAccountAndOrigin(t *testing.T) {
	h := newHarness(t)

	for _, target := range []string{
		"/relay/alice/secret/elsewhere/hls/1.ts",
		"/relay/alice/secret/main/@http:evil.example/hls/1.ts",
	} {
		w := h.get(target)
		if w.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", target, w.Code)
		}
	}

	w := h.get("/relay/alice/secret/backup/live/alice/secret/10.ts")
	if w.Code != http.StatusOK || w.Body.String() != "stream:bk-user" {
		t.Errorf("expected mirror relay, got %d %q", w.Code, w.Body.String())
	}
}

func TestRelay_RejectsPanelScripts(t *testing.T) {
	h := newHarness(t)

	for _, target := range []string{
		"/relay/alice/secret/main/player_api.php?username=alice&password=secret",
		"/relay/alice/secret/main/get.php?username=alice&password=secret&type=m3u",
		"/relay/alice/secret/backup/xmltv.php",
	} {
		w := h.get(target)
		if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
			t.Errorf("%s: expected 404 not_found, got %d", target, w.Code)
		}
		body := w.Body.String()
		if strings.Contains(body, "up-pass") || strings.Contains(body, "bk-pass") || strings.Contains(body, "panel.internal") {
			t.Errorf("%s: upstream details leaked: %s", target, body)
		}
	}
	if calls := h.panel.apiCalls.Load(); calls != 0 {
		t.Errorf("expected no panel calls, got %d", calls)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newHarness(t)

	w := h.get("/nothing-here")
	if w.Code != http.StatusNotFound || errorCode(t, w) != "not_found" {
		t.Errorf("expected 404 not_found, got %d %s", w.Code, w.Body.String())
	}
}

// ===== Scenario Tests =====

// An authenticated client keeps its catalog while the primary account goes
// down, streams move to the mirror, and with no account left streams fail
// with service_unavailable.
func TestScenario_ProbeFailuresFailoverThenUnavailable(t *testing.T) {
	h := newHarness(t)

	if w := h.get("/player_api.php?username=alice&password=secret"); w.Code != http.StatusOK {
		t.Fatalf("login failed: %d", w.Code)
	}
	if w := h.get("/player_api.php?username=alice&password=secret&action=get_live_streams"); w.Code != http.StatusOK {
		t.Fatalf("catalog failed: %d", w.Code)
	}

	down := map[string]bool{"main": true}
	prober := upstream.NewProber(h.pool, func(ctx context.Context, acct *upstream.Account) error {
		if down[acct.Name] {
			return errors.New("connection refused")
		}
		return nil
	}, time.Minute, time.Second, h.mock)

	for i := 0; i < 3; i++ {
		prober.ProbeAll(context.Background())
	}
	if state := h.pool.State("main"); state != upstream.StateDown {
		t.Fatalf("expected main down after 3 failures, got %s", state)
	}

	// The panel now fails every API call; the catalog is served stale.
	h.panel.failing.Store(true)
	h.mock.Add(2 * time.Hour)
	w := h.get("/player_api.php?username=alice&password=secret&action=get_live_streams")
	if w.Code != http.StatusOK {
		t.Fatalf("expected cached catalog, got %d", w.Code)
	}
	if w.Header().Get(CacheStatusHeader) != string(catalog.StatusStale) {
		t.Errorf("expected stale catalog, got %q", w.Header().Get(CacheStatusHeader))
	}

	w = h.get("/live/alice/secret/10.ts")
	if w.Code != http.StatusOK || w.Body.String() != "stream:bk-user" {
		t.Fatalf("expected failover to mirror, got %d %q", w.Code, w.Body.String())
	}

	down["backup"] = true
	for i := 0; i < 3; i++ {
		prober.ProbeAll(context.Background())
	}
	w = h.get("/live/alice/secret/10.ts")
	if w.Code != http.StatusServiceUnavailable || errorCode(t, w) != "service_unavailable" {
		t.Errorf("expected 503 service_unavailable, got %d %s", w.Code, w.Body.String())
	}
}
