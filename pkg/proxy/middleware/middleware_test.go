package middleware

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/limits/ratelimit"
)

func TestLoggingMiddleware_MasksPasswords(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer slog.SetDefault(prev)

	wrapped := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("12345"))
	}))

	w := httptest.NewRecorder()
	wrapped.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/movie/alice/topsecret/1.mp4", nil))

	out := buf.String()
	if strings.Contains(out, "topsecret") {
		t.Errorf("password leaked into access log: %s", out)
	}
	if !strings.Contains(out, `"status":206`) || !strings.Contains(out, `"bytes":5`) {
		t.Errorf("expected status and bytes logged, got %s", out)
	}
}

func TestResponseWriter_Unwrap(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if err := http.NewResponseController(rw).Flush(); err != nil {
		t.Errorf("expected flush to reach the recorder, got %v", err)
	}
	if !rec.Flushed {
		t.Error("expected recorder flushed")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, err := ratelimit.New(config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 0.5,
		Burst:             1,
	}, ratelimit.WithClock(clock.NewMock()))
	if err != nil {
		t.Fatalf("failed to create limiter: %v", err)
	}

	wrapped := RateLimitMiddleware(limiter, ClientIP, "/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(path, addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(context.Background())
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		wrapped.ServeHTTP(w, req)
		return w
	}

	if w := send("/player_api.php", "10.0.0.1:1000"); w.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", w.Code)
	}
	w := send("/player_api.php", "10.0.0.1:1001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("expected Retry-After 2, got %q", got)
	}
	if !strings.Contains(w.Body.String(), `"overloaded"`) {
		t.Errorf("expected overloaded code, got %s", w.Body.String())
	}

	if w := send("/player_api.php", "10.0.0.2:1000"); w.Code != http.StatusOK {
		t.Errorf("expected other client allowed, got %d", w.Code)
	}
	if w := send("/health", "10.0.0.1:1002"); w.Code != http.StatusOK {
		t.Errorf("expected exempt path allowed, got %d", w.Code)
	}
}
