package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
)

func newRecordingTracer(t *testing.T) (*Tracer, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })
	return &Tracer{tracer: provider.Tracer("test"), provider: provider, enabled: true}, rec
}

// ===== Tracer Tests =====

func TestNew_Disabled(t *testing.T) {
	tr, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Enabled() {
		t.Error("expected disabled tracer")
	}
	_, span := tr.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("expected no-op span")
	}
	span.End()
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&config.TracingConfig{Enabled: true, Sampler: "sometimes"}, "test"); err == nil {
		t.Error("expected error for unknown sampler")
	}
	if _, err := New(&config.TracingConfig{Enabled: true, Sampler: SamplerAlways}, "test"); err == nil {
		t.Error("expected error for missing endpoint")
	}
}

func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.25, false},
		{SamplerRatio, 1.5, true},
		{"bogus", 0, true},
	}
	for _, tt := range tests {
		_, err := createSampler(tt.strategy, tt.ratio)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s/%v: expected error=%v, got %v", tt.strategy, tt.ratio, tt.wantErr, err)
		}
	}
}

func TestSetStatus(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	_, span := tr.Start(context.Background(), "failing")
	SetStatus(span, errors.New("upstream reset"))
	span.End()

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status, got %v", spans[0].Status())
	}
}

// ===== Middleware Tests =====

func TestHTTPMiddleware(t *testing.T) {
	tr, rec := newRecordingTracer(t)

	var traceID string
	handler := HTTPMiddleware(tr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = TraceID(r.Context())
		w.WriteHeader(http.StatusBadGateway)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/live/alice/secret/1.ts", nil))

	if traceID == "" {
		t.Fatal("expected handler context to carry a span")
	}
	if got := w.Header().Get(TraceIDHeader); got != traceID {
		t.Errorf("expected trace id header %s, got %s", traceID, got)
	}

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("expected error status for 502, got %v", spans[0].Status())
	}
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "http.target" || kv.Key == "url.path" {
			t.Errorf("request path must not be recorded, found %s", kv.Key)
		}
	}
}
