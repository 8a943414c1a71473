package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestKindMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"unauthorized", E(KindUnauthorized, "auth", "", nil), http.StatusUnauthorized, "unauthorized"},
		{"suspended", ErrAccountSuspended, http.StatusForbidden, "account_suspended"},
		{"upstream unavailable", fmt.Errorf("fetch: %w", ErrUpstreamUnavailable), http.StatusBadGateway, "upstream_unavailable"},
		{"overloaded", E(KindOverloaded, "pool.acquire", "", nil), http.StatusTooManyRequests, "overloaded"},
		{"service unavailable", E(KindServiceUnavailable, "relay", "", nil), http.StatusServiceUnavailable, "service_unavailable"},
		{"protocol", E(KindUpstreamProtocol, "catalog", "", nil), http.StatusBadGateway, "upstream_protocol_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind := KindOf(tt.err)
			if got := kind.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, got)
			}
			if got := kind.Code(); got != tt.wantCode {
				t.Errorf("expected code %q, got %q", tt.wantCode, got)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", E(KindOverloaded, "pool.acquire", "", errors.New("deadline")))
	if !errors.Is(err, ErrOverloaded) {
		t.Error("expected wrapped *Error to match ErrOverloaded")
	}
	if errors.Is(err, ErrUnauthorized) {
		t.Error("did not expect match with ErrUnauthorized")
	}
}

func TestWriteErrorHidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	cause := errors.New("dial tcp 10.0.0.5:8080: secret-password rejected")
	WriteError(rec, E(KindUpstreamUnavailable, "catalog.get", "", cause), "req-1")

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	body := rec.Body.String()
	if strings.Contains(body, "10.0.0.5") || strings.Contains(body, "secret-password") {
		t.Errorf("error body leaks internal detail: %s", body)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.Error.Code != CodeUpstreamUnavailable {
		t.Errorf("expected code %q, got %q", CodeUpstreamUnavailable, resp.Error.Code)
	}
	if resp.Error.RequestID != "req-1" {
		t.Errorf("expected request id req-1, got %q", resp.Error.RequestID)
	}
	if resp.UserInfo != nil {
		t.Error("expected no user_info for non-auth errors")
	}
}

func TestWriteErrorAuthShape(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrUnauthorized, "")

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if string(raw["user_info"]) != `{"auth":0}` {
		t.Errorf("expected user_info auth 0, got %s", raw["user_info"])
	}
}

func TestWriteErrorRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, ErrOverloaded, "")
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on overloaded response")
	}
}
