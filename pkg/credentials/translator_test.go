package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

type fakeDirectory map[string]bool

func (d fakeDirectory) AccountDisabled(name string) (bool, bool) {
	disabled, ok := d[name]
	return disabled, ok
}

func newTestTranslator(t *testing.T, clk clock.Clock) *Translator {
	t.Helper()
	store, err := NewSessionStore(100, time.Hour, clk)
	if err != nil {
		t.Fatalf("failed to create session store: %v", err)
	}
	users := []config.UserConfig{
		{Username: "alice", Password: "alice-pass", Upstream: "main"},
		{Username: "bob", Password: "bob-pass", Upstream: "main", Suspended: true},
		{Username: "carol", Password: "carol-pass", Upstream: "off"},
	}
	return NewTranslator(users, fakeDirectory{"main": false, "off": true}, store)
}

func TestAuthenticate(t *testing.T) {
	tr := newTestTranslator(t, clock.NewMock())
	ctx := context.Background()

	tests := []struct {
		name    string
		id      Identity
		wantErr error
	}{
		{"valid", Identity{"alice", "alice-pass"}, nil},
		{"wrong password", Identity{"alice", "nope"}, types.ErrUnauthorized},
		{"unknown user", Identity{"mallory", "x"}, types.ErrUnauthorized},
		{"suspended user", Identity{"bob", "bob-pass"}, types.ErrAccountSuspended},
		{"disabled account", Identity{"carol", "carol-pass"}, types.ErrAccountSuspended},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tr.Authenticate(ctx, tt.id)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Account() != "main" {
				t.Errorf("expected account main, got %q", res.Account())
			}
			if res.Session.Token == "" {
				t.Error("expected a session token")
			}
		})
	}
}

func TestAuthenticate_ReusesSession(t *testing.T) {
	tr := newTestTranslator(t, clock.NewMock())
	ctx := context.Background()

	first, err := tr.Authenticate(ctx, Identity{"alice", "alice-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := tr.Authenticate(ctx, Identity{"alice", "alice-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Session.Token != second.Session.Token {
		t.Error("expected the same session for repeated authentication")
	}
}

func TestResolveToken_Expiry(t *testing.T) {
	clk := clock.NewMock()
	tr := newTestTranslator(t, clk)
	ctx := context.Background()

	res, err := tr.Authenticate(ctx, Identity{"alice", "alice-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Each use refreshes the expiry.
	clk.Add(50 * time.Minute)
	if _, err := tr.ResolveToken(ctx, res.Session.Token); err != nil {
		t.Fatalf("expected token to be valid, got %v", err)
	}
	clk.Add(50 * time.Minute)
	if _, err := tr.ResolveToken(ctx, res.Session.Token); err != nil {
		t.Fatalf("expected refreshed token to be valid, got %v", err)
	}

	clk.Add(61 * time.Minute)
	if _, err := tr.ResolveToken(ctx, res.Session.Token); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected expired token to be unauthorized, got %v", err)
	}
}

func TestReconfigure_RemapInvalidatesSession(t *testing.T) {
	tr := newTestTranslator(t, clock.NewMock())
	ctx := context.Background()

	res, err := tr.Authenticate(ctx, Identity{"alice", "alice-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr.accounts = fakeDirectory{"main": false, "backup": false}
	tr.Reconfigure([]config.UserConfig{
		{Username: "alice", Password: "alice-pass", Upstream: "backup"},
	})

	if _, err := tr.ResolveToken(ctx, res.Session.Token); !errors.Is(err, types.ErrUnauthorized) {
		t.Fatalf("expected old session to be gone, got %v", err)
	}

	next, err := tr.Authenticate(ctx, Identity{"alice", "alice-pass"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Account() != "backup" {
		t.Errorf("expected new session on backup, got %q", next.Account())
	}
	if next.Session.Token == res.Session.Token {
		t.Error("expected a new token after remapping")
	}
}

func TestSessionStore_Bounded(t *testing.T) {
	store, err := NewSessionStore(2, time.Hour, clock.NewMock())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	first, _ := store.Acquire("u1", "main")
	store.Acquire("u2", "main")
	store.Acquire("u3", "main")

	if store.Len() != 2 {
		t.Errorf("expected 2 sessions, got %d", store.Len())
	}
	if _, ok := store.Lookup(first.Token); ok {
		t.Error("expected oldest session to be evicted")
	}
	// The evicted user gets a fresh session rather than a dangling index.
	if _, created := store.Acquire("u1", "main"); !created {
		t.Error("expected a new session for the evicted user")
	}
}

func TestSessionStore_PurgeExpired(t *testing.T) {
	clk := clock.NewMock()
	store, err := NewSessionStore(10, time.Minute, clk)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	store.Acquire("u1", "main")
	clk.Add(30 * time.Second)
	store.Acquire("u2", "main")
	clk.Add(45 * time.Second)

	if n := store.PurgeExpired(); n != 1 {
		t.Errorf("expected 1 purged session, got %d", n)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 remaining session, got %d", store.Len())
	}
}
