package credentials

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"sync"

	"github.com/rafaalpizar/xtream-proxy/pkg/config"
	"github.com/rafaalpizar/xtream-proxy/pkg/proxy/types"
)

// Identity is a client-facing credential pair.
type Identity struct {
	Username string
	Password string
}

// User is a configured proxy user.
type User struct {
	Username       string
	Account        string
	Suspended      bool
	MaxConnections int

	password string
}

// Resolution is the result of a successful lookup.
type Resolution struct {
	User    User
	Session Session
}

// Account returns the upstream account name the session is bound to.
func (r *Resolution) Account() string {
	return r.Session.Account
}

// AccountDirectory reports the administrative state of upstream accounts.
type AccountDirectory interface {
	// AccountDisabled reports whether the named account is disabled.
	// ok is false for unknown accounts.
	AccountDisabled(name string) (disabled bool, ok bool)
}

// Translator maps proxy credentials to upstream accounts.
type Translator struct {
	mu       sync.RWMutex
	users    map[string]User
	accounts AccountDirectory
	sessions *SessionStore
	logger   *slog.Logger
}

// NewTranslator creates a translator for users.
func NewTranslator(users []config.UserConfig, accounts AccountDirectory, sessions *SessionStore) *Translator {
	return &Translator{
		users:    buildUserTable(users),
		accounts: accounts,
		sessions: sessions,
		logger:   slog.Default().With("component", "credentials"),
	}
}

func buildUserTable(users []config.UserConfig) map[string]User {
	table := make(map[string]User, len(users))
	for _, u := range users {
		table[u.Username] = User{
			Username:       u.Username,
			Account:        u.Upstream,
			Suspended:      u.Suspended,
			MaxConnections: u.MaxConnections,
			password:       u.Password,
		}
	}
	return table
}

// Authenticate resolves a username/password pair.
func (t *Translator) Authenticate(ctx context.Context, id Identity) (*Resolution, error) {
	t.mu.RLock()
	user, ok := t.users[id.Username]
	t.mu.RUnlock()

	if !ok || subtle.ConstantTimeCompare([]byte(user.password), []byte(id.Password)) != 1 {
		t.logger.DebugContext(ctx, "authentication failed", "username", id.Username)
		return nil, types.E(types.KindUnauthorized, "credentials.authenticate", "", nil)
	}

	if err := t.checkActive(user); err != nil {
		return nil, err
	}

	sess, created := t.sessions.Acquire(user.Username, user.Account)
	if created {
		t.logger.InfoContext(ctx, "session created",
			"username", user.Username,
			"account", user.Account,
		)
	}
	return &Resolution{User: user, Session: sess}, nil
}

// ResolveToken resolves a session token issued by Authenticate.
func (t *Translator) ResolveToken(ctx context.Context, token string) (*Resolution, error) {
	sess, ok := t.sessions.Lookup(token)
	if !ok {
		return nil, types.E(types.KindUnauthorized, "credentials.token", "unknown or expired token", nil)
	}

	t.mu.RLock()
	user, ok := t.users[sess.Username]
	t.mu.RUnlock()
	if !ok || user.Account != sess.Account {
		t.sessions.Invalidate(sess.Username)
		return nil, types.E(types.KindUnauthorized, "credentials.token", "unknown or expired token", nil)
	}

	if err := t.checkActive(user); err != nil {
		return nil, err
	}
	return &Resolution{User: user, Session: sess}, nil
}

func (t *Translator) checkActive(user User) error {
	if user.Suspended {
		return types.E(types.KindAccountSuspended, "credentials", "", nil)
	}
	if t.accounts == nil {
		return nil
	}
	disabled, known := t.accounts.AccountDisabled(user.Account)
	if !known {
		// The user table and the pool are reconfigured separately; a
		// mapping to an account that no longer exists is a suspension.
		return types.E(types.KindAccountSuspended, "credentials", "", nil)
	}
	if disabled {
		return types.E(types.KindAccountSuspended, "credentials", "", nil)
	}
	return nil
}

// Invalidate destroys the session of username.
func (t *Translator) Invalidate(username string) {
	if t.sessions.Invalidate(username) {
		t.logger.Info("session invalidated", "username", username)
	}
}

// Reconfigure replaces the user table. Sessions of removed users, or of
// users now mapped to a different account, are destroyed.
func (t *Translator) Reconfigure(users []config.UserConfig) {
	next := buildUserTable(users)

	t.mu.Lock()
	prev := t.users
	t.users = next
	t.mu.Unlock()

	for name, old := range prev {
		cur, ok := next[name]
		if !ok || cur.Account != old.Account || cur.password != old.password {
			t.Invalidate(name)
		}
	}

	t.logger.Info("user table reconfigured", "users", len(next))
}

// User returns the configured user by name.
func (t *Translator) User(username string) (User, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	u, ok := t.users[username]
	return u, ok
}

// Sessions returns the underlying session store.
func (t *Translator) Sessions() *SessionStore {
	return t.sessions
}
