package credentials

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Session binds a client-facing token to exactly one upstream account.
type Session struct {
	Token     string
	Username  string
	Account   string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// SessionStore holds proxy sessions in a bounded LRU keyed by token, with a
// secondary index by proxy username.
type SessionStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	clock  clock.Clock
	cache  *lru.Cache[string, *Session]
	byUser map[string]string
}

// NewSessionStore creates a store holding at most maxEntries sessions that
// expire ttl after their last use.
func NewSessionStore(maxEntries int, ttl time.Duration, clk clock.Clock) (*SessionStore, error) {
	if clk == nil {
		clk = clock.New()
	}
	s := &SessionStore{
		ttl:    ttl,
		clock:  clk,
		byUser: make(map[string]string),
	}
	// onEvict runs inside cache calls, which are only made under s.mu.
	cache, err := lru.NewWithEvict[string, *Session](maxEntries, func(token string, sess *Session) {
		if s.byUser[sess.Username] == token {
			delete(s.byUser, sess.Username)
		}
	})
	if err != nil {
		return nil, err
	}
	s.cache = cache
	return s, nil
}

// Acquire returns the live session of username bound to account, creating
// one if none exists. A session bound to a different account is destroyed
// first; created reports whether a new session was made.
func (s *SessionStore) Acquire(username, account string) (sess Session, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if token, ok := s.byUser[username]; ok {
		if cur, ok := s.cache.Get(token); ok {
			if cur.Account == account && now.Before(cur.ExpiresAt) {
				cur.ExpiresAt = now.Add(s.ttl)
				return *cur, false
			}
			s.cache.Remove(token)
		}
	}

	fresh := &Session{
		Token:     uuid.NewString(),
		Username:  username,
		Account:   account,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.cache.Add(fresh.Token, fresh)
	s.byUser[username] = fresh.Token
	return *fresh, true
}

// Lookup returns the session for token and refreshes its expiry.
func (s *SessionStore) Lookup(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.cache.Get(token)
	if !ok {
		return Session{}, false
	}
	now := s.clock.Now()
	if !now.Before(cur.ExpiresAt) {
		s.cache.Remove(token)
		return Session{}, false
	}
	cur.ExpiresAt = now.Add(s.ttl)
	return *cur, true
}

// Invalidate destroys the session of username, if any.
func (s *SessionStore) Invalidate(username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.byUser[username]
	if !ok {
		return false
	}
	return s.cache.Remove(token)
}

// Len returns the number of stored sessions, including expired ones not yet
// evicted.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Len()
}

// PurgeExpired removes every expired session and returns how many were
// removed.
func (s *SessionStore) PurgeExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	removed := 0
	for _, token := range s.cache.Keys() {
		sess, ok := s.cache.Peek(token)
		if ok && !now.Before(sess.ExpiresAt) {
			s.cache.Remove(token)
			removed++
		}
	}
	return removed
}
