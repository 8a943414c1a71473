package routing

import (
	"log/slog"

	"github.com/rafaalpizar/xtream-proxy/pkg/upstream"
)

// Accounts is the part of the upstream pool the selector reads.
type Accounts interface {
	Account(name string) (*upstream.Account, bool)
	State(name string) upstream.State
}

// Selector orders the accounts that may serve a stream for a user mapped to
// a primary account: the primary first, then its mirrors in configured
// order. Healthy accounts come before degraded ones; down, disabled and
// unknown accounts are dropped. Order within a tier is preserved.
type Selector struct {
	accounts Accounts
	stats    *Stats
	logger   *slog.Logger
}

// NewSelector creates a selector over accounts.
func NewSelector(accounts Accounts) *Selector {
	return &Selector{
		accounts: accounts,
		stats:    NewStats(),
		logger:   slog.Default().With("component", "routing"),
	}
}

// Stats returns the selector's counters.
func (s *Selector) Stats() *Stats {
	return s.stats
}

// Candidates returns the ordered accounts for primary. It fails with a
// NoCandidatesError when none are usable.
func (s *Selector) Candidates(primary string) ([]*upstream.Account, error) {
	s.stats.selections.Add(1)

	names := []string{primary}
	if acct, ok := s.accounts.Account(primary); ok {
		names = append(names, acct.Mirrors...)
	}

	var healthy, degraded []*upstream.Account
	var considered []string
	seen := make(map[string]bool, len(names))

	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		acct, ok := s.accounts.Account(name)
		if !ok {
			considered = append(considered, name+"=unknown")
			continue
		}
		if acct.Disabled {
			considered = append(considered, name+"=disabled")
			continue
		}
		switch state := s.accounts.State(name); state {
		case upstream.StateHealthy:
			healthy = append(healthy, acct)
		case upstream.StateDegraded:
			degraded = append(degraded, acct)
		default:
			considered = append(considered, name+"="+state.String())
		}
	}

	out := append(healthy, degraded...)
	if len(out) == 0 {
		s.stats.exhausted.Add(1)
		s.logger.Warn("no usable upstream account", "primary", primary, "considered", considered)
		return nil, &NoCandidatesError{Primary: primary, Considered: considered}
	}
	if out[0].Name != primary {
		s.stats.rerouted.Add(1)
		s.logger.Debug("primary account skipped", "primary", primary, "first_candidate", out[0].Name)
	}
	return out, nil
}

// RecordFailover counts a stream that moved from one candidate to the next.
func (s *Selector) RecordFailover(from, to string) {
	s.stats.failovers.Add(1)
	s.stats.incrementAccount(to)
	s.logger.Info("stream failover", "from", from, "to", to)
}

// RecordServed counts a stream served by account.
func (s *Selector) RecordServed(account string) {
	s.stats.incrementAccount(account)
}
