package routing

import (
	"sync"
	"sync/atomic"
)

// Stats holds lock-free routing counters.
type Stats struct {
	selections atomic.Int64
	rerouted   atomic.Int64
	failovers  atomic.Int64
	exhausted  atomic.Int64

	// perAccount maps account name to *atomic.Int64.
	perAccount sync.Map
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Selections int64            `json:"selections"`
	Rerouted   int64            `json:"rerouted"`
	Failovers  int64            `json:"failovers"`
	Exhausted  int64            `json:"exhausted"`
	PerAccount map[string]int64 `json:"per_account"`
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{}
}

func (s *Stats) incrementAccount(name string) {
	val, _ := s.perAccount.LoadOrStore(name, &atomic.Int64{})
	val.(*atomic.Int64).Add(1)
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		Selections: s.selections.Load(),
		Rerouted:   s.rerouted.Load(),
		Failovers:  s.failovers.Load(),
		Exhausted:  s.exhausted.Load(),
		PerAccount: make(map[string]int64),
	}
	s.perAccount.Range(func(key, value any) bool {
		snap.PerAccount[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return snap
}
