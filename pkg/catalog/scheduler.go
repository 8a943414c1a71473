package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleOff disables the scheduled refresh.
const ScheduleOff = "off"

// AccountLister lists the account names to refresh.
type AccountLister interface {
	AccountNames() []string
}

// AccountListerFunc adapts a function to AccountLister.
type AccountListerFunc func() []string

// AccountNames calls f.
func (f AccountListerFunc) AccountNames() []string { return f() }

// Scheduler refreshes the daily catalog kinds of every account on a cron
// schedule, independent of TTL expiry.
type Scheduler struct {
	cache    *Cache
	accounts AccountLister
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	logger   *slog.Logger
}

// NewScheduler creates a scheduler for schedule, a standard 5-field cron
// expression or ScheduleOff.
func NewScheduler(cache *Cache, accounts AccountLister, schedule string) *Scheduler {
	return &Scheduler{
		cache:    cache,
		accounts: accounts,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "catalog.scheduler"),
	}
}

// Start registers the refresh job and starts the cron runner. It stops when
// ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" || s.schedule == ScheduleOff {
		s.logger.Info("catalog refresh schedule disabled")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RefreshAll(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule catalog refresh: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("catalog refresh scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RefreshAll refreshes every daily kind of every account and prunes
// parameterised entries past the staleness ceiling. Failures keep the old
// entries and are logged.
func (s *Scheduler) RefreshAll(ctx context.Context) (refreshed, failed int) {
	start := time.Now()
	names := s.accounts.AccountNames()
	keep := make(map[string]bool, len(names))

	for _, account := range names {
		keep[account] = true
		for _, kind := range DailyKinds {
			if ctx.Err() != nil {
				return refreshed, failed
			}
			if err := s.cache.Refresh(ctx, NewKey(account, kind, nil)); err != nil {
				failed++
				continue
			}
			refreshed++
		}
	}

	pruned := s.cache.Prune(keep)
	s.logger.Info("scheduled catalog refresh completed",
		"accounts", len(names),
		"refreshed", refreshed,
		"failed", failed,
		"pruned", pruned,
		"duration", time.Since(start),
	)
	return refreshed, failed
}

// Stop stops the cron runner and waits for a running refresh to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("catalog refresh scheduler stopped")
	}
}

// NextRun returns the next scheduled refresh, or nil when not running.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
