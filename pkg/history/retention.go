package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/robfig/cron/v3"
)

// Pruner deletes records older than the retention period on a cron
// schedule.
type Pruner struct {
	store    Store
	days     int
	schedule string
	clock    clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	running bool
}

// NewPruner validates schedule and builds a pruner. days <= 0 keeps records
// forever; Prune is then a no-op.
func NewPruner(store Store, days int, schedule string, clk clock.Clock) (*Pruner, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Pruner{
		store:    store,
		days:     days,
		schedule: schedule,
		clock:    clk,
		logger:   slog.Default().With("component", "history.pruner"),
	}, nil
}

// Cutoff returns the finish time before which records are deleted.
func (p *Pruner) Cutoff() time.Time {
	return p.clock.Now().Add(-time.Duration(p.days) * 24 * time.Hour)
}

// Prune deletes expired records once.
func (p *Pruner) Prune(ctx context.Context) (int64, error) {
	if p.days <= 0 {
		return 0, nil
	}
	cutoff := p.Cutoff()
	n, err := p.store.Delete(ctx, &Query{EndedBefore: &cutoff})
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	if n > 0 {
		p.logger.Info("pruned relay history", "deleted", n, "cutoff", cutoff)
	}
	return n, nil
}

// Start schedules pruning until ctx is cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pruner already running")
	}

	c := cron.New()
	id, err := c.AddFunc(p.schedule, func() {
		pruneCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		if _, err := p.Prune(pruneCtx); err != nil {
			p.logger.Error("scheduled prune failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule prune: %w", err)
	}

	p.cron = c
	p.entryID = id
	p.running = true
	c.Start()

	p.logger.Info("history pruner started", "schedule", p.schedule, "retention_days", p.days)

	go func() {
		<-ctx.Done()
		p.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	c := p.cron
	p.running = false
	p.cron = nil
	p.mu.Unlock()

	<-c.Stop().Done()
	p.logger.Info("history pruner stopped")
}

// IsRunning reports whether the schedule is active.
func (p *Pruner) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextRun returns the next scheduled prune, or the zero time when stopped.
func (p *Pruner) NextRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return time.Time{}
	}
	return p.cron.Entry(p.entryID).Next
}
