// Package scheduler runs periodic maintenance jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPurgeSchedule runs the inbound purge daily at 03:00.
const DefaultPurgeSchedule = "0 3 * * *"

// DefaultInboundRetention is how long inbound message ids are remembered.
const DefaultInboundRetention = 7 * 24 * time.Hour

// Purger deletes records older than a cutoff.
type Purger interface {
	PurgeInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
}

// NewScheduler creates a scheduler with a 5-field parser. Panicking jobs are recovered.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Scheduler{cron: c, now: time.Now}
}

// AddJob schedules task under name. It returns an error for an invalid expression.
func (s *Scheduler) AddJob(name, expr string, task func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(expr, func() {
		start := s.now()
		if err := task(context.Background()); err != nil {
			slog.Error("Scheduler.job: failed", "job", name, "error", err)
			return
		}
		slog.Debug("Scheduler.job: done", "job", name, "elapsed", s.now().Sub(start))
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}
	return nil
}

// AddInboundPurge removes inbound records older than retention on expr.
func (s *Scheduler) AddInboundPurge(expr string, p Purger, retention time.Duration) error {
	if retention <= 0 {
		retention = DefaultInboundRetention
	}
	return s.AddJob("inbound-purge", expr, PurgeJob(p, retention, s.now))
}

// PurgeJob builds the task that purges records received before now minus retention.
func PurgeJob(p Purger, retention time.Duration, now func() time.Time) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		n, err := p.PurgeInbound(ctx, now().Add(-retention))
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("Scheduler.purge: removed inbound records", "count", n)
		}
		return nil
	}
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Len reports how many jobs are scheduled.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}
