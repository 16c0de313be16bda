// Package cron runs the retention jobs that purge old import artifacts using
// robfig/cron.
package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Purger deletes everything created before cutoff and reports the count.
type Purger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context, cutoff time.Time) (int, error)

func (f PurgerFunc) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return f(ctx, cutoff)
}

// Target is one retention rule.
type Target struct {
	Name   string
	MaxAge time.Duration
	Purger Purger
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	targets  []Target
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler creates a retention scheduler firing on a standard 5-field
// cron schedule.
func NewScheduler(schedule string, logger *slog.Logger, targets ...Target) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		targets:  targets,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunNow(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.String("schedule", s.schedule),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

// RunNow applies every retention rule once and returns the removed count per
// target. A failing target does not stop the others.
func (s *Scheduler) RunNow(ctx context.Context) map[string]int {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	now := s.now()
	removed := make(map[string]int, len(s.targets))
	for _, t := range s.targets {
		if t.MaxAge <= 0 || t.Purger == nil {
			continue
		}
		n, err := t.Purger.PurgeOlderThan(ctx, now.Add(-t.MaxAge))
		if err != nil {
			s.logger.Warn("retention purge failed",
				slog.String("target", t.Name),
				slog.Any("error", err),
			)
			continue
		}
		removed[t.Name] = n
		s.logger.Info("retention purge completed",
			slog.String("target", t.Name),
			slog.Int("removed", n),
		)
	}
	return removed
}
