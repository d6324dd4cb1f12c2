// Package scheduler fires batch runs at configured wall-clock times in
// the region's timezone, with one immediate run at startup.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// BatchRunner runs one complete fetch-match-persist cycle.
type BatchRunner interface {
	Run(ctx context.Context) error
}

// Scheduler owns the cron loop. Triggers that land while a run is still
// in flight are skipped, not queued; the next check time picks up.
type Scheduler struct {
	runner BatchRunner
	cron   *cron.Cron
	logger *slog.Logger
	times  []string

	ctx     context.Context
	running atomic.Bool
}

// New builds a scheduler firing at the given HH:MM times, interpreted
// in the named timezone.
func New(runner BatchRunner, checkTimes []string, timezone string, logger *slog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", timezone, err)
	}

	s := &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithLocation(loc)),
		logger: logger,
		times:  checkTimes,
	}
	for _, ct := range checkTimes {
		at, err := time.Parse("15:04", ct)
		if err != nil {
			return nil, fmt.Errorf("check time %q is not HH:MM: %w", ct, err)
		}
		spec := fmt.Sprintf("%d %d * * *", at.Minute(), at.Hour())
		if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
			return nil, fmt.Errorf("schedule check time %q: %w", ct, err)
		}
	}
	return s, nil
}

// Start runs one batch immediately, then starts the cron loop. The
// context bounds every run the scheduler triggers.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.logger.Info("scheduler starting", "check_times", s.times)

	s.trigger()
	if ctx.Err() != nil {
		return
	}
	s.cron.Start()
}

// Stop halts the cron loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) trigger() {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping trigger")
		return
	}
	defer s.running.Store(false)

	if err := s.runner.Run(s.ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}
