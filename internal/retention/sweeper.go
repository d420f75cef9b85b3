// Package retention prunes terminal jobs after their retention window so
// the store does not grow without bound.
package retention

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"snapvalue/internal/store"
)

const (
	DefaultWindow   = 24 * time.Hour
	defaultSchedule = "@hourly"
)

type Sweeper struct {
	store    store.JobStore
	window   time.Duration
	schedule string
	cron     *cron.Cron
}

type Option func(*Sweeper)

// WithWindow overrides how long terminal jobs are kept.
func WithWindow(d time.Duration) Option {
	return func(s *Sweeper) {
		s.window = d
	}
}

// WithSchedule overrides the cron schedule for sweep runs.
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		s.schedule = spec
	}
}

func NewSweeper(jobStore store.JobStore, opts ...Option) *Sweeper {
	s := &Sweeper{
		store:    jobStore,
		window:   DefaultWindow,
		schedule: defaultSchedule,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep removes terminal jobs older than the retention window once.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-s.window)
	removed, err := s.store.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("retention sweep removed %d jobs older than %s", removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

// Start schedules recurring sweeps. Stop releases the schedule; a sweep
// already running is allowed to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Println("retention sweep error:", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
