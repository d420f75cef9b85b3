// Package polling waits for a job to reach a terminal status by checking at
// a fixed interval. Meant for clients and tests that need a synchronous
// answer from the asynchronous pipeline.
package polling

import (
	"context"
	"errors"
	"time"

	"snapvalue/internal/models"
	"snapvalue/internal/store"
)

// ErrPollTimeout is returned when the job did not reach a terminal status
// within the attempt budget.
var ErrPollTimeout = errors.New("polling: job did not finish within the attempt budget")

const (
	defaultInterval    = 2 * time.Second
	defaultMaxAttempts = 60
)

type Poller struct {
	store       store.JobStore
	interval    time.Duration
	maxAttempts int
}

type Option func(*Poller)

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		p.interval = d
	}
}

func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		p.maxAttempts = n
	}
}

func NewPoller(jobStore store.JobStore, opts ...Option) *Poller {
	p := &Poller{
		store:       jobStore,
		interval:    defaultInterval,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WaitForTerminal polls until the job reaches a terminal status, the attempt
// budget runs out, or the context ends. It returns the job's final snapshot;
// a failed or cancelled outcome is a normal return, not an error.
func (p *Poller) WaitForTerminal(ctx context.Context, id string) (*models.Job, error) {
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		job, err := p.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}

		select {
		case <-time.After(p.interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, ErrPollTimeout
}
