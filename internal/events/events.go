package events

import (
	"time"

	"snapvalue/internal/state"
)

// Event describes a job lifecycle change. Published whenever a job
// reaches a new status so downstream consumers (notifications, audit)
// can react without polling.
type Event struct {
	JobID         string          `json:"job_id"`
	CorrelationID string          `json:"correlation_id"`
	Status        state.JobStatus `json:"status"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

type Publisher interface {
	PublishJobEvent(evt Event) error
	Close() error
}

// Noop discards every event. Used when no broker is configured.
type Noop struct{}

func (Noop) PublishJobEvent(Event) error { return nil }
func (Noop) Close() error                { return nil }
