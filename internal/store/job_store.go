// Package store defines the authoritative job/batch record store. All state
// transitions go through its compare-and-swap style operations; no component
// holds a mutable job handle across calls.
package store

import (
	"context"
	"time"

	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
)

// Filter narrows List results. Zero values mean "no constraint".
type Filter struct {
	Status   state.JobStatus
	Category string
	Since    time.Time
}

type JobStore interface {
	// Create inserts a new job record in status submitted.
	Create(ctx context.Context, job *models.Job) error

	// Get returns a consistent snapshot of the job.
	Get(ctx context.Context, id string) (*models.Job, error)

	// Enqueue transitions submitted -> queued and stamps EnqueuedAt.
	Enqueue(ctx context.Context, id string) error

	// Claim transitions queued -> processing. It reports false without error
	// when the job is no longer queued, so racing claimers and jobs cancelled
	// while queued are skipped rather than failed.
	Claim(ctx context.Context, id string) (bool, error)

	// UpdateSteps replaces the step array and progress of a processing job.
	// It reports false when the job has left processing, which is how a
	// running worker observes an out-of-band cancel.
	UpdateSteps(ctx context.Context, id string, steps []models.Step, progress float64) (bool, error)

	// Complete transitions processing -> completed and records the result.
	Complete(ctx context.Context, id string, result *capability.ValuationResult) error

	// Fail transitions processing -> failed and records the typed reason.
	Fail(ctx context.Context, id string, jobErr *models.JobError) error

	// Cancel transitions any non-terminal status to cancelled. Cancelling a
	// terminal job returns a ConflictError and changes nothing.
	Cancel(ctx context.Context, id string) (*models.Job, error)

	List(ctx context.Context, filter Filter, page, pageSize int) (*models.PaginationResult[models.Job], error)
	CountByStatus(ctx context.Context) (map[state.JobStatus]int, error)

	CreateBatch(ctx context.Context, batch *models.Batch) error
	GetBatch(ctx context.Context, id string) (*models.Batch, error)

	// DeleteTerminalBefore removes terminal jobs whose completion predates
	// the cutoff. Used by the retention sweeper only.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}
