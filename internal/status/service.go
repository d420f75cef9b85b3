// Package status serves the read side: job state, results, step history,
// listings, and batch aggregates. Everything here is a pure projection of
// store snapshots; reads never mutate a job.
package status

import (
	"context"
	"time"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/queue"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

// View is the status payload for one job.
type View struct {
	JobID                      string           `json:"appraisal_id"`
	CorrelationID              string           `json:"correlation_id"`
	Status                     state.JobStatus  `json:"status"`
	Progress                   float64          `json:"progress_percentage"`
	CurrentStep                string           `json:"current_step,omitempty"`
	Steps                      []models.Step    `json:"processing_steps"`
	EstimatedCompletionMinutes int              `json:"estimated_completion_minutes,omitempty"`
	Error                      *models.JobError `json:"error,omitempty"`
	CreatedAt                  time.Time        `json:"created_at"`
	UpdatedAt                  time.Time        `json:"updated_at"`
	CompletedAt                *time.Time       `json:"completed_at,omitempty"`
}

// ResultView is returned only for completed jobs.
type ResultView struct {
	JobID         string                      `json:"appraisal_id"`
	CorrelationID string                      `json:"correlation_id"`
	Category      string                      `json:"category,omitempty"`
	Result        *capability.ValuationResult `json:"result"`
	CompletedAt   *time.Time                  `json:"completed_at"`
}

type Service struct {
	store     store.JobStore
	scheduler *queue.Scheduler
}

func NewService(jobStore store.JobStore, scheduler *queue.Scheduler) *Service {
	return &Service{store: jobStore, scheduler: scheduler}
}

func (s *Service) view(ctx context.Context, job *models.Job) *View {
	v := &View{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Status:        job.Status,
		Progress:      job.Progress,
		Steps:         job.Steps,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
	}
	if !job.Status.IsTerminal() {
		v.CurrentStep = job.CurrentStep()
		v.EstimatedCompletionMinutes = s.scheduler.EstimateCompletionMinutes(ctx)
	}
	return v
}

func (s *Service) GetStatus(ctx context.Context, id string) (*View, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, job), nil
}

// GetResult returns the valuation of a completed job. Jobs still in flight
// and jobs that ended any other way conflict rather than returning a partial
// or absent result.
func (s *Service) GetResult(ctx context.Context, id string) (*ResultView, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != state.StatusCompleted {
		return nil, apperrors.NewConflictError("appraisal %s is %s, result is available once completed", id, job.Status)
	}
	return &ResultView{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Category:      job.Category,
		Result:        job.Result,
		CompletedAt:   job.CompletedAt,
	}, nil
}

// GetHistory returns the full ordered step records, including mid-flight
// partials for a job still processing.
func (s *Service) GetHistory(ctx context.Context, id string) ([]models.Step, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return job.Steps, nil
}

func (s *Service) List(ctx context.Context, filter store.Filter, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	return s.store.List(ctx, filter, page, pageSize)
}

// QueueStats exposes the scheduler's queue-state projection.
func (s *Service) QueueStats(ctx context.Context) (*queue.Stats, error) {
	return s.scheduler.Stats(ctx)
}
