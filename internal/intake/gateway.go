// Package intake is the submission boundary. It validates requests, mints
// job records, and hands them to the scheduler; nothing past intake sees an
// invalid job.
package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/queue"
	"snapvalue/internal/ratelimit"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

const maxBatchSize = 50

// SubmissionRequest is one appraisal ask. Exactly one of ImageRef or
// ImageURL must be set.
type SubmissionRequest struct {
	ImageRef      string         `json:"image_ref,omitempty"`
	ImageURL      string         `json:"image_url,omitempty"`
	Priority      string         `json:"priority,omitempty"`
	Category      string         `json:"category,omitempty"`
	Options       map[string]any `json:"options,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// SubmissionReceipt is returned synchronously on accept. TaskID is the
// handle for the background pipeline run started by this submission; the
// status reflects admission, not the enqueue that follows it.
type SubmissionReceipt struct {
	JobID                      string          `json:"appraisal_id"`
	TaskID                     string          `json:"task_id"`
	CorrelationID              string          `json:"correlation_id"`
	Status                     state.JobStatus `json:"status"`
	EstimatedCompletionMinutes int             `json:"estimated_completion_minutes"`
	CreatedAt                  time.Time       `json:"created_at"`
}

// BatchReceipt acknowledges an accepted batch.
type BatchReceipt struct {
	BatchID                    string              `json:"batch_id"`
	Receipts                   []SubmissionReceipt `json:"appraisals"`
	EstimatedCompletionMinutes int                 `json:"estimated_completion_minutes"`
	CreatedAt                  time.Time           `json:"created_at"`
}

type Gateway struct {
	store     store.JobStore
	scheduler *queue.Scheduler
	limiter   ratelimit.Limiter
}

func NewGateway(jobStore store.JobStore, scheduler *queue.Scheduler, limiter ratelimit.Limiter) *Gateway {
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	return &Gateway{
		store:     jobStore,
		scheduler: scheduler,
		limiter:   limiter,
	}
}

// validate normalizes a request in place and returns the first violation.
func validate(req *SubmissionRequest) error {
	if req.ImageRef == "" && req.ImageURL == "" {
		return apperrors.NewValidationError("image", "either image_ref or image_url is required")
	}
	if req.ImageRef != "" && req.ImageURL != "" {
		return apperrors.NewValidationError("image", "image_ref and image_url are mutually exclusive")
	}
	if req.Priority == "" {
		req.Priority = string(models.PriorityNormal)
	}
	if !models.Priority(req.Priority).Valid() {
		return apperrors.NewValidationError("priority", fmt.Sprintf("unknown priority %q", req.Priority))
	}
	return nil
}

func (g *Gateway) buildJob(req *SubmissionRequest, now time.Time) *models.Job {
	correlationID := req.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return &models.Job{
		ID:            uuid.NewString(),
		CorrelationID: correlationID,
		Status:        state.StatusSubmitted,
		Priority:      models.Priority(req.Priority),
		Category:      req.Category,
		Options:       req.Options,
		Image: capability.ImageSource{
			Ref: req.ImageRef,
			URL: req.ImageURL,
		},
		Steps:     models.NewSteps(),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Submit validates one request, persists the job, and enqueues it. The
// rate-limit standing for the client only stretches the estimate; a valid
// request is never turned away.
func (g *Gateway) Submit(ctx context.Context, clientID string, tier ratelimit.Tier, req *SubmissionRequest) (*SubmissionReceipt, *ratelimit.Result, error) {
	if err := validate(req); err != nil {
		return nil, nil, err
	}

	standing, err := g.limiter.Take(ctx, clientID, tier)
	if err != nil {
		return nil, nil, apperrors.NewExternalServiceError("ratelimit", err)
	}

	now := time.Now().UTC()
	job := g.buildJob(req, now)

	if err := g.store.Create(ctx, job); err != nil {
		return nil, standing, err
	}
	if err := g.scheduler.Enqueue(ctx, job); err != nil {
		return nil, standing, err
	}

	estimate := g.scheduler.EstimateCompletionMinutes(ctx)
	if standing.Delay > 0 {
		estimate += int(standing.Delay.Minutes()) + 1
	}

	return &SubmissionReceipt{
		JobID:                      job.ID,
		TaskID:                     uuid.NewString(),
		CorrelationID:              job.CorrelationID,
		Status:                     state.StatusSubmitted,
		EstimatedCompletionMinutes: estimate,
		CreatedAt:                  now,
	}, standing, nil
}

// SubmitBatch accepts up to maxBatchSize requests atomically: every request
// is validated before any job is created, so a bad item rejects the whole
// batch and leaves no partial state.
func (g *Gateway) SubmitBatch(ctx context.Context, clientID string, tier ratelimit.Tier, reqs []*SubmissionRequest) (*BatchReceipt, *ratelimit.Result, error) {
	if len(reqs) == 0 {
		return nil, nil, apperrors.NewValidationError("appraisals", "batch must contain at least one request")
	}
	if len(reqs) > maxBatchSize {
		return nil, nil, apperrors.NewValidationError("appraisals", fmt.Sprintf("batch size %d exceeds maximum of %d", len(reqs), maxBatchSize))
	}

	for i, req := range reqs {
		if err := validate(req); err != nil {
			return nil, nil, apperrors.NewValidationError(
				fmt.Sprintf("appraisals[%d]", i),
				err.Error(),
			)
		}
	}

	standing, err := g.limiter.Take(ctx, clientID, tier)
	if err != nil {
		return nil, nil, apperrors.NewExternalServiceError("ratelimit", err)
	}

	now := time.Now().UTC()
	batchID := uuid.NewString()

	jobs := make([]*models.Job, 0, len(reqs))
	for _, req := range reqs {
		jobs = append(jobs, g.buildJob(req, now))
	}

	jobIDs := make([]string, 0, len(jobs))
	for _, job := range jobs {
		if err := g.store.Create(ctx, job); err != nil {
			return nil, standing, err
		}
		jobIDs = append(jobIDs, job.ID)
	}

	if err := g.store.CreateBatch(ctx, &models.Batch{
		ID:        batchID,
		JobIDs:    jobIDs,
		CreatedAt: now,
	}); err != nil {
		return nil, standing, err
	}

	receipts := make([]SubmissionReceipt, 0, len(jobs))
	for _, job := range jobs {
		if err := g.scheduler.Enqueue(ctx, job); err != nil {
			return nil, standing, err
		}
		receipts = append(receipts, SubmissionReceipt{
			JobID:         job.ID,
			TaskID:        uuid.NewString(),
			CorrelationID: job.CorrelationID,
			Status:        state.StatusSubmitted,
			CreatedAt:     now,
		})
	}

	estimate := g.scheduler.EstimateCompletionMinutes(ctx)
	if standing.Delay > 0 {
		estimate += int(standing.Delay.Minutes()) + 1
	}
	for i := range receipts {
		receipts[i].EstimatedCompletionMinutes = estimate
	}

	return &BatchReceipt{
		BatchID:                    batchID,
		Receipts:                   receipts,
		EstimatedCompletionMinutes: estimate,
		CreatedAt:                  now,
	}, standing, nil
}

// Cancel requests cancellation of a job. Queued jobs never start; processing
// jobs halt between steps. Terminal jobs conflict.
func (g *Gateway) Cancel(ctx context.Context, id string) (*models.Job, error) {
	return g.store.Cancel(ctx, id)
}
