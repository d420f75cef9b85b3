package status

import (
	"context"
	"time"

	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

// BatchView aggregates member job states at read time. Batches carry no
// status of their own.
type BatchView struct {
	BatchID   string             `json:"batch_id"`
	Status    models.BatchStatus `json:"status"`
	Total     int                `json:"total"`
	Completed int                `json:"completed"`
	Failed    int                `json:"failed"`
	Cancelled int                `json:"cancelled"`
	Jobs      []*View            `json:"appraisals"`
	CreatedAt time.Time          `json:"created_at"`
}

type BatchCoordinator struct {
	store   store.JobStore
	service *Service
}

func NewBatchCoordinator(jobStore store.JobStore, service *Service) *BatchCoordinator {
	return &BatchCoordinator{store: jobStore, service: service}
}

// GetBatchStatus derives the aggregate from current member states:
// in_progress while any member is non-terminal, completed when every member
// completed, failed when any member failed, partial when all members ended
// but some were cancelled short of completion.
func (c *BatchCoordinator) GetBatchStatus(ctx context.Context, id string) (*BatchView, error) {
	batch, err := c.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	view := &BatchView{
		BatchID:   batch.ID,
		Total:     len(batch.JobIDs),
		Jobs:      make([]*View, 0, len(batch.JobIDs)),
		CreatedAt: batch.CreatedAt,
	}

	allTerminal := true
	for _, jobID := range batch.JobIDs {
		job, err := c.store.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		view.Jobs = append(view.Jobs, c.service.view(ctx, job))

		switch job.Status {
		case state.StatusCompleted:
			view.Completed++
		case state.StatusFailed:
			view.Failed++
		case state.StatusCancelled:
			view.Cancelled++
		default:
			allTerminal = false
		}
	}

	switch {
	case !allTerminal:
		view.Status = models.BatchInProgress
	case view.Completed == view.Total:
		view.Status = models.BatchCompleted
	case view.Failed > 0:
		view.Status = models.BatchFailed
	default:
		view.Status = models.BatchPartial
	}
	return view, nil
}
