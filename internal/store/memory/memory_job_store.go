// Package memory holds the in-process job arena: a single owned table of job
// records keyed by id, guarded by one lock. Reads hand out deep copies so a
// poller can never observe a torn update, and every transition is validated
// against the state machine under the same lock that mutates the record.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	order   []string // creation order, for stable listings
	batches map[string]*models.Batch
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs:    make(map[string]*models.Job),
		batches: make(map[string]*models.Batch),
	}
}

func (s *JobStore) Create(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return apperrors.NewConflictError("appraisal %s already exists", job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	s.order = append(s.order, job.ID)
	return nil
}

func (s *JobStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("appraisal", id)
	}
	return job.Clone(), nil
}

// transition moves a job to the target status under the write lock.
// The swap is guarded by the lifecycle table, so a job whose current
// status has no edge to the target is left untouched. The mutate
// callback runs only when the swap succeeds.
func (s *JobStore) transition(id string, to state.JobStatus, mutate func(*models.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("appraisal", id)
	}
	if !state.IsValidTransition(job.Status, to) {
		return false, nil
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	if mutate != nil {
		mutate(job)
	}
	return true, nil
}

func (s *JobStore) Enqueue(_ context.Context, id string) error {
	ok, err := s.transition(id, state.StatusQueued, func(j *models.Job) {
		now := time.Now().UTC()
		j.EnqueuedAt = &now
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConflictError("appraisal %s is not in submitted state", id)
	}
	return nil
}

func (s *JobStore) Claim(_ context.Context, id string) (bool, error) {
	return s.transition(id, state.StatusProcessing, func(j *models.Job) {
		now := time.Now().UTC()
		j.StartedAt = &now
	})
}

func (s *JobStore) UpdateSteps(_ context.Context, id string, steps []models.Step, progress float64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, apperrors.NewNotFoundError("appraisal", id)
	}
	if job.Status != state.StatusProcessing {
		return false, nil
	}

	copied := make([]models.Step, len(steps))
	copy(copied, steps)
	job.Steps = copied
	if progress > job.Progress {
		job.Progress = progress
	}
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *JobStore) Complete(_ context.Context, id string, result *capability.ValuationResult) error {
	ok, err := s.transition(id, state.StatusCompleted, func(j *models.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		j.Progress = 100
		res := *result
		j.Result = &res
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConflictError("appraisal %s is not processing", id)
	}
	return nil
}

func (s *JobStore) Fail(_ context.Context, id string, jobErr *models.JobError) error {
	ok, err := s.transition(id, state.StatusFailed, func(j *models.Job) {
		now := time.Now().UTC()
		j.CompletedAt = &now
		e := *jobErr
		j.Error = &e
	})
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewConflictError("appraisal %s is not processing", id)
	}
	return nil
}

func (s *JobStore) Cancel(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("appraisal", id)
	}
	if !state.IsValidTransition(job.Status, state.StatusCancelled) {
		return nil, apperrors.NewConflictError("appraisal %s already terminal (%s)", id, job.Status)
	}

	now := time.Now().UTC()
	job.Status = state.StatusCancelled
	job.CompletedAt = &now
	job.UpdatedAt = now
	return job.Clone(), nil
}

func (s *JobStore) List(_ context.Context, filter store.Filter, page, pageSize int) (*models.PaginationResult[models.Job], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	s.mu.RLock()
	matched := make([]*models.Job, 0, len(s.order))
	for _, id := range s.order {
		job := s.jobs[id]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if filter.Category != "" && job.Category != filter.Category {
			continue
		}
		if !filter.Since.IsZero() && job.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, job)
	}
	s.mu.RUnlock()

	// Newest first, like the original listing.
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	totalPages := (total + pageSize - 1) / pageSize
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	items := make([]models.Job, 0, end-start)
	s.mu.RLock()
	for _, job := range matched[start:end] {
		items = append(items, *job.Clone())
	}
	s.mu.RUnlock()

	return &models.PaginationResult[models.Job]{
		Items:           items,
		TotalItems:      total,
		Page:            page,
		PageSize:        pageSize,
		TotalPages:      totalPages,
		HasNextPage:     page < totalPages,
		HasPreviousPage: page > 1,
	}, nil
}

func (s *JobStore) CountByStatus(_ context.Context) (map[state.JobStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[state.JobStatus]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

func (s *JobStore) CreateBatch(_ context.Context, batch *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.batches[batch.ID]; exists {
		return apperrors.NewConflictError("batch %s already exists", batch.ID)
	}
	s.batches[batch.ID] = batch.Clone()
	return nil
}

func (s *JobStore) GetBatch(_ context.Context, id string) (*models.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch, ok := s.batches[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("batch", id)
	}
	return batch.Clone(), nil
}

func (s *JobStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		job := s.jobs[id]
		if job.Status.IsTerminal() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed, nil
}

func (s *JobStore) Close() error {
	return nil
}
