package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

func newJob() *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Status:        state.StatusSubmitted,
		Priority:      models.PriorityNormal,
		Image:         capability.ImageSource{URL: "https://example.com/item.jpg"},
		Steps:         models.NewSteps(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, state.StatusSubmitted, got.Status)
	assert.Len(t, got.Steps, 4)

	err = s.Create(ctx, job)
	assert.True(t, apperrors.IsConflict(err))
}

func TestGet_NotFound(t *testing.T) {
	s := NewJobStore()
	_, err := s.Get(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGet_ReturnsSnapshot(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))

	first, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	first.Steps[0].Status = state.StepFailed
	first.Status = state.StatusFailed

	second, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusSubmitted, second.Status)
	assert.Equal(t, state.StepPending, second.Steps[0].Status)
}

func TestReadsAreIdempotent(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))

	first, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, first.UpdatedAt, again.UpdatedAt)
		assert.Equal(t, first.Status, again.Status)
	}
}

func TestEnqueueAndClaim(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, got.Status)
	assert.NotNil(t, got.EnqueuedAt)

	won, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, won)

	// A second claim loses without erroring.
	won, err = s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won)
}

func TestClaim_AtMostOnceUnderContention(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.Claim(ctx, job.ID)
			assert.NoError(t, err)
			if won {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestCompleteRecordsResult(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))
	_, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)

	result := &capability.ValuationResult{EstimatedValue: 450, Currency: "USD"}
	require.NoError(t, s.Complete(ctx, job.ID, result))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, got.Status)
	assert.Equal(t, float64(100), got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, float64(450), got.Result.EstimatedValue)
	assert.NotNil(t, got.CompletedAt)
}

func TestFailRecordsTypedError(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))
	_, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)

	jobErr := &models.JobError{Code: "PROCESSING_ERROR", Message: "unsupported format", Step: models.StepImageValidation}
	require.NoError(t, s.Fail(ctx, job.ID, jobErr))

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "PROCESSING_ERROR", got.Error.Code)
}

func TestCancelSemantics(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))

	cancelled, err := s.Cancel(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, cancelled.Status)

	// Second cancel conflicts and changes nothing.
	_, err = s.Cancel(ctx, job.ID)
	assert.True(t, apperrors.IsConflict(err))

	// A cancelled job can no longer be claimed or completed.
	won, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, won)
	err = s.Complete(ctx, job.ID, &capability.ValuationResult{})
	assert.True(t, apperrors.IsConflict(err))
}

func TestUpdateSteps_RejectedAfterCancel(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))
	_, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)

	steps := models.NewSteps()
	steps[0].Status = state.StepRunning
	ok, err := s.UpdateSteps(ctx, job.ID, steps, 12.5)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Cancel(ctx, job.ID)
	require.NoError(t, err)

	steps[0].Status = state.StepCompleted
	ok, err = s.UpdateSteps(ctx, job.ID, steps, 25)
	require.NoError(t, err)
	assert.False(t, ok, "step updates must not commit after cancel")

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, got.Status)
	assert.Equal(t, state.StepRunning, got.Steps[0].Status)
}

func TestUpdateSteps_ProgressNeverRegresses(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	job := newJob()
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))
	_, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)

	steps := models.NewSteps()
	_, err = s.UpdateSteps(ctx, job.ID, steps, 50)
	require.NoError(t, err)
	_, err = s.UpdateSteps(ctx, job.ID, steps, 25)
	require.NoError(t, err)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(50), got.Progress)
}

func TestListFiltersAndPaginates(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		job := newJob()
		job.Category = "electronics"
		require.NoError(t, s.Create(ctx, job))
	}
	other := newJob()
	other.Category = "art"
	require.NoError(t, s.Create(ctx, other))

	page, err := s.List(ctx, store.Filter{Category: "electronics"}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, page.TotalItems)
	assert.Equal(t, 3, page.TotalPages)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNextPage)
	assert.False(t, page.HasPreviousPage)

	byStatus, err := s.List(ctx, store.Filter{Status: state.StatusSubmitted}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 6, byStatus.TotalItems)
}

func TestCountByStatus(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	queued := newJob()
	require.NoError(t, s.Create(ctx, queued))
	require.NoError(t, s.Enqueue(ctx, queued.ID))

	submitted := newJob()
	require.NoError(t, s.Create(ctx, submitted))

	counts, err := s.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[state.StatusQueued])
	assert.Equal(t, 1, counts[state.StatusSubmitted])
}

func TestBatchRecords(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	batch := &models.Batch{ID: uuid.NewString(), JobIDs: []string{"a", "b"}, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateBatch(ctx, batch))

	got, err := s.GetBatch(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, batch.JobIDs, got.JobIDs)

	_, err = s.GetBatch(ctx, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestDeleteTerminalBefore(t *testing.T) {
	s := NewJobStore()
	ctx := context.Background()

	old := newJob()
	require.NoError(t, s.Create(ctx, old))
	require.NoError(t, s.Enqueue(ctx, old.ID))
	_, err := s.Claim(ctx, old.ID)
	require.NoError(t, err)
	require.NoError(t, s.Complete(ctx, old.ID, &capability.ValuationResult{}))

	active := newJob()
	require.NoError(t, s.Create(ctx, active))

	removed, err := s.DeleteTerminalBefore(ctx, time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(ctx, old.ID)
	assert.True(t, apperrors.IsNotFound(err))
	_, err = s.Get(ctx, active.ID)
	assert.NoError(t, err)
}
