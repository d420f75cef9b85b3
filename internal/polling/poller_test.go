package polling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store/memory"
)

func seedProcessingJob(t *testing.T, s *memory.JobStore) *models.Job {
	t.Helper()
	ctx := context.Background()
	job := &models.Job{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Status:        state.StatusSubmitted,
		Priority:      models.PriorityNormal,
		Image:         capability.ImageSource{Ref: "images/item.jpg"},
		Steps:         models.NewSteps(),
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))
	won, err := s.Claim(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, won)
	return job
}

func TestWaitForTerminalReturnsCompletedJob(t *testing.T) {
	s := memory.NewJobStore()
	job := seedProcessingJob(t, s)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = s.Complete(context.Background(), job.ID, &capability.ValuationResult{EstimatedValue: 99})
	}()

	p := NewPoller(s, WithInterval(5*time.Millisecond), WithMaxAttempts(100))
	got, err := p.WaitForTerminal(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, got.Status)
	assert.Equal(t, float64(99), got.Result.EstimatedValue)
}

func TestWaitForTerminalFailedJobIsNormalReturn(t *testing.T) {
	s := memory.NewJobStore()
	job := seedProcessingJob(t, s)
	require.NoError(t, s.Fail(context.Background(), job.ID, &models.JobError{Code: "PROCESSING_ERROR", Message: "boom"}))

	p := NewPoller(s, WithInterval(time.Millisecond), WithMaxAttempts(3))
	got, err := p.WaitForTerminal(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusFailed, got.Status)
}

func TestWaitForTerminalTimesOut(t *testing.T) {
	s := memory.NewJobStore()
	job := seedProcessingJob(t, s)

	p := NewPoller(s, WithInterval(time.Millisecond), WithMaxAttempts(3))
	_, err := p.WaitForTerminal(context.Background(), job.ID)
	require.ErrorIs(t, err, ErrPollTimeout)
}

func TestWaitForTerminalUnknownJob(t *testing.T) {
	s := memory.NewJobStore()

	p := NewPoller(s, WithInterval(time.Millisecond), WithMaxAttempts(3))
	_, err := p.WaitForTerminal(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestWaitForTerminalHonorsContext(t *testing.T) {
	s := memory.NewJobStore()
	job := seedProcessingJob(t, s)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	p := NewPoller(s, WithInterval(time.Second), WithMaxAttempts(100))
	_, err := p.WaitForTerminal(ctx, job.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
