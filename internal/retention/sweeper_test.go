package retention

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapvalue/internal/capability"
	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store/memory"
)

func seedCompletedJob(t *testing.T, s *memory.JobStore) string {
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
	require.NoError(t, s.Complete(ctx, job.ID, &capability.ValuationResult{EstimatedValue: 10}))
	return job.ID
}

func TestSweepKeepsJobsInsideWindow(t *testing.T) {
	s := memory.NewJobStore()

	a := seedCompletedJob(t, s)
	b := seedCompletedJob(t, s)

	sweeper := NewSweeper(s, WithWindow(time.Hour))
	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = s.Get(context.Background(), a)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), b)
	require.NoError(t, err)
}

func TestSweepWithElapsedWindow(t *testing.T) {
	s := memory.NewJobStore()
	id := seedCompletedJob(t, s)

	sweeper := NewSweeper(s, WithWindow(-time.Second))
	removed, err := sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = s.Get(context.Background(), id)
	require.Error(t, err)
}

func TestSweepLeavesActiveJobs(t *testing.T) {
	s := memory.NewJobStore()
	ctx := context.Background()

	job := &models.Job{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Status:        state.StatusSubmitted,
		Priority:      models.PriorityNormal,
		Image:         capability.ImageSource{Ref: "images/item.jpg"},
		Steps:         models.NewSteps(),
		CreatedAt:     time.Now().UTC().Add(-48 * time.Hour),
		UpdatedAt:     time.Now().UTC().Add(-48 * time.Hour),
	}
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.Enqueue(ctx, job.ID))

	sweeper := NewSweeper(s, WithWindow(-time.Second))
	removed, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	got, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, got.Status)
}
