package queue

import (
	"context"
	"sync"
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

func createJob(t *testing.T, s *memory.JobStore, priority models.Priority) *models.Job {
	t.Helper()
	now := time.Now().UTC()
	job := &models.Job{
		ID:            uuid.NewString(),
		CorrelationID: uuid.NewString(),
		Status:        state.StatusSubmitted,
		Priority:      priority,
		Image:         capability.ImageSource{URL: "https://example.com/item.jpg"},
		Steps:         models.NewSteps(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, s.Create(context.Background(), job))
	return job
}

func TestEnqueueTransitionsToQueued(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	job := createJob(t, jobStore, models.PriorityNormal)
	require.NoError(t, s.Enqueue(ctx, job))

	got, err := jobStore.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusQueued, got.Status)
	assert.Equal(t, 1, s.Depth())
}

func TestClaimNext_PriorityBeforeFIFO(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	low := createJob(t, jobStore, models.PriorityLow)
	normal := createJob(t, jobStore, models.PriorityNormal)
	urgent := createJob(t, jobStore, models.PriorityUrgent)

	require.NoError(t, s.Enqueue(ctx, low))
	require.NoError(t, s.Enqueue(ctx, normal))
	require.NoError(t, s.Enqueue(ctx, urgent))

	first, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, urgent.ID, first.ID)
	assert.Equal(t, state.StatusProcessing, first.Status)

	second, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, normal.ID, second.ID)

	third, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, low.ID, third.ID)
}

func TestClaimNext_FIFOWithinPriority(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	first := createJob(t, jobStore, models.PriorityNormal)
	second := createJob(t, jobStore, models.PriorityNormal)
	require.NoError(t, s.Enqueue(ctx, first))
	require.NoError(t, s.Enqueue(ctx, second))

	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.ID, claimed.ID)
}

func TestClaimNext_EmptyQueue(t *testing.T) {
	s := NewScheduler(memory.NewJobStore(), 2, 30*time.Second)
	job, err := s.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestClaimNext_SkipsCancelledJobs(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	cancelled := createJob(t, jobStore, models.PriorityUrgent)
	survivor := createJob(t, jobStore, models.PriorityNormal)
	require.NoError(t, s.Enqueue(ctx, cancelled))
	require.NoError(t, s.Enqueue(ctx, survivor))

	_, err := jobStore.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)

	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, survivor.ID, claimed.ID)

	got, err := jobStore.Get(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCancelled, got.Status)
}

func TestClaimNext_AtMostOnceUnderConcurrency(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 4, 30*time.Second)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		require.NoError(t, s.Enqueue(ctx, createJob(t, jobStore, models.PriorityNormal)))
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := s.ClaimNext(ctx)
				assert.NoError(t, err)
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, jobs)
	for id, n := range claimed {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestEstimateGrowsWithDepth(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	base := s.EstimateCompletionMinutes(ctx)
	assert.Equal(t, 2, base)

	for i := 0; i < 12; i++ {
		require.NoError(t, s.Enqueue(ctx, createJob(t, jobStore, models.PriorityNormal)))
	}

	loaded := s.EstimateCompletionMinutes(ctx)
	assert.Greater(t, loaded, base)
}

func TestStats(t *testing.T) {
	jobStore := memory.NewJobStore()
	s := NewScheduler(jobStore, 2, 30*time.Second)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue(ctx, createJob(t, jobStore, models.PriorityNormal)))
	}
	claimed, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	s.RecordCompletion(10 * time.Second)
	s.RecordCompletion(20 * time.Second)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.QueueLength)
	assert.Equal(t, 1, stats.ProcessingCount)
	assert.Equal(t, float64(15), stats.AverageProcessingSeconds)
	assert.Greater(t, stats.EstimatedWaitSeconds, 0)
}
