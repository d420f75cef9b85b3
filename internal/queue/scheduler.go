// Package queue admits pending jobs in priority order and enforces the
// backpressure policy: overload lengthens wait estimates, it never rejects.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"snapvalue/internal/models"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

type entry struct {
	jobID      string
	rank       int
	enqueuedAt time.Time
	seq        uint64
}

// entryHeap orders by priority rank (higher first), then enqueue time
// (earlier first), then insertion sequence to make ties deterministic.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank > h[j].rank
	}
	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Stats is the queue-state payload surfaced on /status/queue.
type Stats struct {
	QueueLength              int     `json:"queue_length"`
	ProcessingCount          int     `json:"processing_count"`
	CompletedCount           int     `json:"completed_count"`
	FailedCount              int     `json:"failed_count"`
	AverageProcessingSeconds float64 `json:"average_processing_time"`
	EstimatedWaitSeconds     int     `json:"estimated_wait_time"`
}

type Scheduler struct {
	store      store.JobStore
	workers    int
	stepBudget time.Duration // fixed time budget per pipeline step

	mu      sync.Mutex
	entries entryHeap
	seq     uint64

	// processing durations of recently finished jobs, for the stats average
	statsMu        sync.Mutex
	finished       int
	totalProcessed time.Duration
}

func NewScheduler(jobStore store.JobStore, workers int, stepBudget time.Duration) *Scheduler {
	return &Scheduler{
		store:      jobStore,
		workers:    workers,
		stepBudget: stepBudget,
	}
}

// Enqueue transitions the job submitted -> queued and registers it for
// claiming.
func (s *Scheduler) Enqueue(ctx context.Context, job *models.Job) error {
	if err := s.store.Enqueue(ctx, job.ID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	heap.Push(&s.entries, &entry{
		jobID:      job.ID,
		rank:       job.Priority.Rank(),
		enqueuedAt: time.Now().UTC(),
		seq:        s.seq,
	})
	return nil
}

// ClaimNext atomically pops the best eligible entry and transitions its job
// queued -> processing. Entries whose claim is lost (typically jobs cancelled
// while queued) are dropped lazily and the next entry is tried. Returns nil
// when nothing is eligible.
func (s *Scheduler) ClaimNext(ctx context.Context) (*models.Job, error) {
	for {
		s.mu.Lock()
		if s.entries.Len() == 0 {
			s.mu.Unlock()
			return nil, nil
		}
		e := heap.Pop(&s.entries).(*entry)
		s.mu.Unlock()

		won, err := s.store.Claim(ctx, e.jobID)
		if err != nil {
			return nil, err
		}
		if !won {
			continue
		}
		return s.store.Get(ctx, e.jobID)
	}
}

// Depth reports the number of registered queue entries. Entries for jobs
// cancelled while queued are included until lazily dropped on claim.
func (s *Scheduler) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries.Len()
}

// RecordCompletion feeds a finished job's processing duration into the
// rolling average used for wait estimates.
func (s *Scheduler) RecordCompletion(d time.Duration) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.finished++
	s.totalProcessed += d
}

// perJobBudget is the fixed time budget for one full pipeline run.
func (s *Scheduler) perJobBudget() time.Duration {
	return time.Duration(len(models.StepSequence)) * s.stepBudget
}

// EstimateCompletionMinutes computes the admission-time estimate from the
// current queue depth and the per-job step budget. With spare workers the
// floor is two minutes; under load it grows linearly with depth divided by
// worker throughput.
func (s *Scheduler) EstimateCompletionMinutes(ctx context.Context) int {
	depth := s.Depth()
	waves := (depth / s.workers) + 1
	minutes := int(time.Duration(waves) * s.perJobBudget() / time.Minute)
	if minutes < 2 {
		minutes = 2
	}
	return minutes
}

// Stats assembles the queue-state projection for polling clients.
func (s *Scheduler) Stats(ctx context.Context) (*Stats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}

	s.statsMu.Lock()
	var avg float64
	if s.finished > 0 {
		avg = s.totalProcessed.Seconds() / float64(s.finished)
	}
	s.statsMu.Unlock()

	queueLength := counts[state.StatusQueued]
	waitSeconds := int(float64(queueLength) / float64(s.workers) * s.perJobBudget().Seconds())

	return &Stats{
		QueueLength:              queueLength,
		ProcessingCount:          counts[state.StatusProcessing],
		CompletedCount:           counts[state.StatusCompleted],
		FailedCount:              counts[state.StatusFailed],
		AverageProcessingSeconds: avg,
		EstimatedWaitSeconds:     waitSeconds,
	}, nil
}
