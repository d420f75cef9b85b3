// Package worker drains the queue and runs the appraisal pipeline. Each job
// passes through the fixed step sequence; transient upstream failures are
// retried, permanent ones fail the job with a typed reason.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"snapvalue/internal/apperrors"
	"snapvalue/internal/capability"
	"snapvalue/internal/events"
	"snapvalue/internal/models"
	"snapvalue/internal/queue"
	"snapvalue/internal/state"
	"snapvalue/internal/store"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	maxRetries          = 2
)

// Retry backoffs for transient step failures: first retry after one second,
// second after three.
var defaultBackoffs = []time.Duration{1 * time.Second, 3 * time.Second}

type Executor struct {
	store        store.JobStore
	scheduler    *queue.Scheduler
	caps         capability.Set
	publisher    events.Publisher
	workers      int64
	pollInterval time.Duration
	backoffs     []time.Duration
}

type Option func(*Executor)

// WithPollInterval overrides how often an idle executor re-checks the queue.
func WithPollInterval(d time.Duration) Option {
	return func(e *Executor) {
		e.pollInterval = d
	}
}

// WithBackoffs overrides the transient-retry delays. Tests use this to avoid
// sleeping for real.
func WithBackoffs(backoffs []time.Duration) Option {
	return func(e *Executor) {
		e.backoffs = backoffs
	}
}

func NewExecutor(jobStore store.JobStore, scheduler *queue.Scheduler, caps capability.Set, publisher events.Publisher, workers int, opts ...Option) *Executor {
	if publisher == nil {
		publisher = events.Noop{}
	}
	e := &Executor{
		store:        jobStore,
		scheduler:    scheduler,
		caps:         caps,
		publisher:    publisher,
		workers:      int64(workers),
		pollInterval: defaultPollInterval,
		backoffs:     defaultBackoffs,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run claims and processes jobs until the context is cancelled. At most
// `workers` jobs run concurrently; the semaphore is the only admission gate,
// so queue depth beyond it simply waits.
func (e *Executor) Run(ctx context.Context) error {
	sem := semaphore.NewWeighted(e.workers)
	var wg sync.WaitGroup

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
			if err := sem.Acquire(ctx, 1); err != nil {
				wg.Wait()
				return err
			}

			job, err := e.scheduler.ClaimNext(ctx)
			if err != nil {
				sem.Release(1)
				log.Println("claim error:", err)
				time.Sleep(e.pollInterval)
				continue
			}
			if job == nil {
				sem.Release(1)
				time.Sleep(e.pollInterval)
				continue
			}

			wg.Add(1)
			go func(job *models.Job) {
				defer sem.Release(1)
				defer wg.Done()
				e.Process(ctx, job)
			}(job)
		}
	}
}

// Process runs the full step sequence for one claimed job and records the
// terminal outcome. Exported so tests and synchronous callers can drive a
// single job without the dispatcher loop.
func (e *Executor) Process(ctx context.Context, job *models.Job) {
	started := time.Now()

	var (
		features    *capability.Features
		comparables *capability.Comparables
		result      *capability.ValuationResult
	)

	for i := range job.Steps {
		// Re-read before each step so an out-of-band cancel halts the
		// pipeline between steps rather than after it.
		current, err := e.store.Get(ctx, job.ID)
		if err != nil {
			log.Println("status check error:", err)
			return
		}
		if current.Status != state.StatusProcessing {
			log.Printf("job %s left processing (%s), halting pipeline", job.ID, current.Status)
			return
		}

		step := &job.Steps[i]
		if ok := e.beginStep(ctx, job, step); !ok {
			return
		}

		var details map[string]any
		err = e.runWithRetry(ctx, step.Name, func(ctx context.Context) error {
			var stepErr error
			switch step.Name {
			case models.StepImageValidation:
				var outcome *capability.ValidationOutcome
				outcome, stepErr = e.caps.Validator.Validate(ctx, job.Image)
				if stepErr == nil {
					details = map[string]any{
						"format":     outcome.Format,
						"size_bytes": outcome.SizeBytes,
						"dimensions": outcome.Dimensions,
					}
				}
			case models.StepFeatureAnalysis:
				features, stepErr = e.caps.Analyzer.Analyze(ctx, job.Image)
				if stepErr == nil {
					details = map[string]any{
						"labels":           features.Labels,
						"objects_detected": features.ObjectsDetected,
						"category":         features.Category,
						"confidence":       features.Confidence,
					}
				}
			case models.StepMarketComparison:
				comparables, stepErr = e.caps.Comparator.Compare(ctx, features)
				if stepErr == nil {
					details = map[string]any{
						"comparables_found": len(comparables.Items),
						"close_matches":     comparables.CloseMatches,
						"trend_direction":   comparables.TrendDirection,
					}
				}
			case models.StepAggregation:
				result, stepErr = e.caps.Aggregator.Aggregate(ctx, features, comparables)
				if stepErr == nil {
					details = map[string]any{
						"estimated_value":  result.EstimatedValue,
						"confidence_score": result.Confidence,
					}
				}
			}
			return stepErr
		})

		if err != nil {
			e.failStep(ctx, job, step, err)
			return
		}

		if ok := e.finishStep(ctx, job, step, details); !ok {
			return
		}
	}

	if err := e.store.Complete(ctx, job.ID, result); err != nil {
		log.Println("complete error:", err)
		return
	}
	e.scheduler.RecordCompletion(time.Since(started))
	e.publish(job, state.StatusCompleted)
}

// runWithRetry invokes fn, retrying after a backoff when the failure is
// transient. Permanent errors and exhausted retries surface to the caller.
func (e *Executor) runWithRetry(ctx context.Context, stepName string, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !apperrors.IsTransient(err) || attempt >= maxRetries {
			return err
		}

		backoff := e.backoffs[len(e.backoffs)-1]
		if attempt < len(e.backoffs) {
			backoff = e.backoffs[attempt]
		}
		log.Printf("step %s transient failure (attempt %d): %v, retrying in %s", stepName, attempt+1, err, backoff)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) beginStep(ctx context.Context, job *models.Job, step *models.Step) bool {
	now := time.Now().UTC()
	step.Status = state.StepRunning
	step.StartedAt = &now
	return e.pushSteps(ctx, job)
}

func (e *Executor) finishStep(ctx context.Context, job *models.Job, step *models.Step, details map[string]any) bool {
	now := time.Now().UTC()
	step.Status = state.StepCompleted
	step.CompletedAt = &now
	if step.StartedAt != nil {
		step.Duration = now.Sub(*step.StartedAt)
	}
	step.Details = details
	return e.pushSteps(ctx, job)
}

func (e *Executor) failStep(ctx context.Context, job *models.Job, step *models.Step, cause error) {
	now := time.Now().UTC()
	step.Status = state.StepFailed
	step.CompletedAt = &now
	if step.StartedAt != nil {
		step.Duration = now.Sub(*step.StartedAt)
	}
	step.Error = cause.Error()

	if _, err := e.store.UpdateSteps(ctx, job.ID, job.Steps, job.Progress); err != nil {
		log.Println("step update error:", err)
	}

	jobErr := &models.JobError{
		Code:    apperrors.Code(cause),
		Message: cause.Error(),
		Step:    step.Name,
	}
	if err := e.store.Fail(ctx, job.ID, jobErr); err != nil {
		log.Println("fail error:", err)
		return
	}
	e.publish(job, state.StatusFailed)
}

// pushSteps writes the step array back and recomputes progress. A false
// return means the job left processing underneath us, so the pipeline halts.
func (e *Executor) pushSteps(ctx context.Context, job *models.Job) bool {
	job.Progress = float64(job.CompletedSteps()) / float64(len(job.Steps)) * 100

	ok, err := e.store.UpdateSteps(ctx, job.ID, job.Steps, job.Progress)
	if err != nil {
		log.Println("step update error:", err)
		return false
	}
	if !ok {
		log.Printf("job %s no longer processing, halting pipeline", job.ID)
		return false
	}
	return true
}

func (e *Executor) publish(job *models.Job, status state.JobStatus) {
	evt := events.Event{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		Status:        status,
		OccurredAt:    time.Now().UTC(),
	}
	if err := e.publisher.PublishJobEvent(evt); err != nil {
		log.Println("event publish error:", err)
	}
}
