package models

import (
	"time"

	"snapvalue/internal/capability"
	"snapvalue/internal/state"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

var priorityRanks = map[Priority]int{
	PriorityLow:    0,
	PriorityNormal: 1,
	PriorityHigh:   2,
	PriorityUrgent: 3,
}

// Rank orders priorities for the scheduler; higher runs first.
func (p Priority) Rank() int {
	return priorityRanks[p]
}

func (p Priority) Valid() bool {
	_, ok := priorityRanks[p]
	return ok
}

// The fixed step sequence every appraisal runs through, in order.
const (
	StepImageValidation  = "image_validation"
	StepFeatureAnalysis  = "feature_analysis"
	StepMarketComparison = "market_comparison"
	StepAggregation      = "aggregation"
)

var StepSequence = []string{
	StepImageValidation,
	StepFeatureAnalysis,
	StepMarketComparison,
	StepAggregation,
}

type Step struct {
	Name        string           `json:"name"`
	Status      state.StepStatus `json:"status"`
	StartedAt   *time.Time       `json:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Duration    time.Duration    `json:"duration,omitempty"`
	Details     map[string]any   `json:"details,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// JobError is the typed reason recorded on a failed job.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Step    string `json:"step,omitempty"`
}

type Job struct {
	ID            string                      `json:"id"`
	CorrelationID string                      `json:"correlation_id"`
	Status        state.JobStatus             `json:"status"`
	Priority      Priority                    `json:"priority"`
	Category      string                      `json:"category,omitempty"`
	Options       map[string]any              `json:"options,omitempty"`
	Image         capability.ImageSource      `json:"image"`
	Steps         []Step                      `json:"steps"`
	Progress      float64                     `json:"progress_percentage"`
	Result        *capability.ValuationResult `json:"result,omitempty"`
	Error         *JobError                   `json:"error,omitempty"`
	CreatedAt     time.Time                   `json:"created_at"`
	UpdatedAt     time.Time                   `json:"updated_at"`
	EnqueuedAt    *time.Time                  `json:"enqueued_at,omitempty"`
	StartedAt     *time.Time                  `json:"started_at,omitempty"`
	CompletedAt   *time.Time                  `json:"completed_at,omitempty"`
}

// NewSteps returns the fixed pending step sequence for a new job.
func NewSteps() []Step {
	steps := make([]Step, 0, len(StepSequence))
	for _, name := range StepSequence {
		steps = append(steps, Step{Name: name, Status: state.StepPending})
	}
	return steps
}

// CurrentStep returns the name of the first step that has not completed, or
// an empty string when every step is done.
func (j *Job) CurrentStep() string {
	for _, s := range j.Steps {
		if s.Status == state.StepPending || s.Status == state.StepRunning || s.Status == state.StepFailed {
			return s.Name
		}
	}
	return ""
}

// CompletedSteps counts steps that finished successfully.
func (j *Job) CompletedSteps() int {
	n := 0
	for _, s := range j.Steps {
		if s.Status == state.StepCompleted {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so callers never hold a mutable handle into the
// store's arena.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Steps = make([]Step, len(j.Steps))
	copy(cp.Steps, j.Steps)
	for i, s := range j.Steps {
		if s.Details != nil {
			details := make(map[string]any, len(s.Details))
			for k, v := range s.Details {
				details[k] = v
			}
			cp.Steps[i].Details = details
		}
	}
	if j.Options != nil {
		opts := make(map[string]any, len(j.Options))
		for k, v := range j.Options {
			opts[k] = v
		}
		cp.Options = opts
	}
	if j.Result != nil {
		result := *j.Result
		cp.Result = &result
	}
	if j.Error != nil {
		jobErr := *j.Error
		cp.Error = &jobErr
	}
	return &cp
}
