package state

type JobStatus string

const (
	StatusSubmitted  JobStatus = "submitted"
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Known reports whether s is one of the defined statuses.
func (s JobStatus) Known() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

var AllStatuses = []JobStatus{
	StatusSubmitted,
	StatusQueued,
	StatusProcessing,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusSubmitted, To: StatusQueued},
	{From: StatusQueued, To: StatusProcessing},
	{From: StatusProcessing, To: StatusCompleted},
	{From: StatusProcessing, To: StatusFailed},
	{From: StatusSubmitted, To: StatusCancelled},
	{From: StatusQueued, To: StatusCancelled},
	{From: StatusProcessing, To: StatusCancelled},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status permitted to transition into to, in
// table order.
func SourcesOf(to JobStatus) []JobStatus {
	var sources []JobStatus
	for _, t := range ValidTransitions {
		if t.To == to {
			sources = append(sources, t.From)
		}
	}
	return sources
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

func (s StepStatus) String() string {
	return string(s)
}
