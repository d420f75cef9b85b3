package models

import "time"

type BatchStatus string

const (
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchPartial    BatchStatus = "partial"
)

// Batch links the jobs created by one batch submission. Its aggregate status
// is always derived from the member jobs, never stored.
type Batch struct {
	ID        string    `json:"id"`
	JobIDs    []string  `json:"job_ids"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Batch) Clone() *Batch {
	cp := *b
	cp.JobIDs = make([]string, len(b.JobIDs))
	copy(cp.JobIDs, b.JobIDs)
	return &cp
}
