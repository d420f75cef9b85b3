package config

import "time"

const (
	DefaultHTTPPort          = 8080
	DefaultWorkerCount       = 4
	DefaultStepBudget        = time.Minute
	DefaultStorageDriver     = Memory
	DefaultRetentionWindow   = 24 * time.Hour
	DefaultRetentionSchedule = "@hourly"
)
