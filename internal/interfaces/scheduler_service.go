package interfaces

import (
	"context"
	"time"
)

// JobStatus represents the current status of a scheduled job
type JobStatus struct {
	Name      string
	Schedule  string
	LastRun   *time.Time
	NextRun   *time.Time
	IsRunning bool
	LastError string
	Runs      int
}

// SchedulerService manages cron-based scheduling
type SchedulerService interface {
	// RegisterJob registers a new job with the scheduler
	RegisterJob(name string, schedule string, handler func(ctx context.Context) error) error

	// Start the scheduler
	Start() error

	// Stop the scheduler, cancelling a job in progress
	Stop() error

	// TriggerNow runs a job immediately
	TriggerNow(name string) error

	// IsRunning returns true if scheduler is active
	IsRunning() bool

	// GetJobStatus returns the status of a specific job
	GetJobStatus(name string) (*JobStatus, error)
}
