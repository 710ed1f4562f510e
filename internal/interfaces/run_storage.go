package interfaces

import (
	"context"

	"github.com/ternarybob/sitecheck/internal/models"
)

// RunStorage - interface for run history persistence
type RunStorage interface {
	SaveRun(ctx context.Context, report *models.Report) error
	GetRun(ctx context.Context, runID string) (*models.Report, error)
	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error)
	// InstanceHistory returns the most recent statuses of one instance, newest first
	InstanceHistory(ctx context.Context, instanceID string, limit int) ([]models.InstanceRecord, error)
	// Prune keeps the newest keep runs and deletes the rest
	Prune(ctx context.Context, keep int) (int, error)
	Close() error
}
