package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

// ErrRunNotFound is returned when a run id is unknown
var ErrRunNotFound = errors.New("run not found")

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun stores the run and one record per instance
func (s *RunStorage) SaveRun(ctx context.Context, report *models.Report) error {
	record, err := models.NewRunRecord(report)
	if err != nil {
		return err
	}
	if err := s.db.Store().Upsert(record.ID, record); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	for i := range report.Results {
		r := &report.Results[i]
		inst := models.InstanceRecord{
			Key:        models.InstanceRecordKey(report.RunID, r.Instance.ID),
			RunID:      report.RunID,
			InstanceID: r.Instance.ID,
			Status:     r.Status,
			ErrorKind:  r.ErrorKind,
			Attempts:   r.Attempts,
			Flaky:      r.Flaky,
			Duration:   r.Duration,
			StartedAt:  report.StartedAt,
		}
		if err := s.db.Store().Upsert(inst.Key, &inst); err != nil {
			return fmt.Errorf("failed to save instance %s: %w", r.Instance.ID, err)
		}
	}

	s.logger.Debug().
		Str("run_id", report.RunID).
		Int("instances", len(report.Results)).
		Msg("Run saved to history")
	return nil
}

// GetRun returns the full report of a stored run
func (s *RunStorage) GetRun(ctx context.Context, runID string) (*models.Report, error) {
	var record models.RunRecord
	err := s.db.Store().Get(runID, &record)
	if err == badgerhold.ErrNotFound {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return record.Decode()
}

// ListRuns returns the most recent runs first
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.RunRecord, error) {
	var records []models.RunRecord
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*models.RunRecord, len(records))
	for i := range records {
		runs[i] = &records[i]
	}
	return runs, nil
}

// InstanceHistory returns the most recent statuses of one instance, newest first
func (s *RunStorage) InstanceHistory(ctx context.Context, instanceID string, limit int) ([]models.InstanceRecord, error) {
	var records []models.InstanceRecord
	query := badgerhold.Where("InstanceID").Eq(instanceID).Index("InstanceID").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to get instance history: %w", err)
	}
	return records, nil
}

// Prune keeps the newest keep runs and deletes the rest together with their
// instance records
func (s *RunStorage) Prune(ctx context.Context, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}

	var records []models.RunRecord
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse().Skip(keep)
	if err := s.db.Store().Find(&records, query); err != nil {
		return 0, fmt.Errorf("failed to find runs to prune: %w", err)
	}

	for _, record := range records {
		if err := s.db.Store().DeleteMatching(&models.InstanceRecord{}, badgerhold.Where("RunID").Eq(record.ID).Index("RunID")); err != nil {
			return 0, fmt.Errorf("failed to delete instances of run %s: %w", record.ID, err)
		}
		if err := s.db.Store().Delete(record.ID, &models.RunRecord{}); err != nil {
			return 0, fmt.Errorf("failed to delete run %s: %w", record.ID, err)
		}
	}

	if len(records) > 0 {
		s.logger.Info().Int("pruned", len(records)).Int("kept", keep).Msg("Run history pruned")
	}
	return len(records), nil
}

// Close closes the underlying database
func (s *RunStorage) Close() error {
	return s.db.Close()
}
