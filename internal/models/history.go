package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunRecord is the stored form of one Report
type RunRecord struct {
	ID         string    `json:"id" badgerhold:"key"`
	StartedAt  time.Time `json:"started_at" badgerholdIndex:"StartedAt"`
	FinishedAt time.Time `json:"finished_at"`
	Mode       Mode      `json:"mode"`
	BaseURL    string    `json:"base_url"`
	Summary    Summary   `json:"summary"`
	ExitCode   int       `json:"exit_code"`
	// Report is the full JSON report
	Report []byte `json:"-"`
}

// NewRunRecord converts a report into its stored form
func NewRunRecord(report *Report) (*RunRecord, error) {
	data, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return &RunRecord{
		ID:         report.RunID,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Mode:       report.Mode,
		BaseURL:    report.BaseURL,
		Summary:    report.Summary,
		ExitCode:   report.ExitCode,
		Report:     data,
	}, nil
}

// Decode returns the full report
func (r *RunRecord) Decode() (*Report, error) {
	var report Report
	if err := json.Unmarshal(r.Report, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report %s: %w", r.ID, err)
	}
	return &report, nil
}

// InstanceRecord is the stored status of one instance in one run
type InstanceRecord struct {
	Key        string         `json:"-" badgerhold:"key"`
	RunID      string         `json:"run_id" badgerholdIndex:"RunID"`
	InstanceID string         `json:"instance_id" badgerholdIndex:"InstanceID"`
	Status     ScenarioStatus `json:"status"`
	ErrorKind  ErrorKind      `json:"error_kind,omitempty"`
	Attempts   int            `json:"attempts"`
	Flaky      bool           `json:"flaky"`
	Duration   time.Duration  `json:"duration"`
	StartedAt  time.Time      `json:"started_at"`
}

// InstanceRecordKey is the storage key of an instance record
func InstanceRecordKey(runID, instanceID string) string {
	return runID + "/" + instanceID
}
