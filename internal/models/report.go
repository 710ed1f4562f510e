package models

import "time"

// Summary counts results per terminal status
type Summary struct {
	Total          int `json:"total"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	Skipped        int `json:"skipped"`
	TimedOut       int `json:"timed_out"`
	Infrastructure int `json:"infrastructure"`
	Flaky          int `json:"flaky"`
}

// Add counts one result
func (s *Summary) Add(r *ScenarioResult) {
	s.Total++
	switch r.Status {
	case StatusPassed:
		s.Passed++
	case StatusFailed:
		s.Failed++
	case StatusSkipped:
		s.Skipped++
	case StatusTimedOut:
		s.TimedOut++
	}
	if r.ErrorKind == ErrorKindInfrastructure {
		s.Infrastructure++
	}
	if r.Flaky {
		s.Flaky++
	}
}

// Report aggregates every ScenarioResult of one run plus the exit decision
type Report struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Duration   time.Duration    `json:"duration"`
	Mode       Mode             `json:"mode"`
	BaseURL    string           `json:"base_url"`
	Summary    Summary          `json:"summary"`
	Results    []ScenarioResult `json:"results"`
	ExitCode   int              `json:"exit_code"`
}

// ExitCodeFor is non-zero iff at least one result failed or timed out
func ExitCodeFor(results []ScenarioResult) int {
	for i := range results {
		if results[i].Status.Failing() {
			return 1
		}
	}
	return 0
}

// Passed reports whether the run exits zero
func (r *Report) Passed() bool {
	return r.ExitCode == 0
}
