package models

import "time"

// OutcomeStatus is the status of one AssertionOutcome
type OutcomeStatus string

const (
	OutcomePassed   OutcomeStatus = "passed"
	OutcomeFailed   OutcomeStatus = "failed"
	OutcomeSkipped  OutcomeStatus = "skipped"
	OutcomeTimedOut OutcomeStatus = "timed_out"
)

// AssertionOutcome is the recorded result of one predicate evaluation
type AssertionOutcome struct {
	ID        string            `json:"id"`
	Kind      AssertionKind     `json:"kind,omitempty"`
	Step      string            `json:"step,omitempty"`
	Status    OutcomeStatus     `json:"status"`
	Pass      bool              `json:"pass"`
	Mandatory bool              `json:"mandatory"` // absence of the target is a failure
	Expected  string            `json:"expected,omitempty"`
	Observed  string            `json:"observed,omitempty"`
	Message   string            `json:"message,omitempty"`
	Artifact  string            `json:"artifact,omitempty"`
	Details   []string          `json:"details,omitempty"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Failing reports whether the outcome contributes to a failed instance.
// Skipped outcomes never do.
func (o AssertionOutcome) Failing() bool {
	return o.Status == OutcomeFailed || o.Status == OutcomeTimedOut
}

// ScenarioStatus is the terminal status of a ScenarioResult
type ScenarioStatus string

const (
	StatusPassed   ScenarioStatus = "passed"
	StatusFailed   ScenarioStatus = "failed"
	StatusSkipped  ScenarioStatus = "skipped"
	StatusTimedOut ScenarioStatus = "timed_out"
)

// Failing reports whether the status makes the run exit non-zero
func (s ScenarioStatus) Failing() bool {
	return s == StatusFailed || s == StatusTimedOut
}

// ErrorKind classifies why an instance did not pass
type ErrorKind string

const (
	ErrorKindNone           ErrorKind = ""
	ErrorKindAssertion      ErrorKind = "assertion"
	ErrorKindNavigation     ErrorKind = "navigation"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindInfrastructure ErrorKind = "infrastructure"
)

// ArtifactBundle references the diagnostics captured for one failed attempt
type ArtifactBundle struct {
	Attempt    int      `json:"attempt"`
	Dir        string   `json:"dir"`
	Screenshot string   `json:"screenshot,omitempty"`
	Trace      string   `json:"trace,omitempty"`
	Video      string   `json:"video,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// PageMetrics are the per-instance counters derived from the session event log
type PageMetrics struct {
	Status        int           `json:"status"`
	LoadTime      time.Duration `json:"load_time"`
	Requests      int           `json:"requests"`
	NotFound      int           `json:"not_found"`
	ConsoleErrors int           `json:"console_errors"`
}

// ScenarioResult is the final record for one ScenarioInstance. It is not
// modified once the runner hands it to the aggregator.
type ScenarioResult struct {
	Instance   InstanceRef        `json:"instance"`
	Status     ScenarioStatus     `json:"status"`
	ErrorKind  ErrorKind          `json:"error_kind,omitempty"`
	Error      string             `json:"error,omitempty"`
	Outcomes   []AssertionOutcome `json:"outcomes"`
	Attempts   int                `json:"attempts"`
	Duration   time.Duration      `json:"duration"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Artifacts  []ArtifactBundle   `json:"artifacts,omitempty"`
	Metrics    PageMetrics        `json:"metrics"`
	// Flaky is set when the instance passed only after a retry or its status
	// changed since the previous stored run
	Flaky bool `json:"flaky,omitempty"`
}

// FailedOutcomes returns the outcomes that made the instance fail
func (r *ScenarioResult) FailedOutcomes() []AssertionOutcome {
	var out []AssertionOutcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeFailed || o.Status == OutcomeTimedOut {
			out = append(out, o)
		}
	}
	return out
}
