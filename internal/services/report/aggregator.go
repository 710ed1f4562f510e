package report

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/models"
)

// ErrDuplicateResult is returned when a result for an instance was already added
var ErrDuplicateResult = errors.New("duplicate result")

// Aggregator collects ScenarioResults in order of arrival. Add is safe for
// concurrent use; results are keyed by instance identity.
type Aggregator struct {
	mu      sync.Mutex
	runID   string
	started time.Time
	mode    models.Mode
	baseURL string
	results []models.ScenarioResult
	seen    map[string]bool
	logger  arbor.ILogger
}

// NewAggregator creates an aggregator for one run
func NewAggregator(runID string, env *models.Environment, logger arbor.ILogger) *Aggregator {
	return &Aggregator{
		runID:   runID,
		started: time.Now(),
		mode:    env.Mode,
		baseURL: env.BaseURL,
		seen:    make(map[string]bool),
		logger:  logger,
	}
}

// Add appends a finished result
func (a *Aggregator) Add(result *models.ScenarioResult) error {
	if result == nil {
		return fmt.Errorf("nil result")
	}
	id := result.Instance.ID

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.seen[id] {
		return fmt.Errorf("%w for %s", ErrDuplicateResult, id)
	}
	a.seen[id] = true
	a.results = append(a.results, *result)

	a.logger.Debug().
		Str("instance", id).
		Str("status", string(result.Status)).
		Int("collected", len(a.results)).
		Msg("Result collected")
	return nil
}

// Len returns the number of collected results
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// Report builds the run report from what has been collected so far
func (a *Aggregator) Report() *models.Report {
	a.mu.Lock()
	results := make([]models.ScenarioResult, len(a.results))
	copy(results, a.results)
	a.mu.Unlock()

	finished := time.Now()
	report := &models.Report{
		RunID:      a.runID,
		StartedAt:  a.started,
		FinishedAt: finished,
		Duration:   finished.Sub(a.started),
		Mode:       a.mode,
		BaseURL:    a.baseURL,
		Results:    results,
		ExitCode:   models.ExitCodeFor(results),
	}
	for i := range results {
		report.Summary.Add(&results[i])
	}
	return report
}
