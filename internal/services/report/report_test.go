package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/models"
)

func testEnv() *models.Environment {
	return &models.Environment{BaseURL: "https://typo3.example.org", Mode: models.ModeCI}
}

func result(id string, status models.ScenarioStatus) *models.ScenarioResult {
	return &models.ScenarioResult{
		Instance: models.InstanceRef{ID: id, Scenario: id},
		Status:   status,
		Attempts: 1,
		Duration: 250 * time.Millisecond,
	}
}

func TestAggregator_ConcurrentAdd(t *testing.T) {
	agg := NewAggregator("run-1", testEnv(), arbor.NewLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, agg.Add(result(fmt.Sprintf("scenario-%d", i), models.StatusPassed)))
		}(i)
	}
	wg.Wait()

	rep := agg.Report()
	assert.Equal(t, 20, agg.Len())
	assert.Equal(t, 20, rep.Summary.Total)
	assert.Equal(t, 20, rep.Summary.Passed)
	assert.Equal(t, 0, rep.ExitCode)
	assert.True(t, rep.Passed())
	assert.Equal(t, "run-1", rep.RunID)
	assert.Equal(t, models.ModeCI, rep.Mode)
}

func TestAggregator_DuplicateResult(t *testing.T) {
	agg := NewAggregator("run-1", testEnv(), arbor.NewLogger())

	require.NoError(t, agg.Add(result("homepage/load[chromium/desktop/de-DE]", models.StatusPassed)))
	err := agg.Add(result("homepage/load[chromium/desktop/de-DE]", models.StatusFailed))
	assert.True(t, errors.Is(err, ErrDuplicateResult))
	assert.Equal(t, 1, agg.Len())

	assert.Error(t, agg.Add(nil))
}

func TestAggregator_ExitCode(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.ScenarioStatus
		want     int
	}{
		{name: "all passed", statuses: []models.ScenarioStatus{models.StatusPassed, models.StatusPassed}, want: 0},
		{name: "skipped does not fail", statuses: []models.ScenarioStatus{models.StatusPassed, models.StatusSkipped}, want: 0},
		{name: "one failed", statuses: []models.ScenarioStatus{models.StatusPassed, models.StatusFailed}, want: 1},
		{name: "one timed out", statuses: []models.ScenarioStatus{models.StatusTimedOut, models.StatusPassed}, want: 1},
		{name: "empty run", statuses: nil, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator("run-1", testEnv(), arbor.NewLogger())
			for i, s := range tt.statuses {
				require.NoError(t, agg.Add(result(fmt.Sprintf("s-%d", i), s)))
			}
			assert.Equal(t, tt.want, agg.Report().ExitCode)
		})
	}
}

func failingReport() *models.Report {
	agg := NewAggregator("20261017-101500-ab12cd34", testEnv(), arbor.NewLogger())
	_ = agg.Add(result("homepage/load[chromium/desktop/de-DE]", models.StatusPassed))

	failed := result("multilingual/hreflang[chromium/desktop/en-US]", models.StatusFailed)
	failed.ErrorKind = models.ErrorKindAssertion
	failed.Attempts = 2
	failed.Outcomes = []models.AssertionOutcome{
		{ID: "navigate /en/", Status: models.OutcomePassed, Pass: true},
		{ID: "hreflang", Status: models.OutcomeFailed, Expected: "hreflang includes [es-ES]", Observed: "[de-DE, en-US, fr-FR]", Message: "missing es-ES"},
	}
	failed.Artifacts = []models.ArtifactBundle{{Attempt: 2, Dir: "test-results/x", Screenshot: "test-results/x/screenshot.png"}}
	_ = agg.Add(failed)

	skipped := result("forms/search[chromium/desktop/de-DE]", models.StatusPassed)
	skipped.Outcomes = []models.AssertionOutcome{{ID: "when search", Status: models.OutcomeSkipped}}
	_ = agg.Add(skipped)

	return agg.Report()
}

func TestWriteText(t *testing.T) {
	rep := failingReport()

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, rep, TextOptions{}))
	out := buf.String()

	assert.Contains(t, out, "SiteCheck run 20261017-101500-ab12cd34")
	assert.Contains(t, out, "multilingual/hreflang[chromium/desktop/en-US]")
	assert.Contains(t, out, "expected hreflang includes [es-ES], observed [de-DE, en-US, fr-FR] (missing es-ES)")
	assert.Contains(t, out, "artifact (attempt 2): test-results/x/screenshot.png")
	assert.Contains(t, out, "attempts=2")
	assert.Contains(t, out, "Result: FAIL (exit 1)")
	// Passing instances are listed only in verbose mode
	assert.NotContains(t, out, "homepage/load")

	buf.Reset()
	require.NoError(t, WriteText(&buf, rep, TextOptions{Verbose: true}))
	assert.Contains(t, buf.String(), "homepage/load[chromium/desktop/de-DE]")
	assert.Contains(t, buf.String(), "SKIPPED when search")
}

func TestWriteText_Passed(t *testing.T) {
	agg := NewAggregator("run-1", testEnv(), arbor.NewLogger())
	require.NoError(t, agg.Add(result("homepage/load[chromium/desktop/de-DE]", models.StatusPassed)))

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, agg.Report(), TextOptions{}))
	assert.Contains(t, buf.String(), "Result: PASS (exit 0)")
}

func TestWriteJSON(t *testing.T) {
	rep := failingReport()

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, rep))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "20261017-101500-ab12cd34", decoded["run_id"])
	assert.Equal(t, float64(1), decoded["exit_code"])
	assert.Len(t, decoded["results"], 3)

	path := filepath.Join(t.TempDir(), "nested", "report.json")
	require.NoError(t, WriteJSONFile(path, rep))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status": "failed"`)
}

func TestMarkChanged(t *testing.T) {
	agg := NewAggregator("run-2", testEnv(), arbor.NewLogger())
	require.NoError(t, agg.Add(result("a", models.StatusPassed)))
	require.NoError(t, agg.Add(result("b", models.StatusFailed)))
	require.NoError(t, agg.Add(result("c", models.StatusPassed)))
	require.NoError(t, agg.Add(result("d", models.StatusSkipped)))
	require.NoError(t, agg.Add(result("e", models.StatusPassed)))
	rep := agg.Report()

	previous := map[string]models.ScenarioStatus{
		"a": models.StatusFailed,   // changed
		"b": models.StatusFailed,   // unchanged
		"c": models.StatusSkipped,  // not compared
		"d": models.StatusPassed,   // not compared
		"e": models.StatusTimedOut, // changed
	}

	marked := MarkChanged(rep, previous)

	assert.Equal(t, 2, marked)
	assert.True(t, rep.Results[0].Flaky)
	assert.False(t, rep.Results[1].Flaky)
	assert.False(t, rep.Results[2].Flaky)
	assert.False(t, rep.Results[3].Flaky)
	assert.True(t, rep.Results[4].Flaky)
	assert.Equal(t, 2, rep.Summary.Flaky)
	assert.Equal(t, 5, rep.Summary.Total)

	// Already flagged results are not counted twice
	assert.Equal(t, 0, MarkChanged(rep, previous))
}
