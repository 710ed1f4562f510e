package report

import "github.com/ternarybob/sitecheck/internal/models"

// MarkChanged flags results whose status differs from the previous stored
// run as flaky and recounts the summary. Skipped results on either side are
// not compared. Returns the number of newly flagged results.
func MarkChanged(report *models.Report, previous map[string]models.ScenarioStatus) int {
	marked := 0
	for i := range report.Results {
		r := &report.Results[i]
		before, ok := previous[r.Instance.ID]
		if !ok || r.Flaky || before == models.StatusSkipped || r.Status == models.StatusSkipped {
			continue
		}
		if before != r.Status {
			r.Flaky = true
			marked++
		}
	}

	if marked > 0 {
		report.Summary = models.Summary{}
		for i := range report.Results {
			report.Summary.Add(&report.Results[i])
		}
	}
	return marked
}
