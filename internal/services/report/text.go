package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ternarybob/sitecheck/internal/models"
)

// TextOptions controls the human-readable report
type TextOptions struct {
	// Verbose lists every instance, not only the failing ones
	Verbose bool
}

type styles struct {
	header   lipgloss.Style
	passed   lipgloss.Style
	failed   lipgloss.Style
	skipped  lipgloss.Style
	timedOut lipgloss.Style
	dim      lipgloss.Style
}

// newStyles binds styles to w; writers that are not a terminal get plain text
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		header:   r.NewStyle().Bold(true),
		passed:   r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		failed:   r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		skipped:  r.NewStyle().Foreground(lipgloss.Color("11")),
		timedOut: r.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		dim:      r.NewStyle().Foreground(lipgloss.Color("8")),
	}
}

func (s styles) status(status models.ScenarioStatus) string {
	label := strings.ToUpper(strings.ReplaceAll(string(status), "_", "-"))
	switch status {
	case models.StatusPassed:
		return s.passed.Render(fmt.Sprintf("%-9s", label))
	case models.StatusFailed:
		return s.failed.Render(fmt.Sprintf("%-9s", label))
	case models.StatusTimedOut:
		return s.timedOut.Render(fmt.Sprintf("%-9s", label))
	}
	return s.skipped.Render(fmt.Sprintf("%-9s", label))
}

// WriteText renders the report: failing instances with every failing
// outcome (expected vs observed, artifact links), then the summary
func WriteText(w io.Writer, report *models.Report, opts TextOptions) error {
	st := newStyles(w)
	var b strings.Builder

	header := fmt.Sprintf("SiteCheck run %s - %s (%s)", report.RunID, report.BaseURL, report.Mode)
	fmt.Fprintln(&b, st.header.Render(header))
	fmt.Fprintln(&b, strings.Repeat("=", len(header)))

	for i := range report.Results {
		r := &report.Results[i]
		if !opts.Verbose && !r.Status.Failing() {
			continue
		}

		line := fmt.Sprintf("%s %s %s", st.status(r.Status), r.Instance.ID, st.dim.Render(formatDuration(r.Duration)))
		if r.Attempts > 1 {
			line += st.dim.Render(fmt.Sprintf(" attempts=%d", r.Attempts))
		}
		if r.Flaky {
			line += " " + st.skipped.Render("flaky")
		}
		if r.ErrorKind == models.ErrorKindInfrastructure {
			line += " " + st.timedOut.Render("[infrastructure]")
		}
		fmt.Fprintln(&b, line)

		if r.Error != "" && r.Status != models.StatusPassed {
			fmt.Fprintf(&b, "    error: %s\n", r.Error)
		}
		for _, o := range r.FailedOutcomes() {
			fmt.Fprintf(&b, "    %s %s: %s\n", strings.ToUpper(string(o.Status)), o.ID, outcomeDetail(o))
			for _, d := range o.Details {
				fmt.Fprintf(&b, "        - %s\n", d)
			}
		}
		if opts.Verbose {
			for _, o := range r.Outcomes {
				if o.Status == models.OutcomeSkipped {
					fmt.Fprintf(&b, "    %s %s\n", st.skipped.Render("SKIPPED"), o.ID)
				}
			}
		}
		for _, a := range r.Artifacts {
			for _, ref := range []string{a.Screenshot, a.Trace, a.Video} {
				if ref != "" {
					fmt.Fprintf(&b, "    artifact (attempt %d): %s\n", a.Attempt, ref)
				}
			}
		}
	}

	fmt.Fprintln(&b, strings.Repeat("-", len(header)))
	s := report.Summary
	fmt.Fprintf(&b, "Total %d  %s %d  %s %d  %s %d  %s %d",
		s.Total,
		st.passed.Render("passed"), s.Passed,
		st.failed.Render("failed"), s.Failed,
		st.timedOut.Render("timed-out"), s.TimedOut,
		st.skipped.Render("skipped"), s.Skipped,
	)
	if s.Infrastructure > 0 {
		fmt.Fprintf(&b, "  infrastructure %d", s.Infrastructure)
	}
	if s.Flaky > 0 {
		fmt.Fprintf(&b, "  flaky %d", s.Flaky)
	}
	fmt.Fprintf(&b, "  in %s\n", formatDuration(report.Duration))

	result := st.passed.Render("PASS")
	if !report.Passed() {
		result = st.failed.Render("FAIL")
	}
	fmt.Fprintf(&b, "Result: %s (exit %d)\n", result, report.ExitCode)

	_, err := io.WriteString(w, b.String())
	return err
}

func outcomeDetail(o models.AssertionOutcome) string {
	switch {
	case o.Expected != "" || o.Observed != "":
		detail := fmt.Sprintf("expected %s, observed %s", o.Expected, o.Observed)
		if o.Message != "" && !strings.HasPrefix(o.Message, "expected ") {
			detail += " (" + o.Message + ")"
		}
		return detail
	case o.Message != "":
		return o.Message
	}
	return string(o.Status)
}

func formatDuration(d time.Duration) string {
	return d.Round(time.Millisecond).String()
}
