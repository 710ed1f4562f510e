package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ternarybob/sitecheck/internal/common"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print stored runs, or the status history of one instance",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	historyLimit    int
	historyInstance string
)

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum number of entries")
	historyCmd.Flags().StringVar(&historyInstance, "instance", "", "Instance id, e.g. \"homepage/load[chromium/desktop-chrome/de]\"")
}

func runHistory(cmd *cobra.Command, args []string) error {
	application, err := setup(common.FlagOverrides{})
	if err != nil {
		return err
	}
	defer application.Close()

	if application.RunStorage == nil {
		return fmt.Errorf("run history is disabled (history.enabled = false)")
	}

	ctx := context.Background()
	out := cmd.OutOrStdout()

	if historyInstance != "" {
		records, err := application.RunStorage.InstanceHistory(ctx, historyInstance, historyLimit)
		if err != nil {
			return err
		}
		t := table.New().
			Border(lipgloss.NormalBorder()).
			Headers("RUN", "STARTED", "STATUS", "ATTEMPTS", "FLAKY", "DURATION")
		for _, r := range records {
			t.Row(
				r.RunID,
				r.StartedAt.Local().Format(time.DateTime),
				string(r.Status),
				strconv.Itoa(r.Attempts),
				strconv.FormatBool(r.Flaky),
				r.Duration.Round(time.Millisecond).String(),
			)
		}
		fmt.Fprintln(out, t.String())
		return nil
	}

	runs, err := application.RunStorage.ListRuns(ctx, historyLimit)
	if err != nil {
		return err
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("RUN", "STARTED", "MODE", "TOTAL", "PASSED", "FAILED", "TIMED-OUT", "SKIPPED", "FLAKY", "EXIT")
	for _, r := range runs {
		s := r.Summary
		t.Row(
			r.ID,
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Mode),
			strconv.Itoa(s.Total),
			strconv.Itoa(s.Passed),
			strconv.Itoa(s.Failed),
			strconv.Itoa(s.TimedOut),
			strconv.Itoa(s.Skipped),
			strconv.Itoa(s.Flaky),
			strconv.Itoa(r.ExitCode),
		)
	}
	fmt.Fprintln(out, t.String())
	fmt.Fprintf(out, "%d runs\n", len(runs))
	return nil
}
