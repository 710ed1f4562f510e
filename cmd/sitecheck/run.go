package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/matrix"
	"github.com/ternarybob/sitecheck/internal/services/report"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the scenario matrix once",
	Long: `Expands the scenario catalog for the selected mode, runs every instance
and prints a report. Exits 0 when everything passed, 1 when any instance
failed or timed out, 2 on configuration errors.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

// runFlags are shared by run and watch
type runFlags struct {
	filter   matrix.Filter
	workers  int
	retries  int
	timeout  string
	failFast bool
	json     string
	verbose  bool
}

var runOpts runFlags

func init() {
	addFilterFlags(runCmd, &runOpts.filter)
	addRunFlags(runCmd, &runOpts)
}

func addFilterFlags(cmd *cobra.Command, f *matrix.Filter) {
	cmd.Flags().StringVar(&f.Scenario, "scenario", "", "Only scenarios whose id matches this glob (e.g. \"homepage/*\")")
	cmd.Flags().StringVar(&f.Engine, "engine", "", "Only this engine (glob)")
	cmd.Flags().StringVar(&f.Device, "device", "", "Only this device profile (glob)")
	cmd.Flags().StringVar(&f.Locale, "locale", "", "Only this locale (glob)")
}

func addRunFlags(cmd *cobra.Command, o *runFlags) {
	cmd.Flags().IntVar(&o.workers, "workers", 0, "Parallel workers (overrides the mode profile)")
	cmd.Flags().IntVar(&o.retries, "retries", 0, "Retries per failing instance (overrides the mode profile)")
	cmd.Flags().StringVar(&o.timeout, "timeout", "", "Per-instance timeout, e.g. 30s")
	cmd.Flags().BoolVar(&o.failFast, "fail-fast", false, "Skip instances not yet started after the first failure")
	cmd.Flags().StringVar(&o.json, "json", "", "Write the JSON report to this path (\"-\" prints it instead of the text report)")
	cmd.Flags().BoolVarP(&o.verbose, "verbose", "v", false, "List every instance in the text report")
}

func (o *runFlags) overrides(cmd *cobra.Command) common.FlagOverrides {
	overrides := common.FlagOverrides{
		Workers:  o.workers,
		Timeout:  o.timeout,
		FailFast: o.failFast,
		JSONPath: o.json,
	}
	if cmd.Flags().Changed("retries") {
		retries := o.retries
		overrides.Retries = &retries
	}
	return overrides
}

func runRun(cmd *cobra.Command, args []string) error {
	application, err := setup(runOpts.overrides(cmd))
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := application.Run(ctx, runOpts.filter)
	if err != nil {
		return err
	}

	if err := printReport(rep, runOpts); err != nil {
		return err
	}
	if rep.ExitCode != exitPassed {
		return &exitError{code: rep.ExitCode}
	}
	return nil
}

func printReport(rep *models.Report, o runFlags) error {
	if o.json == "-" {
		return report.WriteJSON(os.Stdout, rep)
	}
	return report.WriteText(os.Stdout, rep, report.TextOptions{Verbose: o.verbose})
}
