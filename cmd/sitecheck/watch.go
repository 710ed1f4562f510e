package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/services/scheduler"
)

const watchJob = "sitecheck-run"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-run the scenario matrix on a cron schedule",
	Long: `Runs the matrix immediately and then on every tick of the schedule,
saving each run to history. A run still in progress when the next tick
fires is skipped. Stops on interrupt.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var (
	watchOpts     runFlags
	watchSchedule string
)

func init() {
	addFilterFlags(watchCmd, &watchOpts.filter)
	addRunFlags(watchCmd, &watchOpts)
	watchCmd.Flags().StringVar(&watchSchedule, "schedule", "", "Cron expression, e.g. \"*/15 * * * *\" (default: watch.schedule from config)")
}

func runWatch(cmd *cobra.Command, args []string) error {
	application, err := setup(watchOpts.overrides(cmd))
	if err != nil {
		return err
	}
	defer application.Close()

	schedule := watchSchedule
	if schedule == "" {
		schedule = config.Watch.Schedule
	}
	if schedule == "" {
		return fmt.Errorf("no schedule: pass --schedule or set watch.schedule")
	}

	// Validate the filter once up front rather than on every tick
	if _, err := application.Plan(watchOpts.filter); err != nil {
		return err
	}

	svc := scheduler.NewService(logger)
	err = svc.RegisterJob(watchJob, schedule, func(ctx context.Context) error {
		rep, err := application.Run(ctx, watchOpts.filter)
		if err != nil {
			return err
		}
		if err := printReport(rep, watchOpts); err != nil {
			return err
		}
		if !rep.Passed() {
			return fmt.Errorf("run %s failed: %d failed, %d timed out", rep.RunID, rep.Summary.Failed, rep.Summary.TimedOut)
		}
		return nil
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(); err != nil {
		return err
	}
	logger.Info().Str("schedule", schedule).Msg("Watching - Press Ctrl+C to stop")

	common.SafeGo(logger, "initial run", func() {
		if err := svc.TriggerNow(watchJob); err != nil {
			logger.Warn().Err(err).Msg("Initial run could not be started")
		}
	})

	<-ctx.Done()
	logger.Info().Msg("Interrupt signal received")
	return svc.Stop()
}
