package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Sink receives results as instances finish, from several workers at once
type Sink interface {
	Add(result *models.ScenarioResult) error
}

// RunSuite runs every instance on a pool of env.Workers workers. Instances
// not yet started when the suite deadline passes are recorded timed_out;
// with fail-fast, instances not yet started after the first failure are
// recorded skipped. Only sink errors are returned.
func (r *Runner) RunSuite(ctx context.Context, runID string, instances []*models.ScenarioInstance, sink Sink) error {
	if r.env.SuiteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.env.SuiteTimeout)
		defer cancel()
	}

	workers := r.env.Workers
	if workers < 1 {
		workers = 1
	}

	r.logger.Info().
		Str("run_id", runID).
		Int("instances", len(instances)).
		Int("workers", workers).
		Dur("suite_timeout", r.env.SuiteTimeout).
		Bool("fail_fast", r.env.FailFast).
		Msg("Starting scenario suite")

	var (
		g       errgroup.Group
		failed  atomic.Bool
		sinkErr = make(chan error, 1)
	)
	g.SetLimit(workers)

	add := func(result *models.ScenarioResult) {
		r.recorder.ObserveResult(result)
		if err := sink.Add(result); err != nil {
			r.logger.Error().Err(err).Str("instance", result.Instance.ID).Msg("Failed to record result")
			select {
			case sinkErr <- err:
			default:
			}
		}
	}

	for _, inst := range instances {
		// Go blocks while all workers are busy, so both checks see the state
		// at the moment a worker becomes free
		g.Go(func() error {
			switch {
			case ctx.Err() != nil:
				add(notStarted(inst, models.StatusTimedOut, models.ErrorKindTimeout, "not started: suite deadline exceeded"))
				return nil
			case r.env.FailFast && failed.Load():
				add(notStarted(inst, models.StatusSkipped, models.ErrorKindNone, "not started: fail-fast after earlier failure"))
				return nil
			}

			result := r.Run(ctx, runID, inst)
			if result.Status.Failing() {
				failed.Store(true)
			}
			add(result)
			return nil
		})
	}

	_ = g.Wait()

	select {
	case err := <-sinkErr:
		return err
	default:
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.logger.Warn().Str("run_id", runID).Msg("Suite deadline exceeded")
	}
	return nil
}

func notStarted(inst *models.ScenarioInstance, status models.ScenarioStatus, kind models.ErrorKind, reason string) *models.ScenarioResult {
	now := time.Now()
	return &models.ScenarioResult{
		Instance:   inst.Ref(),
		Status:     status,
		ErrorKind:  kind,
		Error:      reason,
		StartedAt:  now,
		FinishedAt: now,
	}
}
