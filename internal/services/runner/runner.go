package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/artifacts"
	"github.com/ternarybob/sitecheck/internal/services/assertion"
	"github.com/ternarybob/sitecheck/internal/services/locator"
	"github.com/ternarybob/sitecheck/internal/services/metrics"
	"github.com/ternarybob/sitecheck/internal/services/wait"
)

// Drivers hands out the browser driver for an engine
type Drivers interface {
	Driver(engine models.Engine) (interfaces.BrowserDriver, error)
}

// Options are the optional collaborators of a Runner
type Options struct {
	// Limiter throttles navigations across all workers (nil = unlimited)
	Limiter *rate.Limiter
	// Recorder receives retry and result metrics (nil = none)
	Recorder *metrics.Recorder
	// Tracer starts attempt and step spans (nil = no-op)
	Tracer trace.Tracer
	// Retry overrides the retry policy derived from the environment
	Retry *RetryPolicy
}

// Runner executes ScenarioInstances. Each attempt owns one PageSession that
// is opened for it and closed on every exit path.
type Runner struct {
	env       *models.Environment
	drivers   Drivers
	resolver  *locator.Resolver
	policy    *wait.Policy
	engine    *assertion.Engine
	collector *artifacts.Collector
	limiter   *rate.Limiter
	recorder  *metrics.Recorder
	tracer    trace.Tracer
	retry     *RetryPolicy
	logger    arbor.ILogger
}

// NewRunner creates a scenario runner for the environment
func NewRunner(env *models.Environment, drivers Drivers, collector *artifacts.Collector, opts Options, logger arbor.ILogger) *Runner {
	resolver := locator.NewResolver(logger)
	policy := wait.NewPolicy(env.Wait, resolver, logger)

	r := &Runner{
		env:       env,
		drivers:   drivers,
		resolver:  resolver,
		policy:    policy,
		engine:    assertion.NewEngine(env.Thresholds, resolver, policy, logger),
		collector: collector,
		limiter:   opts.Limiter,
		recorder:  opts.Recorder,
		tracer:    opts.Tracer,
		retry:     opts.Retry,
		logger:    logger,
	}
	if r.tracer == nil {
		r.tracer = noop.NewTracerProvider().Tracer("")
	}
	if r.retry == nil {
		r.retry = NewRetryPolicy(env.Retries)
	}
	if r.collector == nil {
		r.collector = artifacts.NewCollector(models.ArtifactSettings{}, logger)
	}
	return r
}

// NewLimiter builds the shared navigation limiter; rps <= 0 means unlimited
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Run executes one instance to a terminal status, re-running it from a fresh
// session up to the retry count while it fails or times out
func (r *Runner) Run(ctx context.Context, runID string, inst *models.ScenarioInstance) *models.ScenarioResult {
	result := &models.ScenarioResult{
		Instance:  inst.Ref(),
		StartedAt: time.Now(),
	}

	var last *attemptResult
	sawFailure := false
	for n := 1; ; n++ {
		if n > 1 {
			r.recorder.ObserveRetry()
			r.logger.Info().
				Str("instance", result.Instance.ID).
				Int("attempt", n).
				Str("previous", string(last.status)).
				Msg("Retrying scenario instance")
			if err := r.retry.Sleep(ctx, n-1); err != nil {
				break
			}
		}

		last = r.runAttempt(ctx, runID, inst, n)
		result.Attempts = n
		if last.bundle != nil {
			result.Artifacts = append(result.Artifacts, *last.bundle)
		}
		if last.status.Failing() {
			sawFailure = true
		}

		if !r.retry.ShouldRetry(ctx, n, last.status) {
			break
		}
	}

	result.Status = last.status
	result.ErrorKind = last.errorKind
	if last.err != nil {
		result.Error = last.err.Error()
	}
	result.Outcomes = last.outcomes
	result.Metrics = last.metrics
	result.Flaky = sawFailure && result.Status == models.StatusPassed
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	event := r.logger.Info()
	if result.Status.Failing() {
		event = r.logger.Warn()
	}
	event.
		Str("instance", result.Instance.ID).
		Str("status", string(result.Status)).
		Int("attempts", result.Attempts).
		Int("outcomes", len(result.Outcomes)).
		Dur("duration", result.Duration).
		Msg("Scenario instance finished")

	return result
}

// runAttempt runs one attempt, converting a panic anywhere below it into an
// infrastructure failure of this instance only
func (r *Runner) runAttempt(ctx context.Context, runID string, inst *models.ScenarioInstance, n int) *attemptResult {
	var res *attemptResult
	err := common.SafeCall(r.logger, "scenario "+inst.ID(), func() error {
		res = r.attempt(ctx, runID, inst, n)
		return nil
	})
	if err != nil {
		return &attemptResult{
			status:    models.StatusFailed,
			errorKind: models.ErrorKindInfrastructure,
			err:       fmt.Errorf("%w: %v", models.ErrInfrastructure, err),
		}
	}
	return res
}
