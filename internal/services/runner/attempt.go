package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/artifacts"
	"github.com/ternarybob/sitecheck/internal/services/assertion"
	"github.com/ternarybob/sitecheck/internal/services/telemetry"
	"github.com/ternarybob/sitecheck/internal/services/wait"
)

// State is a scenario attempt's position in its lifecycle
type State string

const (
	StateInitialized State = "initialized"
	StateNavigating  State = "navigating"
	StateInteracting State = "interacting"
	StateAsserting   State = "asserting"
	StateFinalizing  State = "finalizing"
	StatePassed      State = "passed"
	StateFailed      State = "failed"
	StateTimedOut    State = "timed_out"
)

const (
	defaultAcceptBelow     = 400
	exploratoryAcceptBelow = 500
)

// errAborted stops the remaining steps of an attempt
var errAborted = errors.New("attempt aborted")

type attemptResult struct {
	status    models.ScenarioStatus
	errorKind models.ErrorKind
	err       error
	outcomes  []models.AssertionOutcome
	metrics   models.PageMetrics
	bundle    *models.ArtifactBundle
}

// attempt is the state of one run of one instance on one PageSession
type attempt struct {
	r    *Runner
	inst *models.ScenarioInstance
	ref  models.InstanceRef
	n    int
	page interfaces.PageSession
	vars map[string]string

	state    State
	outcomes []models.AssertionOutcome
	steps    []models.StepRecord

	measure     assertion.Measurements
	navFailed   bool
	timedOut    bool
	infraFailed bool
	// cutShort is set when the attempt or suite deadline ended a step; the
	// instance is then timed out whatever else it recorded
	cutShort bool
	err      error
	// stepErr is the error of the step currently recorded in the timeline
	stepErr error
}

func (a *attempt) transition(to State) {
	if a.state == to {
		return
	}
	a.r.logger.Trace().
		Str("instance", a.ref.ID).
		Int("attempt", a.n).
		Str("from", string(a.state)).
		Str("to", string(to)).
		Msg("State transition")
	a.state = to
}

// attempt runs Initialized -> steps -> Finalizing -> terminal for one fresh
// PageSession
func (r *Runner) attempt(ctx context.Context, runID string, inst *models.ScenarioInstance, n int) *attemptResult {
	ref := inst.Ref()

	ctx, span := r.tracer.Start(ctx, "scenario.attempt", trace.WithAttributes(
		telemetry.AttrRunID.String(runID),
		telemetry.AttrInstance.String(ref.ID),
		telemetry.AttrScenario.String(ref.Scenario),
		telemetry.AttrEngine.String(string(ref.Engine)),
		telemetry.AttrDevice.String(ref.Device),
		telemetry.AttrLocale.String(ref.Locale),
		telemetry.AttrAttempt.Int(n),
	))
	defer span.End()

	if r.env.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.env.Timeout)
		defer cancel()
	}

	// A suite deadline that passed while waiting for a worker or backoff
	if err := ctx.Err(); err != nil {
		return &attemptResult{
			status:    models.StatusTimedOut,
			errorKind: models.ErrorKindTimeout,
			err:       fmt.Errorf("not started: %w", err),
		}
	}

	driver, err := r.drivers.Driver(inst.Engine)
	if err != nil {
		return &attemptResult{
			status:    models.StatusFailed,
			errorKind: models.ErrorKindInfrastructure,
			err:       &models.InfrastructureError{Engine: inst.Engine, Op: "driver", Err: err},
		}
	}

	dir := r.collector.AttemptDir(runID, ref, n)
	page, err := driver.NewSession(ctx, interfaces.SessionOptions{
		Engine:      inst.Engine,
		Device:      inst.Device,
		Locale:      inst.Locale,
		ArtifactDir: dir,
		RecordVideo: r.collector.RecordVideo(),
		Trace:       r.collector.RecordTrace(),
	})
	if err != nil {
		res := &attemptResult{status: models.StatusFailed, errorKind: models.ErrorKindInfrastructure, err: err}
		if !models.IsInfrastructure(err) {
			res.err = &models.InfrastructureError{Engine: inst.Engine, Op: "new session", Err: err}
		}
		if models.IsTimeout(err) {
			res.status, res.errorKind = models.StatusTimedOut, models.ErrorKindTimeout
		}
		span.SetStatus(codes.Error, res.err.Error())
		return res
	}

	a := &attempt{
		r:     r,
		inst:  inst,
		ref:   ref,
		n:     n,
		page:  page,
		vars:  assertion.Vars(inst.Locale),
		state: StateInitialized,
	}

	closed := false
	closePage := func() {
		if closed {
			return
		}
		closed = true
		if err := page.Close(); err != nil {
			r.logger.Warn().Err(err).Str("instance", ref.ID).Msg("Failed to close page session")
		}
	}
	defer closePage()

	a.runSteps(ctx, inst.Definition.Steps)

	a.transition(StateFinalizing)
	res := &attemptResult{
		outcomes: a.outcomes,
		metrics:  a.metrics(),
	}
	res.status, res.errorKind = a.terminal()
	res.err = a.err

	if res.status.Failing() {
		// The page is still open; capture runs on a context detached from the
		// expired attempt deadline but bounded on its own
		captureCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.policy.Settings().DefaultTimeout)
		bundle := r.collector.Capture(captureCtx, page, artifacts.Capture{
			Instance: ref,
			Attempt:  n,
			Dir:      dir,
			Error:    errString(a.err),
			Steps:    a.steps,
			Outcomes: a.outcomes,
		})
		cancel()
		closePage()
		r.collector.AttachVideo(page, &bundle)
		if bundle.Screenshot != "" || bundle.Trace != "" || bundle.Video != "" || len(bundle.Errors) > 0 {
			res.bundle = &bundle
		}
		span.SetStatus(codes.Error, string(res.status))
	} else {
		closePage()
		if r.collector.RecordVideo() || r.collector.RecordTrace() {
			r.collector.Discard(dir)
		}
	}

	switch res.status {
	case models.StatusPassed:
		a.transition(StatePassed)
	case models.StatusTimedOut:
		a.transition(StateTimedOut)
	default:
		a.transition(StateFailed)
	}
	span.SetAttributes(telemetry.AttrStatus.String(string(res.status)))

	return res
}

// terminal applies the status rule: infrastructure and navigation failures
// give failed, an expired deadline gives timed_out, then failed outcomes give
// failed and step timeouts give timed_out
func (a *attempt) terminal() (models.ScenarioStatus, models.ErrorKind) {
	failedOutcome, timedOutcome := false, false
	for _, o := range a.outcomes {
		switch o.Status {
		case models.OutcomeFailed:
			failedOutcome = true
		case models.OutcomeTimedOut:
			timedOutcome = true
		}
	}

	switch {
	case a.infraFailed:
		return models.StatusFailed, models.ErrorKindInfrastructure
	case a.navFailed:
		return models.StatusFailed, models.ErrorKindNavigation
	case a.cutShort:
		return models.StatusTimedOut, models.ErrorKindTimeout
	case failedOutcome:
		return models.StatusFailed, models.ErrorKindAssertion
	case timedOutcome || a.timedOut:
		if a.err == nil {
			a.err = models.ErrTimedOut
		}
		return models.StatusTimedOut, models.ErrorKindTimeout
	}
	return models.StatusPassed, models.ErrorKindNone
}

func (a *attempt) metrics() models.PageMetrics {
	events := a.page.Events()
	return models.PageMetrics{
		Status:        a.measure.Status,
		LoadTime:      a.measure.LoadTime,
		Requests:      events.Requests(),
		NotFound:      len(events.NotFound()),
		ConsoleErrors: len(events.ConsoleErrors()),
	}
}

// runSteps executes steps strictly in order. It returns errAborted when the
// attempt cannot continue.
func (a *attempt) runSteps(ctx context.Context, steps []models.Step) error {
	for i := range steps {
		step := &steps[i]
		if err := ctx.Err(); err != nil {
			a.timedOut = true
			a.cutShort = true
			a.setErr(fmt.Errorf("%w before %s: %w", models.ErrTimedOut, step.Label(), err))
			return errAborted
		}
		if err := a.runStep(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (a *attempt) runStep(ctx context.Context, step *models.Step) error {
	ctx, span := a.r.tracer.Start(ctx, "step "+string(step.Kind), trace.WithAttributes(
		telemetry.AttrStepKind.String(string(step.Kind)),
	))
	defer span.End()

	record := models.StepRecord{Step: step.Label(), Kind: step.Kind, Started: time.Now()}
	a.stepErr = nil
	var err error
	switch step.Kind {
	case models.StepNavigate:
		a.transition(StateNavigating)
		err = a.navigate(ctx, step)
	case models.StepInteract:
		a.transition(StateInteracting)
		err = a.interact(ctx, step)
	case models.StepWait:
		a.transition(StateInteracting)
		err = a.wait(ctx, step)
	case models.StepAssert:
		a.transition(StateAsserting)
		err = a.assert(ctx, step)
	case models.StepConditional:
		err = a.conditional(ctx, step)
	default:
		err = fmt.Errorf("unknown step kind %q", step.Kind)
		a.fail(step, err)
	}
	record.Duration = time.Since(record.Started)
	if a.stepErr != nil {
		record.Error = a.stepErr.Error()
		span.SetStatus(codes.Error, record.Error)
	}
	a.steps = append(a.steps, record)
	return err
}

// navigate loads the step path, checks the document status and settles the
// page. Load time runs from navigation start until network idle.
func (a *attempt) navigate(ctx context.Context, step *models.Step) error {
	path := assertion.ExpandString(step.Path, a.vars)
	url, err := a.r.env.ResolveURL(path)
	if err != nil {
		a.fail(step, err)
		a.navFailed = true
		return errAborted
	}

	if a.r.limiter != nil {
		if err := a.r.limiter.Wait(ctx); err != nil {
			return a.abortOnContext(step, err)
		}
	}

	started := time.Now()
	nav, err := a.page.Navigate(ctx, url)
	if err != nil {
		switch {
		case models.IsInfrastructure(err):
			a.infraFailed = true
		case ctx.Err() != nil:
			a.timedOut = true
			a.cutShort = true
		case models.IsTimeout(err):
			a.timedOut = true
		default:
			a.navFailed = true
		}
		a.record(step, models.AssertionOutcome{
			ID:        "navigate " + path,
			Kind:      models.AssertStatusBelow,
			Status:    statusFor(a.timedOut),
			Mandatory: true,
			Observed:  "no response",
			Message:   err.Error(),
		})
		a.setErr(err)
		return errAborted
	}

	trace.SpanFromContext(ctx).SetAttributes(
		telemetry.AttrURL.String(nav.URL),
		telemetry.AttrHTTPCode.Int(nav.Status),
	)

	accept := step.AcceptBelow
	if accept <= 0 {
		accept = defaultAcceptBelow
		if step.Exploratory {
			accept = exploratoryAcceptBelow
		}
	}

	outcome := models.AssertionOutcome{
		ID:        "navigate " + path,
		Kind:      models.AssertStatusBelow,
		Mandatory: true,
		Expected:  "status < " + strconv.Itoa(accept),
		Observed:  strconv.Itoa(nav.Status),
	}
	if nav.Status >= accept {
		outcome.Status = models.OutcomeFailed
		outcome.Message = fmt.Sprintf("%s returned status %d", nav.URL, nav.Status)
		a.record(step, outcome)
		a.navFailed = true
		a.setErr(&models.NavigationError{URL: nav.URL, Status: nav.Status})
		return errAborted
	}
	outcome.Status = models.OutcomePassed
	outcome.Pass = true
	a.record(step, outcome)

	settle := step.WaitUntil
	if settle == "" {
		settle = models.WaitNetworkIdle
	}
	if settle == models.WaitNetworkIdle {
		if err := a.r.policy.NetworkIdle(ctx, a.page, step.Timeout.D()); err != nil {
			a.measure = assertion.Measurements{Status: nav.Status, LoadTime: time.Since(started)}
			return a.waitFailed(ctx, step, err)
		}
	}

	a.measure = assertion.Measurements{Status: nav.Status, LoadTime: time.Since(started)}
	a.r.logger.Debug().
		Str("instance", a.ref.ID).
		Str("url", nav.URL).
		Int("status", nav.Status).
		Dur("load_time", a.measure.LoadTime).
		Msg("Navigated")
	return nil
}

// interact performs one action. The target must become visible within the
// step timeout; afterwards the page is given the chance to settle.
func (a *attempt) interact(ctx context.Context, step *models.Step) error {
	if step.Action == models.ActionResize {
		if err := a.page.SetViewport(ctx, step.Width, step.Height); err != nil {
			return a.actionFailed(ctx, step, err)
		}
		if err := a.r.policy.Delay(ctx, step.Duration.D()); err != nil {
			return a.abortOnContext(step, err)
		}
		return nil
	}

	if step.Target == nil {
		a.fail(step, fmt.Errorf("%s without target", step.Action))
		return errAborted
	}

	elements, err := a.r.policy.Visible(ctx, a.page, *step.Target, step.Timeout.D())
	if err != nil {
		if step.Optional && errors.Is(err, models.ErrTimedOut) && ctx.Err() == nil {
			a.skip(step, step.Label(), "element absent - skipped")
			return nil
		}
		return a.waitFailed(ctx, step, err)
	}

	el := elements[0]
	for _, candidate := range elements {
		if visible, verr := candidate.Visible(ctx); verr == nil && visible {
			el = candidate
			break
		}
	}

	value := assertion.ExpandString(step.Value, a.vars)
	switch step.Action {
	case models.ActionClick:
		err = el.Click(ctx)
	case models.ActionFill:
		err = el.Fill(ctx, value)
	case models.ActionPress:
		err = el.Press(ctx, value)
	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		return a.actionFailed(ctx, step, err)
	}

	// Side effects of the action must be observable before the next step.
	// A page that never goes idle does not fail the interaction.
	if err := a.r.policy.NetworkIdle(ctx, a.page, step.Timeout.D()); err != nil {
		if ctx.Err() != nil {
			return a.abortOnContext(step, err)
		}
		a.r.logger.Debug().Err(err).Str("step", step.Label()).Msg("Page did not settle after interaction")
	}
	return nil
}

func (a *attempt) wait(ctx context.Context, step *models.Step) error {
	err := a.r.policy.Await(ctx, a.page, wait.Condition{
		Kind:    step.Wait,
		Target:  step.Target,
		Delay:   step.Duration.D(),
		Timeout: step.Timeout.D(),
	})
	if err == nil {
		return nil
	}
	if step.Optional && errors.Is(err, models.ErrTimedOut) && ctx.Err() == nil {
		a.skip(step, step.Label(), "condition not reached - skipped")
		return nil
	}
	return a.waitFailed(ctx, step, err)
}

// assert evaluates one assertion. Failures are recorded and never stop the
// remaining steps; only a broken session or an ended context does.
func (a *attempt) assert(ctx context.Context, step *models.Step) error {
	if step.Assertion == nil {
		a.fail(step, fmt.Errorf("assert step without assertion"))
		return nil
	}

	expanded := assertion.Expand(step.Assertion, a.vars)
	outcome, err := a.r.engine.Evaluate(ctx, a.page, expanded, a.measure)
	a.record(step, outcome)
	trace.SpanFromContext(ctx).AddEvent("assertion", trace.WithAttributes(
		telemetry.AttrAssertion.String(outcome.ID),
		telemetry.AttrStatus.String(string(outcome.Status)),
	))
	if err == nil {
		return nil
	}

	switch {
	case ctx.Err() != nil:
		a.timedOut = true
		a.cutShort = true
		a.setErr(err)
		return errAborted
	case models.IsInfrastructure(err):
		a.infraFailed = true
		a.setErr(err)
		return errAborted
	}
	return nil
}

// conditional runs nested steps only when the guard resolves; otherwise one
// skipped outcome stands for the whole block
func (a *attempt) conditional(ctx context.Context, step *models.Step) error {
	elements, err := a.r.resolver.Resolve(ctx, a.page, *step.When)
	if err != nil {
		if ctx.Err() != nil {
			return a.abortOnContext(step, err)
		}
		a.infraFailed = models.IsInfrastructure(err)
		a.fail(step, err)
		return errAborted
	}
	if len(elements) == 0 {
		a.skip(step, step.Label(), "element absent - skipped")
		return nil
	}
	return a.runSteps(ctx, step.Steps)
}

// waitFailed records a failed bounded wait. A timeout marks the attempt
// timed out; the remaining steps depend on it and are not run.
func (a *attempt) waitFailed(ctx context.Context, step *models.Step, err error) error {
	status := models.OutcomeFailed
	switch {
	case ctx.Err() != nil:
		status = models.OutcomeTimedOut
		a.timedOut = true
		a.cutShort = true
	case models.IsTimeout(err):
		status = models.OutcomeTimedOut
		a.timedOut = true
	case models.IsInfrastructure(err):
		a.infraFailed = true
	}
	a.record(step, models.AssertionOutcome{
		ID:        step.Label(),
		Status:    status,
		Mandatory: true,
		Message:   err.Error(),
	})
	a.setErr(err)
	return errAborted
}

func (a *attempt) actionFailed(ctx context.Context, step *models.Step, err error) error {
	if ctx.Err() != nil {
		return a.abortOnContext(step, err)
	}
	if models.IsInfrastructure(err) {
		a.infraFailed = true
	}
	a.fail(step, err)
	return errAborted
}

func (a *attempt) abortOnContext(step *models.Step, err error) error {
	a.timedOut = true
	a.cutShort = true
	a.record(step, models.AssertionOutcome{
		ID:        step.Label(),
		Status:    models.OutcomeTimedOut,
		Mandatory: true,
		Message:   err.Error(),
	})
	a.setErr(err)
	return errAborted
}

func (a *attempt) fail(step *models.Step, err error) {
	a.record(step, models.AssertionOutcome{
		ID:        step.Label(),
		Status:    models.OutcomeFailed,
		Mandatory: true,
		Message:   err.Error(),
	})
	a.stepErr = err
	if a.err == nil {
		a.err = err
	}
}

// setErr makes err the attempt error and the current step's error
func (a *attempt) setErr(err error) {
	a.err = err
	a.stepErr = err
}

func (a *attempt) skip(step *models.Step, id, message string) {
	a.record(step, models.AssertionOutcome{
		ID:       id,
		Status:   models.OutcomeSkipped,
		Observed: "element absent",
		Message:  message,
	})
}

// record appends an outcome; outcomes are append-only within an attempt
func (a *attempt) record(step *models.Step, o models.AssertionOutcome) {
	if o.Step == "" {
		o.Step = step.Label()
	}
	a.outcomes = append(a.outcomes, o)
}

func statusFor(timedOut bool) models.OutcomeStatus {
	if timedOut {
		return models.OutcomeTimedOut
	}
	return models.OutcomeFailed
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
