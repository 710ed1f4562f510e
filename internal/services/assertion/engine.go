package assertion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/locator"
	"github.com/ternarybob/sitecheck/internal/services/wait"
)

// Subject is what an assertion is evaluated against: the resolved target
// elements and the page/response metadata measured by the runner
type Subject struct {
	Elements      []interfaces.Element
	URL           string
	Title         string
	Status        int
	LoadTime      time.Duration
	Requests      int
	NotFound      []string
	ConsoleErrors []string
}

// Measurements are the navigation-derived values the page itself cannot report
type Measurements struct {
	Status   int
	LoadTime time.Duration
}

// Engine evaluates assertions. Numeric kinds without their own threshold use
// the configured policy bounds.
type Engine struct {
	thresholds models.Thresholds
	resolver   *locator.Resolver
	policy     *wait.Policy
	logger     arbor.ILogger
}

// NewEngine creates an assertion engine
func NewEngine(thresholds models.Thresholds, resolver *locator.Resolver, policy *wait.Policy, logger arbor.ILogger) *Engine {
	return &Engine{
		thresholds: thresholds,
		resolver:   resolver,
		policy:     policy,
		logger:     logger,
	}
}

// Evaluate resolves the assertion's target on the page, waits where the kind
// calls for it, and checks the predicate. The returned error is non-nil only
// when the page itself failed (closed session, cancelled context); the
// outcome is always filled in.
func (e *Engine) Evaluate(ctx context.Context, page interfaces.PageSession, a *models.Assertion, m Measurements) (models.AssertionOutcome, error) {
	events := page.Events()
	subject := Subject{
		Status:        m.Status,
		LoadTime:      m.LoadTime,
		Requests:      events.Requests(),
		NotFound:      events.NotFound(),
		ConsoleErrors: events.ConsoleErrors(),
	}

	var err error
	switch a.Kind {
	case models.AssertTitleMatches, models.AssertURLMatches, models.AssertURLContains:
		err = e.awaitPage(ctx, page, a, &subject)
	default:
		if a.Kind.NeedsTarget() {
			subject.Elements, err = e.resolveTarget(ctx, page, a)
		}
	}
	if err != nil {
		outcome := newOutcome(a)
		outcome.Status = models.OutcomeFailed
		if models.IsTimeout(err) {
			outcome.Status = models.OutcomeTimedOut
		}
		outcome.Message = err.Error()
		return outcome, err
	}

	outcome := e.Check(ctx, a, subject)
	e.logger.Debug().
		Str("assertion", a.ID).
		Str("status", string(outcome.Status)).
		Str("observed", outcome.Observed).
		Msg("Assertion evaluated")
	return outcome, nil
}

// resolveTarget resolves the target. Visibility checks and absent mandatory
// targets get up to the assertion timeout to settle; an absent optional
// target is never waited for.
func (e *Engine) resolveTarget(ctx context.Context, page interfaces.PageSession, a *models.Assertion) ([]interfaces.Element, error) {
	if a.Target == nil {
		return nil, fmt.Errorf("assertion %s has no target", a.ID)
	}

	elements, err := e.resolver.Resolve(ctx, page, *a.Target)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 && !a.Mandatory() {
		return nil, nil
	}

	var werr error
	switch {
	case a.Kind == models.AssertVisible:
		_, werr = e.policy.Visible(ctx, page, *a.Target, a.Timeout.D())
	case len(elements) == 0 && a.Timeout > 0:
		werr = e.policy.Until(ctx, a.Timeout.D(), "attached "+a.Target.String(), func() (bool, error) {
			found, rerr := e.resolver.Resolve(ctx, page, *a.Target)
			return len(found) > 0, rerr
		})
	default:
		return elements, nil
	}

	// A bound that elapsed is not an error here: the predicate is evaluated
	// against whatever the page shows now
	if werr != nil && (!errors.Is(werr, models.ErrTimedOut) || ctx.Err() != nil) {
		return nil, werr
	}
	return e.resolver.Resolve(ctx, page, *a.Target)
}

// awaitPage reads title and URL, polling until the predicate holds when the
// assertion carries a timeout
func (e *Engine) awaitPage(ctx context.Context, page interfaces.PageSession, a *models.Assertion, subject *Subject) error {
	read := func() error {
		var err error
		if subject.URL, err = page.URL(ctx); err != nil {
			return err
		}
		subject.Title, err = page.Title(ctx)
		return err
	}
	if err := read(); err != nil {
		return err
	}
	if a.Timeout <= 0 || e.Check(ctx, a, *subject).Pass {
		return nil
	}

	werr := e.policy.Until(ctx, a.Timeout.D(), string(a.Kind), func() (bool, error) {
		if err := read(); err != nil {
			return false, err
		}
		return e.Check(ctx, a, *subject).Pass, nil
	})
	if werr != nil && (!errors.Is(werr, models.ErrTimedOut) || ctx.Err() != nil) {
		return werr
	}
	return nil
}

func newOutcome(a *models.Assertion) models.AssertionOutcome {
	return models.AssertionOutcome{
		ID:        a.ID,
		Kind:      a.Kind,
		Mandatory: a.Mandatory(),
	}
}
