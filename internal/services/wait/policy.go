package wait

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/locator"
)

// Condition is one condition the policy can await
type Condition struct {
	Kind    models.WaitKind
	Target  *models.Locator // visible
	Delay   time.Duration   // delay
	Timeout time.Duration   // 0 = policy default
}

// Policy blocks a scenario until a condition holds. Every wait is bounded;
// exceeding the bound returns an error wrapping models.ErrTimedOut.
// Cancellation of the caller's context ends the wait immediately.
type Policy struct {
	settings models.WaitSettings
	resolver *locator.Resolver
	logger   arbor.ILogger
}

// NewPolicy creates a wait policy
func NewPolicy(settings models.WaitSettings, resolver *locator.Resolver, logger arbor.ILogger) *Policy {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 50 * time.Millisecond
	}
	if settings.DefaultTimeout <= 0 {
		settings.DefaultTimeout = 10 * time.Second
	}
	return &Policy{settings: settings, resolver: resolver, logger: logger}
}

// Settings returns the policy bounds
func (p *Policy) Settings() models.WaitSettings {
	return p.settings
}

// Await blocks until cond holds or its timeout elapses
func (p *Policy) Await(ctx context.Context, page interfaces.PageSession, cond Condition) error {
	switch cond.Kind {
	case models.WaitNetworkIdle:
		return p.NetworkIdle(ctx, page, cond.Timeout)
	case models.WaitVisible:
		if cond.Target == nil {
			return fmt.Errorf("visible wait without target")
		}
		_, err := p.Visible(ctx, page, *cond.Target, cond.Timeout)
		return err
	case models.WaitDelay:
		return p.Delay(ctx, cond.Delay)
	case models.WaitNone, "":
		return nil
	}
	return fmt.Errorf("unknown wait condition %q", cond.Kind)
}

func (p *Policy) bound(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return p.settings.DefaultTimeout
	}
	return timeout
}

// NetworkIdle waits until no request has been in flight for the quiescence
// window
func (p *Policy) NetworkIdle(ctx context.Context, page interfaces.PageSession, timeout time.Duration) error {
	timeout = p.bound(timeout)
	quiet := p.settings.NetworkIdleQuiet
	events := page.Events()

	return p.poll(ctx, timeout, "network idle", func() (bool, error) {
		if events.InFlight() > 0 {
			return false, nil
		}
		return time.Since(events.LastActivity()) >= quiet, nil
	})
}

// Visible waits until the locator resolves to at least one visible element and
// returns the resolved elements
func (p *Policy) Visible(ctx context.Context, page interfaces.PageSession, loc models.Locator, timeout time.Duration) ([]interfaces.Element, error) {
	timeout = p.bound(timeout)
	var found []interfaces.Element

	err := p.poll(ctx, timeout, "visible "+loc.String(), func() (bool, error) {
		elements, err := p.resolver.Resolve(ctx, page, loc)
		if err != nil {
			return false, err
		}
		for _, el := range elements {
			visible, err := el.Visible(ctx)
			if err != nil {
				return false, err
			}
			if visible {
				found = elements
				return true, nil
			}
		}
		return false, nil
	})
	return found, err
}

// Delay sleeps for d unless the context ends first
func (p *Policy) Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("delay %s: %w", d, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Until polls check until it holds or the bound (default when 0) is exceeded
func (p *Policy) Until(ctx context.Context, timeout time.Duration, what string, check func() (bool, error)) error {
	return p.poll(ctx, p.bound(timeout), what, check)
}

// poll evaluates check until it reports true, check fails, or the bound is
// exceeded
func (p *Policy) poll(ctx context.Context, timeout time.Duration, what string, check func() (bool, error)) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(p.settings.PollInterval)
	defer ticker.Stop()

	started := time.Now()
	for {
		ok, err := check()
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return fmt.Errorf("%s after %s: %w", what, timeout, models.ErrTimedOut)
			}
			return err
		}
		if ok {
			p.logger.Trace().Str("condition", what).Dur("waited", time.Since(started)).Msg("Wait satisfied")
			return nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				// The enclosing attempt or suite deadline ended the wait
				return fmt.Errorf("%s: %w: %w", what, models.ErrTimedOut, ctx.Err())
			}
			return fmt.Errorf("%s after %s: %w", what, timeout, models.ErrTimedOut)
		case <-ticker.C:
		}
	}
}
