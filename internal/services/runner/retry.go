package runner

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/sitecheck/internal/models"
)

// RetryPolicy decides whether a finished attempt is re-run and how long to
// back off first. Every re-run starts from a fresh PageSession.
type RetryPolicy struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// NewRetryPolicy creates the default policy for the given retry count
func NewRetryPolicy(retries int) *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:        retries,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ShouldRetry reports whether attempt (1-based) with the given status gets
// another run. Passed and skipped attempts are final, as is any attempt once
// the suite context has ended.
func (p *RetryPolicy) ShouldRetry(ctx context.Context, attempt int, status models.ScenarioStatus) bool {
	if !status.Failing() {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return attempt <= p.MaxRetries
}

// CalculateBackoff calculates the backoff duration with exponential backoff and jitter
func (p *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
	backoff := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		backoff *= p.BackoffMultiplier
	}
	if backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}

	// Add jitter (±25%)
	jitter := backoff * 0.25 * (rand.Float64()*2 - 1)
	backoff += jitter

	if backoff < 0 {
		backoff = float64(p.InitialBackoff)
	}

	return time.Duration(backoff)
}

// Sleep waits for the attempt's backoff unless ctx ends first
func (p *RetryPolicy) Sleep(ctx context.Context, attempt int) error {
	backoff := p.CalculateBackoff(attempt)
	if backoff <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
