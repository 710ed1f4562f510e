package models

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimedOut is returned by every bounded wait that exceeds its budget
	ErrTimedOut = errors.New("timed out")
	// ErrInfrastructure marks failures of the harness itself (browser crash, driver unreachable)
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrNavigation marks a mandatory navigation with an unacceptable status or transport error
	ErrNavigation = errors.New("navigation failed")
	// ErrElementAbsent is returned by interactions whose target did not resolve
	ErrElementAbsent = errors.New("element absent")
	// ErrUnsupported is returned by drivers for operations the engine cannot perform
	ErrUnsupported = errors.New("unsupported operation")
)

// NavigationError describes a failed navigation
type NavigationError struct {
	URL    string
	Status int
	Err    error
}

func (e *NavigationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("navigation to %s failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("navigation to %s returned status %d", e.URL, e.Status)
}

func (e *NavigationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNavigation
}

// Is makes errors.Is(err, ErrNavigation) hold for every NavigationError
func (e *NavigationError) Is(target error) bool {
	return target == ErrNavigation
}

// InfrastructureError wraps a harness-side failure
type InfrastructureError struct {
	Engine Engine
	Op     string
	Err    error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Engine, e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

func (e *InfrastructureError) Is(target error) bool {
	return target == ErrInfrastructure
}

// IsTimeout reports whether err is a wait timeout or an expired context deadline
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimedOut) || errors.Is(err, context.DeadlineExceeded)
}

// IsInfrastructure reports whether err originates from the harness
func IsInfrastructure(err error) bool {
	var infra *InfrastructureError
	return errors.As(err, &infra) || errors.Is(err, ErrInfrastructure)
}
