package models

import (
	"fmt"
	"strings"
)

// Locator is a semantic element description: alternative CSS selectors for
// the same element, optionally filtered by contained text.
type Locator struct {
	// Selectors are alternatives; matches are unioned in document order
	Selectors []string `json:"selectors" toml:"selectors" yaml:"selectors" validate:"required,min=1,dive,required"`
	// Text keeps only elements whose text content contains this value (case-insensitive)
	Text string `json:"text,omitempty" toml:"text" yaml:"text"`
	// Limit keeps only the first N matches (0 = all)
	Limit int `json:"limit,omitempty" toml:"limit" yaml:"limit" validate:"gte=0"`
}

// String renders the locator the way it appears in reports
func (l Locator) String() string {
	s := strings.Join(l.Selectors, ", ")
	if l.Text != "" {
		s += fmt.Sprintf(" :has-text(%q)", l.Text)
	}
	if l.Limit > 0 {
		s += fmt.Sprintf(" [first %d]", l.Limit)
	}
	return s
}

// StepKind is the kind of a scenario step
type StepKind string

const (
	StepNavigate StepKind = "navigate"
	StepInteract StepKind = "interact"
	StepWait     StepKind = "wait"
	StepAssert   StepKind = "assert"
	// StepConditional runs its nested steps only when its guard locator
	// resolves to at least one element; otherwise one skipped outcome is recorded.
	StepConditional StepKind = "conditional"
)

// Action is an interaction performed on the page
type Action string

const (
	ActionClick  Action = "click"
	ActionFill   Action = "fill"
	ActionPress  Action = "press"
	ActionResize Action = "resize"
)

// WaitKind is the condition awaited by the Wait Policy
type WaitKind string

const (
	WaitNetworkIdle WaitKind = "network_idle"
	WaitVisible     WaitKind = "visible"
	WaitDelay       WaitKind = "delay"
	WaitNone        WaitKind = "none"
)

// Step is one ordered unit of a scenario. Which fields apply depends on Kind.
type Step struct {
	Name string   `json:"name" toml:"name" yaml:"name"`
	Kind StepKind `json:"kind" toml:"kind" yaml:"kind" validate:"required,oneof=navigate interact wait assert conditional"`

	// navigate
	Path        string   `json:"path,omitempty" toml:"path" yaml:"path" validate:"required_if=Kind navigate"`
	Exploratory bool     `json:"exploratory,omitempty" toml:"exploratory" yaml:"exploratory"`
	AcceptBelow int      `json:"accept_below,omitempty" toml:"accept_below" yaml:"accept_below"`
	WaitUntil   WaitKind `json:"wait_until,omitempty" toml:"wait_until" yaml:"wait_until"`

	// interact
	Action Action   `json:"action,omitempty" toml:"action" yaml:"action" validate:"required_if=Kind interact,omitempty,oneof=click fill press resize"`
	Target *Locator `json:"target,omitempty" toml:"target" yaml:"target"`
	Value  string   `json:"value,omitempty" toml:"value" yaml:"value"`
	Width  int      `json:"width,omitempty" toml:"width" yaml:"width"`
	Height int      `json:"height,omitempty" toml:"height" yaml:"height"`

	// wait
	Wait     WaitKind `json:"wait,omitempty" toml:"wait" yaml:"wait" validate:"required_if=Kind wait,omitempty,oneof=network_idle visible delay"`
	Duration Duration `json:"duration,omitempty" toml:"duration" yaml:"duration"`

	// shared by interact and wait: bounded timeout, absence/timeout tolerated when Optional
	Timeout  Duration `json:"timeout,omitempty" toml:"timeout" yaml:"timeout"`
	Optional bool     `json:"optional,omitempty" toml:"optional" yaml:"optional"`

	// assert
	Assertion *Assertion `json:"assertion,omitempty" toml:"assertion" yaml:"assertion" validate:"required_if=Kind assert"`

	// conditional
	When  *Locator `json:"when,omitempty" toml:"when" yaml:"when" validate:"required_if=Kind conditional"`
	Steps []Step   `json:"steps,omitempty" toml:"steps" yaml:"steps" validate:"dive"`
}

// Label is the step's display name
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	switch s.Kind {
	case StepNavigate:
		return "navigate " + s.Path
	case StepInteract:
		if s.Target != nil {
			return fmt.Sprintf("%s %s", s.Action, s.Target)
		}
		return string(s.Action)
	case StepWait:
		return "wait " + string(s.Wait)
	case StepAssert:
		if s.Assertion != nil {
			return "assert " + s.Assertion.ID
		}
	case StepConditional:
		if s.When != nil {
			return "when " + s.When.String()
		}
	}
	return string(s.Kind)
}

// ScenarioDefinition is an authored, environment-independent test case.
// Definitions are immutable once loaded.
type ScenarioDefinition struct {
	ID          string   `json:"id" toml:"id" yaml:"id" validate:"required"`
	Group       string   `json:"group,omitempty" toml:"group" yaml:"group"`
	Description string   `json:"description,omitempty" toml:"description" yaml:"description"`
	Steps       []Step   `json:"steps" toml:"steps" yaml:"steps" validate:"required,min=1,dive"`
	Locales     []string `json:"locales,omitempty" toml:"locales" yaml:"locales"` // empty = all
	Devices     []string `json:"devices,omitempty" toml:"devices" yaml:"devices"` // empty = all
}

// AppliesToLocale reports whether the scenario is expanded for the locale
func (d *ScenarioDefinition) AppliesToLocale(code string) bool {
	return len(d.Locales) == 0 || contains(d.Locales, code)
}

// AppliesToDevice reports whether the scenario is expanded for the device
func (d *ScenarioDefinition) AppliesToDevice(name string) bool {
	return len(d.Devices) == 0 || contains(d.Devices, name)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
