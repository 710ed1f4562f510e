package models

// Presence decides how an absent target element is recorded
type Presence string

const (
	// PresenceOptional assertions are evaluated only when the target resolved to
	// at least one element; absence is recorded as skipped.
	PresenceOptional Presence = "optional"
	// PresenceMandatory assertions fail when the target is absent
	PresenceMandatory Presence = "mandatory"
)

// AssertionKind selects the predicate applied by the assertion engine
type AssertionKind string

const (
	// element predicates
	AssertVisible                AssertionKind = "visible"
	AssertAttached               AssertionKind = "attached"
	AssertAttributePresent       AssertionKind = "attribute_present"
	AssertAttributeNonEmpty      AssertionKind = "attribute_non_empty"
	AssertAttributeEquals        AssertionKind = "attribute_equals"
	AssertAttributeContains      AssertionKind = "attribute_contains"
	AssertAttributeValuesInclude AssertionKind = "attribute_values_include"
	AssertCountAbove             AssertionKind = "count_above"

	// page predicates
	AssertTitleMatches AssertionKind = "title_matches"
	AssertURLMatches   AssertionKind = "url_matches"
	AssertURLContains  AssertionKind = "url_contains"

	// numeric bounds over response metadata and session counters
	AssertStatusBelow        AssertionKind = "status_below"
	AssertLoadTimeBelow      AssertionKind = "load_time_below"
	AssertRequestCountBelow  AssertionKind = "request_count_below"
	AssertNotFoundCountBelow AssertionKind = "not_found_count_below"
	AssertConsoleErrorsBelow AssertionKind = "console_errors_below"
)

// NeedsTarget reports whether the kind evaluates resolved elements
func (k AssertionKind) NeedsTarget() bool {
	switch k {
	case AssertVisible, AssertAttached, AssertAttributePresent, AssertAttributeNonEmpty,
		AssertAttributeEquals, AssertAttributeContains, AssertAttributeValuesInclude, AssertCountAbove:
		return true
	}
	return false
}

// IsNumeric reports whether the kind compares a measured scalar to a threshold
func (k AssertionKind) IsNumeric() bool {
	switch k {
	case AssertStatusBelow, AssertLoadTimeBelow, AssertRequestCountBelow,
		AssertNotFoundCountBelow, AssertConsoleErrorsBelow, AssertCountAbove:
		return true
	}
	return false
}

// Assertion is one predicate with its expectation
type Assertion struct {
	ID       string        `json:"id" toml:"id" yaml:"id" validate:"required"`
	Kind     AssertionKind `json:"kind" toml:"kind" yaml:"kind" validate:"required"`
	Presence Presence      `json:"presence,omitempty" toml:"presence" yaml:"presence" validate:"omitempty,oneof=optional mandatory"`
	Target   *Locator      `json:"target,omitempty" toml:"target" yaml:"target"`

	// Attribute is the attribute name for attribute_* kinds
	Attribute string `json:"attribute,omitempty" toml:"attribute" yaml:"attribute"`
	// Expected is the comparison value for equals/contains kinds. The
	// placeholders {locale}, {hreflang} and {title} are filled from the instance.
	Expected string `json:"expected,omitempty" toml:"expected" yaml:"expected"`
	// Values must all be included for attribute_values_include
	Values []string `json:"values,omitempty" toml:"values" yaml:"values"`
	// Pattern is a regular expression for *_matches kinds
	Pattern string `json:"pattern,omitempty" toml:"pattern" yaml:"pattern"`
	// Threshold is the exclusive bound for numeric kinds; 0 uses the configured policy.
	// load_time_below reads it as milliseconds.
	Threshold float64 `json:"threshold,omitempty" toml:"threshold" yaml:"threshold"`
	// Timeout bounds visibility waits (default: the environment's wait timeout)
	Timeout Duration `json:"timeout,omitempty" toml:"timeout" yaml:"timeout"`
}

// Mandatory reports whether absence is a failure. Presence defaults to mandatory.
func (a *Assertion) Mandatory() bool {
	return a.Presence != PresenceOptional
}
