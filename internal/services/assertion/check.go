package assertion

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/sitecheck/internal/models"
)

const absentObserved = "element absent"

// Check applies the predicate to an already measured subject. It performs no
// waiting; element reads use ctx.
func (e *Engine) Check(ctx context.Context, a *models.Assertion, s Subject) models.AssertionOutcome {
	outcome := newOutcome(a)

	if a.Kind.NeedsTarget() && len(s.Elements) == 0 {
		outcome.Observed = absentObserved
		if a.Mandatory() {
			outcome.Status = models.OutcomeFailed
			outcome.Expected = describeExpected(a)
			outcome.Message = fmt.Sprintf("mandatory element %s not found", targetString(a))
		} else {
			outcome.Status = models.OutcomeSkipped
			outcome.Message = "element absent - skipped"
		}
		return outcome
	}

	var pass bool
	var err error
	switch a.Kind {
	case models.AssertVisible:
		pass, err = e.checkVisible(ctx, s, &outcome)
	case models.AssertAttached:
		outcome.Expected = "attached"
		outcome.Observed = fmt.Sprintf("%d element(s)", len(s.Elements))
		pass = true
	case models.AssertAttributePresent, models.AssertAttributeNonEmpty,
		models.AssertAttributeEquals, models.AssertAttributeContains:
		pass, err = e.checkAttribute(ctx, a, s, &outcome)
	case models.AssertAttributeValuesInclude:
		pass, err = e.checkValuesInclude(ctx, a, s, &outcome)
	case models.AssertCountAbove:
		outcome.Expected = fmt.Sprintf("count > %s", formatNumber(a.Threshold))
		outcome.Observed = strconv.Itoa(len(s.Elements))
		pass = float64(len(s.Elements)) > a.Threshold
	case models.AssertTitleMatches:
		pass, err = matchPattern(a, s.Title, &outcome)
	case models.AssertURLMatches:
		pass, err = matchPattern(a, s.URL, &outcome)
	case models.AssertURLContains:
		outcome.Expected = fmt.Sprintf("contains %q", a.Expected)
		outcome.Observed = s.URL
		pass = strings.Contains(s.URL, a.Expected)
	case models.AssertStatusBelow:
		bound := a.Threshold
		if bound <= 0 {
			bound = 400
		}
		pass = below(float64(s.Status), bound, strconv.Itoa(s.Status), "status", &outcome)
	case models.AssertLoadTimeBelow:
		bound := a.Threshold
		if bound <= 0 {
			bound = float64(e.thresholds.MaxLoadTime / time.Millisecond)
		}
		ms := float64(s.LoadTime / time.Millisecond)
		pass = below(ms, bound, fmt.Sprintf("%.0f ms", ms), "load time (ms)", &outcome)
	case models.AssertRequestCountBelow:
		bound := thresholdOr(a.Threshold, e.thresholds.MaxRequests)
		pass = below(float64(s.Requests), bound, strconv.Itoa(s.Requests), "requests", &outcome)
	case models.AssertNotFoundCountBelow:
		bound := thresholdOr(a.Threshold, e.thresholds.MaxNotFound)
		outcome.Details = s.NotFound
		pass = below(float64(len(s.NotFound)), bound, strconv.Itoa(len(s.NotFound)), "404 responses", &outcome)
	case models.AssertConsoleErrorsBelow:
		bound := thresholdOr(a.Threshold, e.thresholds.MaxConsoleErrors)
		outcome.Details = s.ConsoleErrors
		if bound < 0 {
			// Record only
			outcome.Expected = "recorded"
			outcome.Observed = strconv.Itoa(len(s.ConsoleErrors))
			pass = true
		} else {
			pass = below(float64(len(s.ConsoleErrors)), bound, strconv.Itoa(len(s.ConsoleErrors)), "console errors", &outcome)
		}
	default:
		err = fmt.Errorf("unknown assertion kind %q", a.Kind)
	}

	if err != nil {
		outcome.Status = models.OutcomeFailed
		outcome.Message = err.Error()
		return outcome
	}

	outcome.Pass = pass
	if pass {
		outcome.Status = models.OutcomePassed
	} else {
		outcome.Status = models.OutcomeFailed
		if outcome.Message == "" {
			outcome.Message = fmt.Sprintf("expected %s, observed %s", outcome.Expected, outcome.Observed)
		}
	}
	return outcome
}

// checkVisible passes when any resolved element is visible
func (e *Engine) checkVisible(ctx context.Context, s Subject, outcome *models.AssertionOutcome) (bool, error) {
	outcome.Expected = "visible"
	outcome.Observed = "hidden"
	for _, el := range s.Elements {
		visible, err := el.Visible(ctx)
		if err != nil {
			return false, err
		}
		if visible {
			outcome.Observed = "visible"
			return true, nil
		}
	}
	return false, nil
}

// checkAttribute requires every resolved element to satisfy the predicate
func (e *Engine) checkAttribute(ctx context.Context, a *models.Assertion, s Subject, outcome *models.AssertionOutcome) (bool, error) {
	outcome.Expected = describeExpected(a)

	observed := make([]string, 0, len(s.Elements))
	pass := true
	for _, el := range s.Elements {
		value, present, err := el.Attribute(ctx, a.Attribute)
		if err != nil {
			return false, err
		}
		if !present {
			observed = append(observed, fmt.Sprintf("no %s attribute", a.Attribute))
			pass = false
			continue
		}
		observed = append(observed, value)

		switch a.Kind {
		case models.AssertAttributeNonEmpty:
			pass = pass && strings.TrimSpace(value) != ""
		case models.AssertAttributeEquals:
			pass = pass && value == a.Expected
		case models.AssertAttributeContains:
			pass = pass && strings.Contains(strings.ToLower(value), strings.ToLower(a.Expected))
		}
	}
	outcome.Observed = strings.Join(observed, ", ")
	return pass, nil
}

// checkValuesInclude collects the attribute across all elements and requires
// every expected value to be among them
func (e *Engine) checkValuesInclude(ctx context.Context, a *models.Assertion, s Subject, outcome *models.AssertionOutcome) (bool, error) {
	outcome.Expected = fmt.Sprintf("%s includes [%s]", a.Attribute, strings.Join(a.Values, ", "))

	var values []string
	have := make(map[string]bool)
	for _, el := range s.Elements {
		value, present, err := el.Attribute(ctx, a.Attribute)
		if err != nil {
			return false, err
		}
		if present {
			values = append(values, value)
			have[value] = true
		}
	}
	outcome.Observed = "[" + strings.Join(values, ", ") + "]"

	var missing []string
	for _, want := range a.Values {
		if !have[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		outcome.Message = fmt.Sprintf("missing %s", strings.Join(missing, ", "))
		return false, nil
	}
	return true, nil
}

func matchPattern(a *models.Assertion, value string, outcome *models.AssertionOutcome) (bool, error) {
	outcome.Expected = fmt.Sprintf("matches /%s/", a.Pattern)
	outcome.Observed = value
	re, err := regexp.Compile(a.Pattern)
	if err != nil {
		return false, fmt.Errorf("invalid pattern %q: %w", a.Pattern, err)
	}
	return re.MatchString(value), nil
}

func below(value, bound float64, observed, what string, outcome *models.AssertionOutcome) bool {
	outcome.Expected = fmt.Sprintf("%s < %s", what, formatNumber(bound))
	outcome.Observed = observed
	return value < bound
}

func thresholdOr(threshold float64, policy int) float64 {
	if threshold != 0 {
		return threshold
	}
	return float64(policy)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func describeExpected(a *models.Assertion) string {
	switch a.Kind {
	case models.AssertAttributePresent:
		return fmt.Sprintf("%s present", a.Attribute)
	case models.AssertAttributeNonEmpty:
		return fmt.Sprintf("%s non-empty", a.Attribute)
	case models.AssertAttributeEquals:
		return fmt.Sprintf("%s = %q", a.Attribute, a.Expected)
	case models.AssertAttributeContains:
		return fmt.Sprintf("%s contains %q", a.Attribute, a.Expected)
	case models.AssertVisible:
		return "visible"
	}
	return "present"
}

func targetString(a *models.Assertion) string {
	if a.Target == nil {
		return "<none>"
	}
	return a.Target.String()
}
