package assertion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/browser"
	"github.com/ternarybob/sitecheck/internal/services/locator"
	"github.com/ternarybob/sitecheck/internal/services/wait"
)

// fakeElement is an in-memory element with fixed attributes
type fakeElement struct {
	ordinal int
	attrs   map[string]string
	text    string
	hidden  bool
}

func (e *fakeElement) Ordinal() int                              { return e.ordinal }
func (e *fakeElement) Text(ctx context.Context) (string, error)  { return e.text, nil }
func (e *fakeElement) Visible(ctx context.Context) (bool, error) { return !e.hidden, nil }
func (e *fakeElement) Click(ctx context.Context) error           { return nil }
func (e *fakeElement) Fill(ctx context.Context, v string) error  { return nil }
func (e *fakeElement) Press(ctx context.Context, k string) error { return nil }

func (e *fakeElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, ok := e.attrs[name]
	return v, ok, nil
}

func elementsWith(attr string, values ...string) []interfaces.Element {
	out := make([]interfaces.Element, len(values))
	for i, v := range values {
		out[i] = &fakeElement{ordinal: i, attrs: map[string]string{attr: v}}
	}
	return out
}

// Test helper - newTestEngine builds an engine with the default policy bounds
func newTestEngine() *Engine {
	logger := arbor.NewLogger()
	resolver := locator.NewResolver(logger)
	policy := wait.NewPolicy(models.WaitSettings{
		NetworkIdleQuiet: 10 * time.Millisecond,
		DefaultTimeout:   200 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
	}, resolver, logger)
	return NewEngine(models.Thresholds{
		MaxLoadTime:      5 * time.Second,
		MaxRequests:      100,
		MaxNotFound:      1,
		MaxConsoleErrors: -1,
	}, resolver, policy, logger)
}

var hreflangLinks = &models.Locator{Selectors: []string{`link[rel="alternate"][hreflang]`}}

func TestCheck_LoadTime(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()
	a := &models.Assertion{ID: "load-time", Kind: models.AssertLoadTimeBelow}

	fast := engine.Check(ctx, a, Subject{LoadTime: 4200 * time.Millisecond})
	assert.Equal(t, models.OutcomePassed, fast.Status)
	assert.True(t, fast.Pass)
	assert.Equal(t, "4200 ms", fast.Observed)

	slow := engine.Check(ctx, a, Subject{LoadTime: 5200 * time.Millisecond})
	assert.Equal(t, models.OutcomeFailed, slow.Status)
	assert.False(t, slow.Pass)
	assert.Equal(t, "load time (ms) < 5000", slow.Expected)

	// An assertion's own threshold wins over the policy bound
	strict := &models.Assertion{ID: "load-time", Kind: models.AssertLoadTimeBelow, Threshold: 3000}
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, strict, Subject{LoadTime: 4200 * time.Millisecond}).Status)
}

func TestCheck_HrefLangValuesInclude(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()
	elements := elementsWith("hreflang", "de-DE", "en-US", "fr-FR")

	present := engine.Check(ctx, &models.Assertion{
		ID:        "hreflang",
		Kind:      models.AssertAttributeValuesInclude,
		Target:    hreflangLinks,
		Attribute: "hreflang",
		Values:    []string{"en-US"},
	}, Subject{Elements: elements})
	assert.Equal(t, models.OutcomePassed, present.Status)
	assert.Equal(t, "[de-DE, en-US, fr-FR]", present.Observed)

	missing := engine.Check(ctx, &models.Assertion{
		ID:        "hreflang",
		Kind:      models.AssertAttributeValuesInclude,
		Target:    hreflangLinks,
		Attribute: "hreflang",
		Values:    []string{"es-ES"},
	}, Subject{Elements: elements})
	assert.Equal(t, models.OutcomeFailed, missing.Status)
	assert.Equal(t, "missing es-ES", missing.Message)
}

func TestCheck_AbsentTarget(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	optional := engine.Check(ctx, &models.Assertion{
		ID:       "nav",
		Kind:     models.AssertVisible,
		Presence: models.PresenceOptional,
		Target:   &models.Locator{Selectors: []string{"nav", ".navigation", ".menu"}},
	}, Subject{})
	assert.Equal(t, models.OutcomeSkipped, optional.Status)
	assert.False(t, optional.Failing())
	assert.Equal(t, "element absent", optional.Observed)

	mandatory := engine.Check(ctx, &models.Assertion{
		ID:     "body",
		Kind:   models.AssertVisible,
		Target: &models.Locator{Selectors: []string{"body"}},
	}, Subject{})
	assert.Equal(t, models.OutcomeFailed, mandatory.Status)
	assert.True(t, mandatory.Mandatory)
	assert.Contains(t, mandatory.Message, "mandatory element body not found")
}

func TestCheck_AttributePredicates(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()
	html := &models.Locator{Selectors: []string{"html"}}

	tests := []struct {
		name     string
		kind     models.AssertionKind
		expected string
		value    string
		want     models.OutcomeStatus
	}{
		{name: "contains is case-insensitive", kind: models.AssertAttributeContains, expected: "de", value: "de-DE", want: models.OutcomePassed},
		{name: "contains mismatch", kind: models.AssertAttributeContains, expected: "fr", value: "de-DE", want: models.OutcomeFailed},
		{name: "equals", kind: models.AssertAttributeEquals, expected: "de-DE", value: "de-DE", want: models.OutcomePassed},
		{name: "equals mismatch", kind: models.AssertAttributeEquals, expected: "de", value: "de-DE", want: models.OutcomeFailed},
		{name: "non-empty", kind: models.AssertAttributeNonEmpty, value: "de-DE", want: models.OutcomePassed},
		{name: "blank is empty", kind: models.AssertAttributeNonEmpty, value: "  ", want: models.OutcomeFailed},
		{name: "present", kind: models.AssertAttributePresent, value: "", want: models.OutcomePassed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome := engine.Check(ctx, &models.Assertion{
				ID:        "lang",
				Kind:      tt.kind,
				Target:    html,
				Attribute: "lang",
				Expected:  tt.expected,
			}, Subject{Elements: elementsWith("lang", tt.value)})
			assert.Equal(t, tt.want, outcome.Status)
		})
	}

	t.Run("missing attribute fails", func(t *testing.T) {
		outcome := engine.Check(ctx, &models.Assertion{
			ID:        "lang",
			Kind:      models.AssertAttributePresent,
			Target:    html,
			Attribute: "lang",
		}, Subject{Elements: []interfaces.Element{&fakeElement{}}})
		assert.Equal(t, models.OutcomeFailed, outcome.Status)
		assert.Equal(t, "no lang attribute", outcome.Observed)
	})
}

func TestCheck_ConsoleErrors(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()
	errors := []string{"Uncaught TypeError", "404 favicon", "CSP violation"}

	recorded := engine.Check(ctx, &models.Assertion{ID: "console", Kind: models.AssertConsoleErrorsBelow}, Subject{ConsoleErrors: errors})
	assert.Equal(t, models.OutcomePassed, recorded.Status)
	assert.Equal(t, "recorded", recorded.Expected)
	assert.Equal(t, errors, recorded.Details)

	bounded := engine.Check(ctx, &models.Assertion{ID: "console", Kind: models.AssertConsoleErrorsBelow, Threshold: 1}, Subject{ConsoleErrors: errors})
	assert.Equal(t, models.OutcomeFailed, bounded.Status)
}

func TestCheck_NumericBounds(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, &models.Assertion{ID: "status", Kind: models.AssertStatusBelow}, Subject{Status: 302}).Status)
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, &models.Assertion{ID: "status", Kind: models.AssertStatusBelow}, Subject{Status: 404}).Status)
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, &models.Assertion{ID: "status", Kind: models.AssertStatusBelow, Threshold: 500}, Subject{Status: 403}).Status)

	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, &models.Assertion{ID: "requests", Kind: models.AssertRequestCountBelow}, Subject{Requests: 42}).Status)
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, &models.Assertion{ID: "requests", Kind: models.AssertRequestCountBelow}, Subject{Requests: 100}).Status)

	notFound := engine.Check(ctx, &models.Assertion{ID: "404s", Kind: models.AssertNotFoundCountBelow}, Subject{NotFound: []string{"/missing.css"}})
	assert.Equal(t, models.OutcomeFailed, notFound.Status)
	assert.Equal(t, []string{"/missing.css"}, notFound.Details)

	links := elementsWith("hreflang", "de-DE", "en-US")
	countAbove := &models.Assertion{ID: "alternates", Kind: models.AssertCountAbove, Target: hreflangLinks, Threshold: 1}
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, countAbove, Subject{Elements: links}).Status)
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, countAbove, Subject{Elements: links[:1]}).Status)
}

func TestCheck_PagePredicates(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()

	title := &models.Assertion{ID: "title", Kind: models.AssertTitleMatches, Pattern: `\S`}
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, title, Subject{Title: "Startseite"}).Status)
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, title, Subject{Title: ""}).Status)

	anyTitle := &models.Assertion{ID: "title-present", Kind: models.AssertTitleMatches, Pattern: `.*`}
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, anyTitle, Subject{Title: ""}).Status)

	url := &models.Assertion{ID: "switched", Kind: models.AssertURLContains, Expected: "/en/"}
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, url, Subject{URL: "https://example.org/en/"}).Status)
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, url, Subject{URL: "https://example.org/fr/"}).Status)

	invalid := engine.Check(ctx, &models.Assertion{ID: "bad", Kind: models.AssertURLMatches, Pattern: `(`}, Subject{URL: "/"})
	assert.Equal(t, models.OutcomeFailed, invalid.Status)
	assert.Contains(t, invalid.Message, "invalid pattern")
}

func TestCheck_VisibleNeedsOneVisibleElement(t *testing.T) {
	engine := newTestEngine()
	ctx := context.Background()
	a := &models.Assertion{ID: "nav", Kind: models.AssertVisible, Target: &models.Locator{Selectors: []string{"nav"}}}

	hidden := []interfaces.Element{&fakeElement{ordinal: 1, hidden: true}}
	assert.Equal(t, models.OutcomeFailed, engine.Check(ctx, a, Subject{Elements: hidden}).Status)

	mixed := []interfaces.Element{&fakeElement{ordinal: 1, hidden: true}, &fakeElement{ordinal: 2}}
	assert.Equal(t, models.OutcomePassed, engine.Check(ctx, a, Subject{Elements: mixed}).Status)
}

func TestExpand_FillsLocalePlaceholders(t *testing.T) {
	locale := models.Locale{Code: "fr-FR", Path: "/fr/", Title: "TYPO3 Multilingual", HrefLang: "fr-FR"}
	authored := &models.Assertion{
		ID:       "lang",
		Kind:     models.AssertAttributeContains,
		Expected: "{locale}",
		Values:   []string{"{hreflang}", "de-DE"},
		Pattern:  "{title}",
	}

	expanded := Expand(authored, Vars(locale))

	assert.Equal(t, "fr-FR", expanded.Expected)
	assert.Equal(t, []string{"fr-FR", "de-DE"}, expanded.Values)
	assert.Equal(t, "TYPO3 Multilingual", expanded.Pattern)
	assert.Equal(t, "{locale}", authored.Expected)
	assert.Equal(t, "{hreflang}", authored.Values[0])
	assert.Equal(t, "/fr/about", ExpandString("{locale_path}about", Vars(locale)))
}

func TestEvaluate_AgainstStaticPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<!DOCTYPE html><html lang="en-US"><head>
<title>Home</title>
<link rel="alternate" hreflang="de-DE" href="/">
<link rel="alternate" hreflang="en-US" href="/en/">
<link rel="alternate" hreflang="fr-FR" href="/fr/">
</head><body><nav style="display: none">Menu</nav></body></html>`)
	}))
	defer server.Close()

	logger := arbor.NewLogger()
	driver := browser.NewStaticDriver(browser.StaticDriverConfig{}, logger)
	ctx := context.Background()
	page, err := driver.NewSession(ctx, interfaces.SessionOptions{Engine: models.EngineHTTP})
	require.NoError(t, err)
	defer page.Close()

	nav, err := page.Navigate(ctx, server.URL+"/en/")
	require.NoError(t, err)

	engine := newTestEngine()
	m := Measurements{Status: nav.Status, LoadTime: 120 * time.Millisecond}

	outcome, err := engine.Evaluate(ctx, page, &models.Assertion{
		ID:        "hreflang",
		Kind:      models.AssertAttributeValuesInclude,
		Target:    hreflangLinks,
		Attribute: "hreflang",
		Values:    []string{"de-DE", "en-US", "fr-FR"},
	}, m)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePassed, outcome.Status)

	outcome, err = engine.Evaluate(ctx, page, &models.Assertion{ID: "title", Kind: models.AssertTitleMatches, Pattern: "^Home$"}, m)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePassed, outcome.Status)
	assert.Equal(t, "Home", outcome.Observed)

	// A hidden mandatory element is waited for up to the bound, then fails
	outcome, err = engine.Evaluate(ctx, page, &models.Assertion{
		ID:      "nav",
		Kind:    models.AssertVisible,
		Target:  &models.Locator{Selectors: []string{"nav"}},
		Timeout: models.Duration(30 * time.Millisecond),
	}, m)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeFailed, outcome.Status)
	assert.Equal(t, "hidden", outcome.Observed)

	outcome, err = engine.Evaluate(ctx, page, &models.Assertion{ID: "status", Kind: models.AssertStatusBelow}, m)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomePassed, outcome.Status)
}
