package catalog

import (
	"time"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Scenario groups of the built-in catalog
const (
	GroupHomepage     = "homepage"
	GroupMultilingual = "multilingual"
	GroupForms        = "forms"
	GroupPerformance  = "performance"
	GroupSmoke        = "smoke"
	GroupBackend      = "backend"
)

var (
	navigationLocator     = models.Locator{Selectors: []string{"nav", ".navigation", "#navigation"}, Limit: 1}
	languageMenuLocator   = models.Locator{Selectors: []string{".language-menu", ".lang-menu", `[class*="language"]`, `[class*="lang"]`}}
	englishLinkLocator    = models.Locator{Selectors: []string{`a[href*="/en/"]`, `a[hreflang="en"]`, `a[hreflang="en-US"]`}, Limit: 1}
	contactLinkLocator    = models.Locator{Selectors: []string{`a[href*="contact"]`}, Limit: 1}
	contactFormLocator    = models.Locator{Selectors: []string{`form[name*="contact"]`, ".contact-form", "#contact-form"}, Limit: 1}
	searchInputLocator    = models.Locator{Selectors: []string{"input.tx-indexedsearch-searchbox-sword", `input[type="search"]`, `input[name*="search"]`, `input[placeholder*="search"]`}, Limit: 1}
	searchBoxLocator      = models.Locator{Selectors: []string{"#tx-indexedsearch-searchbox-sword"}}
	headerLogoLocator     = models.Locator{Selectors: []string{`#header img[src*="innovatech_logo.svg"]`}}
	backendLoginLocator   = models.Locator{Selectors: []string{`form[name="loginform"]`, ".typo3-login-form", "#t3-login-form"}}
	backendFieldsLocator  = models.Locator{Selectors: []string{"form", `input[name="username"]`, `input[name="userident"]`}}
	backendUserLocator    = models.Locator{Selectors: []string{`input[name="username"]`, "#t3-username"}}
	backendPassLocator    = models.Locator{Selectors: []string{`input[name="userident"]`, `input[name="password"]`, "#t3-password"}}
	backendSubmitLocator  = models.Locator{Selectors: []string{`button[type="submit"]`, ".btn-login", "#t3-login-submit"}}
	bodyLocator           = models.Locator{Selectors: []string{"body"}}
	htmlLocator           = models.Locator{Selectors: []string{"html"}}
	// nth-of-type counts forms among their siblings, so this reaches the first
	// three forms of each parent rather than of the whole document
	requiredFieldsLocator = models.Locator{Selectors: []string{"form:nth-of-type(-n+3) input[required]", "form:nth-of-type(-n+3) textarea[required]"}}
)

const (
	loginTimeout  = 10 * time.Second
	titleTimeout  = 10 * time.Second
	smokeTimeout  = 15 * time.Second
	resizeSettle  = time.Second
	searchPattern = `(?i)search|results`
)

// Options selects what the built-in catalog contains
type Options struct {
	// Locales produce one multilingual/language-<code> scenario each; the
	// first locale is the site's root language
	Locales []models.Locale
	// IncludeSiteSmoke adds the smoke group, which carries site-specific texts
	IncludeSiteSmoke bool
}

// Builtin returns the built-in scenario definitions. Scenarios that do not
// depend on the language variant are restricted to the root locale.
func Builtin(opts Options) []*models.ScenarioDefinition {
	root := "default"
	if len(opts.Locales) > 0 {
		root = opts.Locales[0].Code
	}
	only := []string{root}

	var defs []*models.ScenarioDefinition
	defs = append(defs, homepage()...)
	defs = append(defs, multilingual(opts.Locales, only)...)
	defs = append(defs, forms(only)...)
	defs = append(defs, performance(only)...)
	if opts.IncludeSiteSmoke {
		defs = append(defs, smoke(only)...)
	}
	defs = append(defs, backend(only)...)
	return defs
}

func homepage() []*models.ScenarioDefinition {
	return []*models.ScenarioDefinition{
		{
			ID:          "homepage/load",
			Group:       GroupHomepage,
			Description: "Homepage loads with a title, a visible body and a document language",
			Steps: []models.Step{
				navigate("{locale_path}"),
				assert(titlePresent("title-present")),
				assert(visible("body-visible", bodyLocator, models.PresenceMandatory)),
				assert(&models.Assertion{ID: "html-lang-present", Kind: models.AssertAttributeNonEmpty, Target: &htmlLocator, Attribute: "lang"}),
				assert(&models.Assertion{ID: "console-errors", Kind: models.AssertConsoleErrorsBelow}),
			},
		},
		{
			ID:          "homepage/navigation",
			Group:       GroupHomepage,
			Description: "Main navigation is visible when the page has one",
			Steps: []models.Step{
				navigate("{locale_path}"),
				assert(visible("navigation-visible", navigationLocator, models.PresenceOptional)),
			},
		},
		{
			ID:          "homepage/responsive",
			Group:       GroupHomepage,
			Description: "Homepage renders at desktop, tablet and phone widths",
			Steps: []models.Step{
				resize(1200, 800, 0),
				navigate("{locale_path}"),
				resize(768, 1024, resizeSettle),
				resize(375, 667, resizeSettle),
				assert(visible("body-visible", bodyLocator, models.PresenceMandatory)),
			},
		},
	}
}

func multilingual(locales []models.Locale, only []string) []*models.ScenarioDefinition {
	var defs []*models.ScenarioDefinition
	for _, l := range locales {
		defs = append(defs, &models.ScenarioDefinition{
			ID:          "multilingual/language-" + l.Code,
			Group:       GroupMultilingual,
			Description: "The " + l.Code + " variant loads with its document language",
			Locales:     []string{l.Code},
			Steps: []models.Step{
				navigate("{locale_path}"),
				assert(titlePresent("title-present")),
				assert(&models.Assertion{ID: "html-lang", Kind: models.AssertAttributeContains, Target: &htmlLocator, Attribute: "lang", Expected: "{locale}"}),
				assert(visible("body-visible", bodyLocator, models.PresenceMandatory)),
			},
		})
	}

	var hreflangs []string
	for _, l := range locales {
		if !l.Unlisted && l.HrefLang != "" {
			hreflangs = append(hreflangs, l.HrefLang)
		}
	}
	alternates := models.Locator{Selectors: []string{"link[hreflang]"}}

	hreflang := &models.ScenarioDefinition{
		ID:          "multilingual/hreflang",
		Group:       GroupMultilingual,
		Description: "Alternate language links announce every listed locale",
		Locales:     only,
		Steps: []models.Step{
			navigate("/"),
			{
				Kind: models.StepConditional,
				Name: "hreflang links present",
				When: &alternates,
				Steps: []models.Step{
					assert(&models.Assertion{ID: "hreflang-count", Kind: models.AssertCountAbove, Target: &alternates, Threshold: 1}),
					assert(&models.Assertion{ID: "hreflang-values", Kind: models.AssertAttributeValuesInclude, Target: &alternates, Attribute: "hreflang", Values: hreflangs}),
				},
			},
		},
	}

	return append(defs,
		&models.ScenarioDefinition{
			ID:          "multilingual/language-switcher",
			Group:       GroupMultilingual,
			Description: "The language switcher leads to the English variant",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				{
					Kind: models.StepConditional,
					Name: "language switcher present",
					When: &languageMenuLocator,
					Steps: []models.Step{
						assert(visible("language-switcher-visible", firstOf(languageMenuLocator), models.PresenceMandatory)),
						{
							Kind: models.StepConditional,
							Name: "english link present",
							When: &englishLinkLocator,
							Steps: []models.Step{
								click(englishLinkLocator, false),
								assert(&models.Assertion{ID: "url-english", Kind: models.AssertURLContains, Expected: "/en/"}),
								assert(&models.Assertion{ID: "html-lang-en", Kind: models.AssertAttributeContains, Target: &htmlLocator, Attribute: "lang", Expected: "en"}),
							},
						},
					},
				},
			},
		},
		hreflang,
		&models.ScenarioDefinition{
			ID:          "multilingual/fallback",
			Group:       GroupMultilingual,
			Description: "Missing pages in a language variant do not produce server errors",
			Locales:     only,
			Steps: []models.Step{
				explore("/en/nonexistent"),
				explore("/fr/nonexistent"),
			},
		},
	)
}

func forms(only []string) []*models.ScenarioDefinition {
	field := func(id string, selectors ...string) models.Step {
		return assert(visible(id, models.Locator{Selectors: selectors, Limit: 1}, models.PresenceOptional))
	}

	return []*models.ScenarioDefinition{
		{
			ID:          "forms/contact",
			Group:       GroupForms,
			Description: "The contact form and its fields are visible",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				{
					Kind:  models.StepConditional,
					Name:  "contact link present",
					When:  &contactLinkLocator,
					Steps: []models.Step{click(contactLinkLocator, true)},
				},
				{
					Kind: models.StepConditional,
					Name: "contact form present",
					When: &contactFormLocator,
					Steps: []models.Step{
						assert(visible("contact-form", contactFormLocator, models.PresenceMandatory)),
						field("contact-name", `input[name*="name"]`, `input[id*="name"]`),
						field("contact-email", `input[name*="email"]`, `input[id*="email"]`),
						field("contact-message", `textarea[name*="message"]`, `textarea[id*="message"]`),
					},
				},
			},
		},
		{
			ID:          "forms/validation",
			Group:       GroupForms,
			Description: "Required fields of the first forms carry the required attribute",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				assert(&models.Assertion{ID: "required-fields", Kind: models.AssertAttributePresent, Presence: models.PresenceOptional, Target: &requiredFieldsLocator, Attribute: "required"}),
			},
		},
		{
			ID:          "forms/search",
			Group:       GroupForms,
			Description: "Site search leads to a results page",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				{
					Kind: models.StepConditional,
					Name: "search input present",
					When: &searchInputLocator,
					Steps: []models.Step{
						{Kind: models.StepInteract, Action: models.ActionFill, Target: &searchInputLocator, Value: "test"},
						{Kind: models.StepInteract, Action: models.ActionPress, Target: &searchInputLocator, Value: "Enter"},
						{Kind: models.StepWait, Wait: models.WaitNetworkIdle},
						assert(&models.Assertion{ID: "search-url", Kind: models.AssertURLMatches, Pattern: searchPattern}),
					},
				},
			},
		},
	}
}

func performance(only []string) []*models.ScenarioDefinition {
	return []*models.ScenarioDefinition{
		{
			ID:          "performance/load-time",
			Group:       GroupPerformance,
			Description: "Homepage loads within the configured time",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				assert(&models.Assertion{ID: "load-time", Kind: models.AssertLoadTimeBelow}),
			},
		},
		{
			ID:          "performance/request-count",
			Group:       GroupPerformance,
			Description: "Homepage issues a bounded number of requests",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				assert(&models.Assertion{ID: "request-count", Kind: models.AssertRequestCountBelow}),
			},
		},
		{
			ID:          "performance/asset-404s",
			Group:       GroupPerformance,
			Description: "Homepage assets resolve",
			Locales:     only,
			Steps: []models.Step{
				navigate("/"),
				assert(&models.Assertion{ID: "not-found", Kind: models.AssertNotFoundCountBelow}),
			},
		},
	}
}

func smoke(only []string) []*models.ScenarioDefinition {
	common := func(steps ...models.Step) []models.Step {
		return append(steps,
			assert(&models.Assertion{ID: "search-box-attached", Kind: models.AssertAttached, Target: &searchBoxLocator}),
			assert(visible("header-logo", headerLogoLocator, models.PresenceMandatory)),
		)
	}
	text := func(id, text string, selectors ...string) models.Step {
		loc := models.Locator{Selectors: selectors, Text: text}
		a := visible(id, loc, models.PresenceMandatory)
		a.Timeout = models.Duration(smokeTimeout)
		return assert(a)
	}

	return []*models.ScenarioDefinition{
		{
			ID:          "smoke/homepage",
			Group:       GroupSmoke,
			Description: "Homepage shows the welcome text and contact link",
			Locales:     only,
			Steps: common(
				navigate("/"),
				text("welcome-text", "Willkommen bei Innovatech Solutions", "h1", "h2", "p", "div"),
				text("mail-link", "Schreib mir ne Mail", "a"),
			),
		},
		{
			ID:          "smoke/blog",
			Group:       GroupSmoke,
			Description: "Blog page shows its main content",
			Locales:     only,
			Steps: common(
				navigate("/blog"),
				text("blog-content", "Content im Hauptbereich", "h1", "h2", "p", "div"),
			),
		},
		{
			ID:          "smoke/contact",
			Group:       GroupSmoke,
			Description: "Contact page shows the contact form",
			Locales:     only,
			Steps: common(
				navigate("/kontakt"),
				assert(visible("contact-form", models.Locator{Selectors: []string{"#kontaktformular-30-text-1"}}, models.PresenceMandatory)),
			),
		},
		{
			ID:          "smoke/english",
			Group:       GroupSmoke,
			Description: "English page declares its language",
			Locales:     only,
			Steps: common(
				navigate("/en/"),
				assert(&models.Assertion{ID: "html-lang-en", Kind: models.AssertAttributeContains, Target: &htmlLocator, Attribute: "lang", Expected: "en"}),
			),
		},
		{
			ID:          "smoke/backend",
			Group:       GroupSmoke,
			Description: "Backend entry point answers with a login form",
			Locales:     only,
			Steps: []models.Step{
				navigate("/typo3"),
				assert(loginVisible("login-form", backendFieldsLocator)),
			},
		},
	}
}

func backend(only []string) []*models.ScenarioDefinition {
	return []*models.ScenarioDefinition{
		{
			ID:          "backend/login-form",
			Group:       GroupBackend,
			Description: "Backend login form has credentials fields and a submit button",
			Locales:     only,
			Steps: []models.Step{
				navigate("/typo3"),
				assert(loginVisible("login-form", backendLoginLocator)),
				assert(visible("username-field", backendUserLocator, models.PresenceMandatory)),
				assert(visible("password-field", backendPassLocator, models.PresenceMandatory)),
				assert(visible("submit-button", backendSubmitLocator, models.PresenceMandatory)),
			},
		},
		{
			ID:          "backend/status",
			Group:       GroupBackend,
			Description: "Backend entry point is reachable",
			Locales:     only,
			Steps: []models.Step{
				navigate("/typo3"),
				assert(&models.Assertion{ID: "backend-status", Kind: models.AssertStatusBelow, Threshold: 400}),
			},
		},
		{
			ID:          "backend/install-tool",
			Group:       GroupBackend,
			Description: "Install tool is locked down or answers without a server error",
			Locales:     only,
			Steps: []models.Step{
				explore("/typo3/install.php"),
			},
		},
	}
}

func navigate(path string) models.Step {
	return models.Step{Kind: models.StepNavigate, Path: path}
}

// explore navigates without expecting success; only server errors fail
func explore(path string) models.Step {
	return models.Step{Kind: models.StepNavigate, Path: path, Exploratory: true}
}

func resize(width, height int, settle time.Duration) models.Step {
	return models.Step{
		Kind:     models.StepInteract,
		Action:   models.ActionResize,
		Width:    width,
		Height:   height,
		Duration: models.Duration(settle),
	}
}

func click(target models.Locator, optional bool) models.Step {
	return models.Step{Kind: models.StepInteract, Action: models.ActionClick, Target: &target, Optional: optional}
}

func assert(a *models.Assertion) models.Step {
	return models.Step{Kind: models.StepAssert, Assertion: a}
}

func visible(id string, target models.Locator, presence models.Presence) *models.Assertion {
	return &models.Assertion{ID: id, Kind: models.AssertVisible, Presence: presence, Target: &target}
}

func loginVisible(id string, target models.Locator) *models.Assertion {
	a := visible(id, target, models.PresenceMandatory)
	a.Timeout = models.Duration(loginTimeout)
	return a
}

// firstOf narrows a locator to its first match in document order
func firstOf(l models.Locator) models.Locator {
	l.Limit = 1
	return l
}

// titlePresent accepts any title, including an empty one
func titlePresent(id string) *models.Assertion {
	return &models.Assertion{ID: id, Kind: models.AssertTitleMatches, Pattern: `.*`, Timeout: models.Duration(titleTimeout)}
}
