package catalog_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/catalog"
	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/models"
)

func byID(defs []*models.ScenarioDefinition) map[string]*models.ScenarioDefinition {
	out := make(map[string]*models.ScenarioDefinition, len(defs))
	for _, d := range defs {
		out[d.ID] = d
	}
	return out
}

func findAssertion(steps []models.Step, id string) *models.Assertion {
	for _, s := range steps {
		if s.Assertion != nil && s.Assertion.ID == id {
			return s.Assertion
		}
		if found := findAssertion(s.Steps, id); found != nil {
			return found
		}
	}
	return nil
}

func TestBuiltin_LanguageScenarioPerLocale(t *testing.T) {
	locales := common.DefaultLocales()
	defs := byID(catalog.Builtin(catalog.Options{Locales: locales}))

	for _, l := range locales {
		def, ok := defs["multilingual/language-"+l.Code]
		require.True(t, ok, l.Code)
		assert.Equal(t, []string{l.Code}, def.Locales)
		lang := findAssertion(def.Steps, "html-lang")
		require.NotNil(t, lang)
		assert.Equal(t, "{locale}", lang.Expected)
	}

	// Homepage scenarios run in every locale, the rest only in the root locale
	assert.Empty(t, defs["homepage/load"].Locales)
	assert.Equal(t, []string{"de"}, defs["backend/status"].Locales)
	assert.Equal(t, []string{"de"}, defs["performance/load-time"].Locales)
}

func TestBuiltin_HrefLangSkipsUnlistedLocales(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))

	values := findAssertion(defs["multilingual/hreflang"].Steps, "hreflang-values")
	require.NotNil(t, values)
	assert.Equal(t, []string{"de-DE", "en-US", "fr-FR"}, values.Values)
	assert.NotContains(t, values.Values, "mi-NZ")
}

func TestBuiltin_SmokeGroupIsOptIn(t *testing.T) {
	without := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))
	with := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales(), IncludeSiteSmoke: true}))

	for id := range without {
		assert.NotEqual(t, catalog.GroupSmoke, without[id].Group, id)
	}
	assert.Contains(t, with, "smoke/homepage")
	assert.Contains(t, with, "smoke/backend")
	assert.Greater(t, len(with), len(without))
}

func TestBuiltin_ExploratoryInstallTool(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{}))

	def := defs["backend/install-tool"]
	require.NotNil(t, def)
	assert.Equal(t, []string{"default"}, def.Locales)
	require.NotEmpty(t, def.Steps)
	assert.Equal(t, models.StepNavigate, def.Steps[0].Kind)
	assert.True(t, def.Steps[0].Exploratory)
}

func TestBuiltin_LanguageSwitcherMustBeVisible(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))

	def := defs["multilingual/language-switcher"]
	require.NotNil(t, def)
	guard := def.Steps[1]
	require.Equal(t, models.StepConditional, guard.Kind)
	require.NotEmpty(t, guard.Steps)

	switcher := guard.Steps[0].Assertion
	require.NotNil(t, switcher)
	assert.Equal(t, "language-switcher-visible", switcher.ID)
	assert.Equal(t, models.AssertVisible, switcher.Kind)
	assert.Equal(t, models.PresenceMandatory, switcher.Presence)
	assert.Equal(t, 1, switcher.Target.Limit)
	assert.Equal(t, guard.When.Selectors, switcher.Target.Selectors)
}

func TestBuiltin_TitleCheckAcceptsEmptyTitle(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))

	title := findAssertion(defs["homepage/load"].Steps, "title-present")
	require.NotNil(t, title)
	assert.Equal(t, `.*`, title.Pattern)
}

func TestBuiltin_VisibilityChecksUseFirstMatch(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))

	contact := defs["forms/contact"]
	require.NotNil(t, contact)
	for _, id := range []string{"contact-form", "contact-name", "contact-email", "contact-message"} {
		a := findAssertion(contact.Steps, id)
		require.NotNil(t, a, id)
		assert.Equal(t, 1, a.Target.Limit, id)
	}
	assert.Equal(t, models.PresenceMandatory, findAssertion(contact.Steps, "contact-form").Presence)

	nav := findAssertion(defs["homepage/navigation"].Steps, "navigation-visible")
	require.NotNil(t, nav)
	assert.Equal(t, 1, nav.Target.Limit)
}

func TestBuiltin_RequiredFieldsAreOptional(t *testing.T) {
	defs := byID(catalog.Builtin(catalog.Options{Locales: common.DefaultLocales()}))

	required := findAssertion(defs["forms/validation"].Steps, "required-fields")
	require.NotNil(t, required)
	assert.Equal(t, models.PresenceOptional, required.Presence)
	for _, sel := range required.Target.Selectors {
		assert.Contains(t, sel, "form:nth-of-type(-n+3)")
	}
}

func TestBuiltin_DefinitionsAreUnique(t *testing.T) {
	defs := catalog.Builtin(catalog.Options{Locales: common.DefaultLocales(), IncludeSiteSmoke: true})
	assert.Len(t, byID(defs), len(defs))
	for _, d := range defs {
		assert.NotEmpty(t, d.Steps, d.ID)
		assert.NotEmpty(t, d.Group, d.ID)
	}
}

const tomlScenarios = `
[[scenarios]]
id = "custom/imprint"
group = "custom"
locales = ["de"]

  [[scenarios.steps]]
  kind = "navigate"
  path = "/impressum"

  [[scenarios.steps]]
  kind = "assert"
  [scenarios.steps.assertion]
  id = "imprint-heading"
  kind = "visible"
  timeout = "2s"
  [scenarios.steps.assertion.target]
  selectors = ["h1"]
  text = "Impressum"
`

const yamlScenarios = `
scenarios:
  - id: custom/search
    steps:
      - kind: navigate
        path: /
      - kind: conditional
        when:
          selectors: ["input[type=search]"]
        steps:
          - kind: interact
            action: fill
            target:
              selectors: ["input[type=search]"]
            value: typo3
          - kind: wait
            wait: delay
            duration: 500ms
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoader_LoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "10-imprint.toml", tomlScenarios)
	writeFile(t, dir, "20-search.yaml", yamlScenarios)
	writeFile(t, dir, "README.md", "not a scenario file")

	defs, err := catalog.NewLoader(arbor.NewLogger()).LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	imprint := defs[0]
	assert.Equal(t, "custom/imprint", imprint.ID)
	assert.Equal(t, []string{"de"}, imprint.Locales)
	require.Len(t, imprint.Steps, 2)
	a := imprint.Steps[1].Assertion
	require.NotNil(t, a)
	assert.Equal(t, models.AssertVisible, a.Kind)
	assert.Equal(t, 2*time.Second, a.Timeout.D())
	assert.Equal(t, "Impressum", a.Target.Text)

	search := defs[1]
	assert.Equal(t, "custom/search", search.ID)
	require.Len(t, search.Steps, 2)
	assert.Equal(t, models.StepConditional, search.Steps[1].Kind)
	require.Len(t, search.Steps[1].Steps, 2)
	assert.Equal(t, "typo3", search.Steps[1].Steps[0].Value)
	assert.Equal(t, 500*time.Millisecond, search.Steps[1].Steps[1].Duration.D())
}

func TestLoader_MissingDirIsEmpty(t *testing.T) {
	loader := catalog.NewLoader(arbor.NewLogger())

	defs, err := loader.LoadDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	assert.Empty(t, defs)

	defs, err = loader.LoadDir("")
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestLoader_RejectsInvalidScenarios(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		errPart string
	}{
		{
			name:    "missing id",
			file:    "a.yaml",
			content: "scenarios:\n  - steps:\n      - kind: navigate\n        path: /\n",
			errPart: "ID",
		},
		{
			name:    "unknown step kind",
			file:    "b.yaml",
			content: "scenarios:\n  - id: x\n    steps:\n      - kind: teleport\n",
			errPart: "Kind",
		},
		{
			name:    "click without target",
			file:    "c.yaml",
			content: "scenarios:\n  - id: x\n    steps:\n      - kind: interact\n        action: click\n",
			errPart: "needs a target",
		},
		{
			name:    "assertion without target",
			file:    "d.toml",
			content: "[[scenarios]]\nid = \"x\"\n[[scenarios.steps]]\nkind = \"assert\"\n[scenarios.steps.assertion]\nid = \"lang\"\nkind = \"attribute_present\"\nattribute = \"lang\"\n",
			errPart: "needs a target",
		},
		{
			name:    "bad duration",
			file:    "e.yaml",
			content: "scenarios:\n  - id: x\n    steps:\n      - kind: wait\n        wait: delay\n        duration: soon\n",
			errPart: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), tt.file, tt.content)
			_, err := catalog.NewLoader(arbor.NewLogger()).LoadFile(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errPart)
		})
	}
}

func TestMerge_AuthoredReplacesBuiltin(t *testing.T) {
	builtin := []*models.ScenarioDefinition{
		{ID: "homepage/load", Description: "built-in"},
		{ID: "forms/search", Description: "built-in"},
	}
	authored := []*models.ScenarioDefinition{
		{ID: "forms/search", Description: "authored"},
		{ID: "custom/imprint", Description: "authored"},
	}

	merged := catalog.Merge(builtin, authored)

	require.Len(t, merged, 3)
	assert.Equal(t, "homepage/load", merged[0].ID)
	assert.Equal(t, "forms/search", merged[1].ID)
	assert.Equal(t, "authored", merged[1].Description)
	assert.Equal(t, "custom/imprint", merged[2].ID)
}
