package matrix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/models"
)

func testEnv() *models.Environment {
	return &models.Environment{
		Engines: []models.Engine{models.EngineChromium, models.EngineFirefox},
		Devices: []models.DeviceProfile{
			{Name: "desktop", Width: 1920, Height: 1080},
			{Name: "mobile", Width: 375, Height: 667, Mobile: true},
		},
		Locales: []models.Locale{
			{Code: "de-DE", Path: "/"},
			{Code: "en-US", Path: "/en/"},
			{Code: "fr-FR", Path: "/fr/"},
		},
	}
}

func def(id string, locales ...string) *models.ScenarioDefinition {
	return &models.ScenarioDefinition{
		ID:      id,
		Steps:   []models.Step{{Kind: models.StepNavigate, Path: "/"}},
		Locales: locales,
	}
}

func TestExpand_LocaleRestrictedScenario(t *testing.T) {
	x := NewExpander(testEnv(), arbor.NewLogger())

	instances, err := x.Expand([]*models.ScenarioDefinition{def("multilingual/hreflang", "en-US", "fr-FR")}, Filter{})
	require.NoError(t, err)

	// 2 locales x 2 engines x 2 devices
	require.Len(t, instances, 8)
	ids := make(map[string]bool)
	for i, inst := range instances {
		assert.Equal(t, i, inst.Index)
		assert.NotEqual(t, "de-DE", inst.Locale.Code)
		ids[inst.ID()] = true
	}
	assert.Len(t, ids, 8)
}

func TestExpand_DeterministicOrder(t *testing.T) {
	x := NewExpander(testEnv(), arbor.NewLogger())
	defs := []*models.ScenarioDefinition{def("homepage/load"), def("forms/search", "de-DE")}

	first, err := x.Expand(defs, Filter{})
	require.NoError(t, err)
	second, err := x.Expand(defs, Filter{})
	require.NoError(t, err)

	require.Len(t, first, 12+4)
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID(), second[i].ID())
	}

	// Definition, then engine, device, locale
	assert.Equal(t, "homepage/load[chromium/desktop/de-DE]", first[0].ID())
	assert.Equal(t, "homepage/load[chromium/desktop/en-US]", first[1].ID())
	assert.Equal(t, "homepage/load[chromium/mobile/de-DE]", first[3].ID())
	assert.Equal(t, "homepage/load[firefox/desktop/de-DE]", first[6].ID())
	assert.Equal(t, "forms/search[chromium/desktop/de-DE]", first[12].ID())
}

func TestExpand_DuplicateDefinitionExpandedOnce(t *testing.T) {
	x := NewExpander(testEnv(), arbor.NewLogger())

	instances, err := x.Expand([]*models.ScenarioDefinition{def("homepage/load", "de-DE"), def("homepage/load", "de-DE")}, Filter{})
	require.NoError(t, err)
	assert.Len(t, instances, 4)
}

func TestExpand_DeviceRestriction(t *testing.T) {
	x := NewExpander(testEnv(), arbor.NewLogger())
	d := def("homepage/responsive", "de-DE")
	d.Devices = []string{"mobile"}

	instances, err := x.Expand([]*models.ScenarioDefinition{d}, Filter{})
	require.NoError(t, err)
	require.Len(t, instances, 2)
	for _, inst := range instances {
		assert.Equal(t, "mobile", inst.Device.Name)
	}
}

func TestExpand_Filter(t *testing.T) {
	x := NewExpander(testEnv(), arbor.NewLogger())
	defs := []*models.ScenarioDefinition{
		def("homepage/load"),
		def("multilingual/hreflang"),
		def("multilingual/fallback"),
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "no filter", filter: Filter{}, want: 36},
		{name: "scenario glob", filter: Filter{Scenario: "multilingual/*"}, want: 24},
		{name: "engine", filter: Filter{Engine: "firefox"}, want: 18},
		{name: "device and locale", filter: Filter{Device: "mobile", Locale: "fr-*"}, want: 6},
		{name: "nothing matches", filter: Filter{Scenario: "backend/*"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instances, err := x.Expand(defs, tt.filter)
			require.NoError(t, err)
			assert.Len(t, instances, tt.want)
			for _, inst := range instances {
				assert.True(t, tt.filter.Match(inst))
			}
		})
	}
}

func TestFilter_Validate(t *testing.T) {
	assert.NoError(t, Filter{}.Validate())
	assert.NoError(t, Filter{Scenario: "homepage/*", Locale: "??-DE"}.Validate())

	err := Filter{Engine: "[chromium"}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine")

	_, err = NewExpander(testEnv(), arbor.NewLogger()).Expand([]*models.ScenarioDefinition{def("homepage/load")}, Filter{Scenario: "["})
	assert.Error(t, err)
}

func TestFilter_Empty(t *testing.T) {
	assert.True(t, Filter{}.Empty())
	assert.False(t, Filter{Locale: "de-DE"}.Empty())
}
