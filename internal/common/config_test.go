package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Test helper - clearEnv blanks every variable LoadFromFiles reads, including
// the CI marker set by build servers
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"BASE_URL", "CI", "SITECHECK_MODE", "SITECHECK_WORKERS", "SITECHECK_RETRIES",
		"SITECHECK_TIMEOUT", "SITECHECK_SUITE_TIMEOUT", "SITECHECK_LOG_LEVEL",
		"SITECHECK_HEADLESS", "SITECHECK_ARTIFACTS_DIR",
	} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sitecheck.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig(t *testing.T) {
	config := NewDefaultConfig()

	assert.Equal(t, "local", config.Mode)
	assert.Equal(t, []string{"chromium"}, config.Modes.CI.Engines)
	assert.Equal(t, 1, config.Modes.CI.Workers)
	assert.Equal(t, 1, config.Modes.CI.Retries)
	assert.Len(t, config.Modes.Local.Engines, 3)
	assert.Equal(t, -1, config.Thresholds.MaxConsoleErrors)
	assert.Len(t, config.Locales, 4)
	assert.NoError(t, config.Validate())
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	clearEnv(t)

	base := writeConfig(t, `
base_url = "https://typo3.example.org"
fail_fast = true

[modes.local]
engines = ["chromium", "firefox"]
devices = ["desktop-chrome"]
workers = 2

[thresholds]
max_load_time = "3s"
`)
	override := writeConfig(t, `
[modes.local]
workers = 6

[[locales]]
code = "de"
path = "/"
hreflang = "de-DE"

[[locales]]
code = "en"
path = "/en/"
hreflang = "en-US"
`)

	config, err := LoadFromFiles(base, override)
	require.NoError(t, err)

	assert.Equal(t, "https://typo3.example.org", config.BaseURL)
	assert.True(t, config.FailFast)
	assert.Equal(t, []string{"chromium", "firefox"}, config.Modes.Local.Engines)
	assert.Equal(t, 6, config.Modes.Local.Workers)
	assert.Equal(t, "3s", config.Thresholds.MaxLoadTime)
	require.Len(t, config.Locales, 2)
	assert.Equal(t, "en-US", config.Locales[1].HrefLang)
	// Untouched sections keep their defaults
	assert.Equal(t, "500ms", config.Wait.NetworkIdleQuiet)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	clearEnv(t)

	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, "base_url = [unterminated"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadFromFiles_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("BASE_URL", "https://staging.example.org")
	t.Setenv("CI", "true")
	t.Setenv("SITECHECK_RETRIES", "3")
	t.Setenv("SITECHECK_TIMEOUT", "45s")
	t.Setenv("SITECHECK_HEADLESS", "false")
	t.Setenv("SITECHECK_ARTIFACTS_DIR", "/tmp/artifacts")

	config, err := LoadFromFiles()
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.org", config.BaseURL)
	assert.Equal(t, "ci", config.Mode)
	// Per-mode variables land on the CI profile
	assert.Equal(t, 3, config.Modes.CI.Retries)
	assert.Equal(t, "45s", config.Modes.CI.Timeout)
	assert.Equal(t, "60s", config.Modes.Local.Timeout)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, "/tmp/artifacts", config.Artifacts.Dir)
}

func TestLoadFromFiles_ExplicitModeBeatsCI(t *testing.T) {
	clearEnv(t)
	t.Setenv("CI", "1")
	t.Setenv("SITECHECK_MODE", "local")

	config, err := LoadFromFiles()
	require.NoError(t, err)
	assert.Equal(t, "local", config.Mode)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	retries := 0
	headless := false

	ApplyFlagOverrides(config, FlagOverrides{
		Mode:     "ci",
		BaseURL:  "https://flag.example.org",
		Workers:  4,
		Retries:  &retries,
		Timeout:  "20s",
		FailFast: true,
		JSONPath: "-",
		Headless: &headless,
		LogLevel: "debug",
	})

	assert.Equal(t, "ci", config.Mode)
	assert.Equal(t, "https://flag.example.org", config.BaseURL)
	assert.Equal(t, 4, config.Modes.CI.Workers)
	assert.Equal(t, 0, config.Modes.CI.Retries)
	assert.Equal(t, "20s", config.Modes.CI.Timeout)
	assert.True(t, config.FailFast)
	assert.Equal(t, "-", config.Report.JSONPath)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, "debug", config.Logging.Level)

	// Zero values leave the configuration alone
	ApplyFlagOverrides(config, FlagOverrides{})
	assert.Equal(t, 4, config.Modes.CI.Workers)
	assert.Equal(t, "https://flag.example.org", config.BaseURL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing base url", mutate: func(c *Config) { c.BaseURL = "" }},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "nightly" }},
		{name: "unknown engine", mutate: func(c *Config) { c.Modes.Local.Engines = []string{"opera"} }},
		{name: "no locales", mutate: func(c *Config) { c.Locales = nil }},
		{name: "unknown chromium driver", mutate: func(c *Config) { c.Browser.ChromiumDriver = "selenium" }},
		{name: "zero max requests", mutate: func(c *Config) { c.Thresholds.MaxRequests = 0 }},
		{name: "zero max not found", mutate: func(c *Config) { c.Thresholds.MaxNotFound = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewDefaultConfig()
			tt.mutate(config)
			assert.Error(t, config.Validate())
		})
	}
}

func TestResolveEnvironment(t *testing.T) {
	config := NewDefaultConfig()
	config.BaseURL = "https://typo3.example.org/"
	config.Mode = "ci"
	config.Browser.UserAgent = "sitecheck-bot"

	env, err := ResolveEnvironment(config)
	require.NoError(t, err)

	assert.Equal(t, "https://typo3.example.org", env.BaseURL)
	assert.Equal(t, models.ModeCI, env.Mode)
	assert.Equal(t, []models.Engine{models.EngineChromium}, env.Engines)
	require.Len(t, env.Devices, 1)
	assert.Equal(t, "desktop-chrome", env.Devices[0].Name)
	assert.Equal(t, "sitecheck-bot", env.Devices[0].UserAgent)
	assert.Equal(t, 1, env.Workers)
	assert.Equal(t, 1, env.Retries)
	assert.Equal(t, 30*time.Second, env.Timeout)
	assert.Equal(t, 30*time.Minute, env.SuiteTimeout)
	assert.Equal(t, 5*time.Second, env.Thresholds.MaxLoadTime)
	assert.Equal(t, 500*time.Millisecond, env.Wait.NetworkIdleQuiet)
	assert.Len(t, env.Locales, 4)

	url, err := env.ResolveURL("/en/")
	require.NoError(t, err)
	assert.Equal(t, "https://typo3.example.org/en/", url)
}

func TestResolveEnvironment_LocalModeUsesAllCPUs(t *testing.T) {
	config := NewDefaultConfig()

	env, err := ResolveEnvironment(config)
	require.NoError(t, err)
	assert.Equal(t, models.ModeLocal, env.Mode)
	assert.Len(t, env.Engines, 3)
	assert.Len(t, env.Devices, 3)
	assert.GreaterOrEqual(t, env.Workers, 1)
}

func TestResolveEnvironment_Errors(t *testing.T) {
	unknownDevice := NewDefaultConfig()
	unknownDevice.Modes.Local.Devices = []string{"galaxy-fold"}
	_, err := ResolveEnvironment(unknownDevice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "galaxy-fold")

	badDuration := NewDefaultConfig()
	badDuration.Thresholds.MaxLoadTime = "fast"
	_, err = ResolveEnvironment(badDuration)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresholds.max_load_time")

	for _, value := range []string{"0s", "-1s", ""} {
		zeroLoad := NewDefaultConfig()
		zeroLoad.Thresholds.MaxLoadTime = value
		_, err = ResolveEnvironment(zeroLoad)
		require.Error(t, err, value)
		assert.Contains(t, err.Error(), "must be positive", value)
	}
}

func TestResolveEnvironment_CustomDevice(t *testing.T) {
	config := NewDefaultConfig()
	config.Devices = []models.DeviceProfile{{Name: "kiosk", Width: 1080, Height: 1920}}
	config.Modes.Local.Devices = []string{"kiosk"}

	env, err := ResolveEnvironment(config)
	require.NoError(t, err)
	require.Len(t, env.Devices, 1)
	assert.Equal(t, 1080, env.Devices[0].Width)
}
