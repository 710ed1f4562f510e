package common

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ternarybob/sitecheck/internal/models"
)

const (
	userAgentDesktopChrome  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	userAgentDesktopFirefox = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:133.0) Gecko/20100101 Firefox/133.0"
	userAgentDesktopSafari  = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.0 Safari/605.1.15"
	userAgentPixel5         = "Mozilla/5.0 (Linux; Android 11; Pixel 5) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Mobile Safari/537.36"
	userAgentIPhone12       = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.0.3 Mobile/15E148 Safari/604.1"
)

// DeviceCatalog returns the built-in device profiles
func DeviceCatalog() []models.DeviceProfile {
	return []models.DeviceProfile{
		{Name: "desktop-chrome", Width: 1280, Height: 720, DeviceScaleFactor: 1, UserAgent: userAgentDesktopChrome},
		{Name: "desktop-firefox", Width: 1280, Height: 720, DeviceScaleFactor: 1, UserAgent: userAgentDesktopFirefox},
		{Name: "desktop-safari", Width: 1280, Height: 720, DeviceScaleFactor: 1, UserAgent: userAgentDesktopSafari},
		{Name: "pixel-5", Width: 393, Height: 851, DeviceScaleFactor: 2.75, Mobile: true, Touch: true, UserAgent: userAgentPixel5},
		{Name: "iphone-12", Width: 390, Height: 844, DeviceScaleFactor: 3, Mobile: true, Touch: true, UserAgent: userAgentIPhone12},
	}
}

// DefaultLocales returns the site's language variants
func DefaultLocales() []models.Locale {
	return []models.Locale{
		{Code: "de", Path: "/", Title: "Deutsch", HrefLang: "de-DE"},
		{Code: "en", Path: "/en/", Title: "English", HrefLang: "en-US"},
		{Code: "fr", Path: "/fr/", Title: "Français", HrefLang: "fr-FR"},
		{Code: "mi", Path: "/mi/", Title: "Māori", HrefLang: "mi-NZ", Unlisted: true},
	}
}

// ResolveEnvironment builds the immutable execution environment from the
// loaded configuration. It is called once at startup.
func ResolveEnvironment(config *Config) (*models.Environment, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	mode := models.ModeLocal
	if strings.EqualFold(config.Mode, string(models.ModeCI)) {
		mode = models.ModeCI
	}
	active := config.ActiveMode()

	devices, err := resolveDevices(active.Devices, config.Devices, config.Browser.UserAgent)
	if err != nil {
		return nil, err
	}

	engines := make([]models.Engine, 0, len(active.Engines))
	for _, e := range active.Engines {
		engines = append(engines, models.Engine(strings.ToLower(e)))
	}

	workers := active.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	env := &models.Environment{
		BaseURL:  strings.TrimRight(config.BaseURL, "/"),
		Mode:     mode,
		Engines:  engines,
		Devices:  devices,
		Locales:  append([]models.Locale(nil), config.Locales...),
		Workers:  workers,
		Retries:  active.Retries,
		FailFast: config.FailFast,
		Thresholds: models.Thresholds{
			MaxRequests:      config.Thresholds.MaxRequests,
			MaxNotFound:      config.Thresholds.MaxNotFound,
			MaxConsoleErrors: config.Thresholds.MaxConsoleErrors,
		},
		Artifacts: models.ArtifactSettings{
			Dir:        config.Artifacts.Dir,
			Screenshot: config.Artifacts.Screenshot,
			Trace:      config.Artifacts.Trace,
			Video:      config.Artifacts.Video,
		},
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"timeout", active.Timeout, &env.Timeout},
		{"suite_timeout", config.SuiteTimeout, &env.SuiteTimeout},
		{"thresholds.max_load_time", config.Thresholds.MaxLoadTime, &env.Thresholds.MaxLoadTime},
		{"wait.network_idle_quiet", config.Wait.NetworkIdleQuiet, &env.Wait.NetworkIdleQuiet},
		{"wait.default_timeout", config.Wait.DefaultTimeout, &env.Wait.DefaultTimeout},
		{"wait.poll_interval", config.Wait.PollInterval, &env.Wait.PollInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.value, err)
		}
		*d.dst = parsed
	}

	if env.Thresholds.MaxLoadTime <= 0 {
		return nil, fmt.Errorf("thresholds.max_load_time must be positive, got %q", config.Thresholds.MaxLoadTime)
	}

	if env.Wait.PollInterval <= 0 {
		env.Wait.PollInterval = 50 * time.Millisecond
	}

	return env, nil
}

// resolveDevices maps device names onto profiles; configured profiles
// override built-in ones of the same name
func resolveDevices(names []string, custom []models.DeviceProfile, userAgent string) ([]models.DeviceProfile, error) {
	catalog := make(map[string]models.DeviceProfile)
	for _, d := range DeviceCatalog() {
		catalog[d.Name] = d
	}
	for _, d := range custom {
		catalog[d.Name] = d
	}

	devices := make([]models.DeviceProfile, 0, len(names))
	for _, name := range names {
		d, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("unknown device profile %q", name)
		}
		if userAgent != "" {
			d.UserAgent = userAgent
		}
		devices = append(devices, d)
	}
	return devices, nil
}
