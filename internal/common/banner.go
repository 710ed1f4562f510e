package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"

	"github.com/ternarybob/sitecheck/internal/models"
)

// PrintBanner displays the application banner
func PrintBanner(version string) {
	banner.PrintSimple("SiteCheck", version)
}

// LogEnvironment writes the resolved execution environment as one structured line
func LogEnvironment(logger arbor.ILogger, env *models.Environment) {
	engines := make([]string, 0, len(env.Engines))
	for _, e := range env.Engines {
		engines = append(engines, string(e))
	}
	devices := make([]string, 0, len(env.Devices))
	for _, d := range env.Devices {
		devices = append(devices, d.Name)
	}
	locales := make([]string, 0, len(env.Locales))
	for _, l := range env.Locales {
		locales = append(locales, l.Code)
	}

	logger.Info().
		Str("base_url", env.BaseURL).
		Str("mode", string(env.Mode)).
		Strs("engines", engines).
		Strs("devices", devices).
		Strs("locales", locales).
		Int("workers", env.Workers).
		Int("retries", env.Retries).
		Dur("timeout", env.Timeout).
		Msg("Configuration resolved")
}
