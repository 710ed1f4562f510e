package models

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Mode selects the execution profile (browser matrix, parallelism, timeouts)
type Mode string

const (
	// ModeCI is the reduced, deterministic profile used on build servers
	ModeCI Mode = "ci"
	// ModeLocal expands to the full engine/device catalog
	ModeLocal Mode = "local"
)

// Engine identifies a browser engine a scenario runs against
type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
	// EngineHTTP is the browserless engine: plain HTTP fetch + static DOM
	EngineHTTP Engine = "http"
)

// DeviceProfile describes the emulated device (viewport class)
type DeviceProfile struct {
	Name              string  `json:"name" toml:"name" yaml:"name" validate:"required"`
	Width             int     `json:"width" toml:"width" yaml:"width" validate:"gt=0"`
	Height            int     `json:"height" toml:"height" yaml:"height" validate:"gt=0"`
	DeviceScaleFactor float64 `json:"device_scale_factor" toml:"device_scale_factor" yaml:"device_scale_factor"`
	Mobile            bool    `json:"mobile" toml:"mobile" yaml:"mobile"`
	Touch             bool    `json:"touch" toml:"touch" yaml:"touch"`
	UserAgent         string  `json:"user_agent,omitempty" toml:"user_agent" yaml:"user_agent"`
}

// Locale is one language variant of the site under test
type Locale struct {
	Code     string `json:"code" toml:"code" yaml:"code" validate:"required"`
	Path     string `json:"path" toml:"path" yaml:"path" validate:"required"`
	Title    string `json:"title" toml:"title" yaml:"title"`
	HrefLang string `json:"hreflang" toml:"hreflang" yaml:"hreflang"`
	// Unlisted locales are served but not announced as hreflang alternates
	Unlisted bool `json:"unlisted,omitempty" toml:"unlisted" yaml:"unlisted"`
}

// Thresholds are the numeric policy bounds used by numeric-bound assertions
// when an assertion does not carry its own threshold.
type Thresholds struct {
	MaxLoadTime      time.Duration `json:"max_load_time"`
	MaxRequests      int           `json:"max_requests"`
	MaxNotFound      int           `json:"max_not_found"`
	MaxConsoleErrors int           `json:"max_console_errors"` // < 0 records only
}

// WaitSettings bound every wait performed by the Wait Policy
type WaitSettings struct {
	NetworkIdleQuiet time.Duration `json:"network_idle_quiet"`
	DefaultTimeout   time.Duration `json:"default_timeout"`
	PollInterval     time.Duration `json:"poll_interval"`
}

// ArtifactSettings controls failure-artifact capture
type ArtifactSettings struct {
	Dir        string `json:"dir"`
	Screenshot bool   `json:"screenshot"`
	Trace      bool   `json:"trace"`
	Video      bool   `json:"video"`
}

// Environment is the resolved, read-only execution environment. It is built
// once at startup and shared by pointer; nothing mutates it afterwards.
type Environment struct {
	BaseURL      string           `json:"base_url"`
	Mode         Mode             `json:"mode"`
	Engines      []Engine         `json:"engines"`
	Devices      []DeviceProfile  `json:"devices"`
	Locales      []Locale         `json:"locales"`
	Workers      int              `json:"workers"`
	Timeout      time.Duration    `json:"timeout"`
	SuiteTimeout time.Duration    `json:"suite_timeout"`
	Retries      int              `json:"retries"`
	FailFast     bool             `json:"fail_fast"`
	Thresholds   Thresholds       `json:"thresholds"`
	Wait         WaitSettings     `json:"wait"`
	Artifacts    ArtifactSettings `json:"artifacts"`
}

// ResolveURL joins a site-relative path onto the base URL. Absolute URLs are
// returned unchanged.
func (e *Environment) ResolveURL(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	base, err := url.Parse(e.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", e.BaseURL, err)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// Locale looks up a locale by code
func (e *Environment) Locale(code string) (Locale, bool) {
	for _, l := range e.Locales {
		if l.Code == code {
			return l, true
		}
	}
	return Locale{}, false
}

// DefaultLocale is the first configured locale (the site's root language)
func (e *Environment) DefaultLocale() Locale {
	if len(e.Locales) == 0 {
		return Locale{Code: "default", Path: "/"}
	}
	return e.Locales[0]
}
