package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Config represents the application configuration
type Config struct {
	BaseURL      string `toml:"base_url" validate:"required,url"` // Target site; BASE_URL overrides
	Mode         string `toml:"mode" validate:"oneof=ci local"`   // "ci" or "local"; CI=1 selects ci
	SuiteTimeout string `toml:"suite_timeout"`                    // Global deadline for the whole matrix (e.g., "30m")
	FailFast     bool   `toml:"fail_fast"`                        // Skip unscheduled instances after the first failure

	Modes      ModesConfig            `toml:"modes"`
	Thresholds ThresholdsConfig       `toml:"thresholds"`
	Wait       WaitConfig             `toml:"wait"`
	Browser    BrowserConfig          `toml:"browser"`
	Artifacts  ArtifactsConfig        `toml:"artifacts"`
	Report     ReportConfig           `toml:"report"`
	History    HistoryConfig          `toml:"history"`
	Scenarios  ScenariosConfig        `toml:"scenarios"`
	RateLimit  RateLimitConfig        `toml:"rate_limit"`
	Watch      WatchConfig            `toml:"watch"`
	Locales    []models.Locale        `toml:"locales" validate:"min=1,dive"`
	Devices    []models.DeviceProfile `toml:"devices" validate:"dive"` // Added to (or replacing) the built-in device catalog
	Logging    LoggingConfig          `toml:"logging"`
}

// ModesConfig holds the per-mode execution profiles
type ModesConfig struct {
	CI    ModeConfig `toml:"ci"`
	Local ModeConfig `toml:"local"`
}

// ModeConfig selects the browser matrix and execution bounds of one mode
type ModeConfig struct {
	Engines []string `toml:"engines" validate:"min=1,dive,oneof=chromium firefox webkit http"`
	Devices []string `toml:"devices" validate:"min=1"`
	Workers int      `toml:"workers" validate:"gte=0"` // 0 = one per CPU
	Timeout string   `toml:"timeout"`                  // Per-instance attempt timeout (e.g., "30s")
	Retries int      `toml:"retries" validate:"gte=0"`
}

// ThresholdsConfig holds the numeric policy bounds
type ThresholdsConfig struct {
	MaxLoadTime      string `toml:"max_load_time"`                  // e.g., "5s"
	MaxRequests      int    `toml:"max_requests" validate:"gte=1"`  // Exclusive bound on requests per page load
	MaxNotFound      int    `toml:"max_not_found" validate:"gte=1"` // Exclusive bound on 404 responses per page load
	MaxConsoleErrors int    `toml:"max_console_errors"`             // -1 records console errors without failing
}

type WaitConfig struct {
	NetworkIdleQuiet string `toml:"network_idle_quiet"` // Quiescence window (default: "500ms")
	DefaultTimeout   string `toml:"default_timeout"`    // Bound for waits without their own timeout
	PollInterval     string `toml:"poll_interval"`
}

// BrowserConfig contains browser driver configuration
type BrowserConfig struct {
	Headless       bool   `toml:"headless"`
	NoSandbox      bool   `toml:"no_sandbox"`
	ChromiumDriver string `toml:"chromium_driver" validate:"oneof=chromedp playwright"` // Driver serving the chromium engine
	UserAgent      string `toml:"user_agent"`                                           // Overrides device user agents when set
	ExecutablePath string `toml:"executable_path"`                                      // Chrome binary for chromedp (default: auto-detect)
}

type ArtifactsConfig struct {
	Dir        string `toml:"dir"`
	Screenshot bool   `toml:"screenshot"`
	Trace      bool   `toml:"trace"`
	Video      bool   `toml:"video"`
}

// ReportConfig selects the optional report outputs
type ReportConfig struct {
	JSONPath      string `toml:"json_path"`       // Machine-readable report ("-" = stdout)
	MetricsPath   string `toml:"metrics_path"`    // Prometheus textfile output
	OtelTracePath string `toml:"otel_trace_path"` // OpenTelemetry spans as JSON lines
}

// HistoryConfig controls the run history database
type HistoryConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Keep    int    `toml:"keep" validate:"gte=0"` // Runs kept after pruning (0 = keep all)
}

// ScenariosConfig controls the scenario catalog
type ScenariosConfig struct {
	Dir              string `toml:"dir"`                // Directory of authored *.toml / *.yaml scenarios
	IncludeBuiltin   bool   `toml:"include_builtin"`    // Include the built-in catalog
	IncludeSiteSmoke bool   `toml:"include_site_smoke"` // Include the site-specific smoke group
}

// RateLimitConfig throttles navigations against the target
type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"` // 0 = unlimited
	Burst             int     `toml:"burst"`
}

type WatchConfig struct {
	Schedule string `toml:"schedule"` // Cron expression for `sitecheck watch`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`                                     // "trace", "debug", "info", "warn", "error"
	Output []string `toml:"output" validate:"dive,oneof=stdout file"` // "stdout", "file"
}

// FlagOverrides carries command-line flag values; zero values and nil pointers are ignored
type FlagOverrides struct {
	Mode      string
	BaseURL   string
	Workers   int
	Retries   *int
	Timeout   string
	FailFast  bool
	JSONPath  string
	Headless  *bool
	LogLevel  string
	Artifacts string
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		BaseURL:      "http://localhost:8080",
		Mode:         string(models.ModeLocal),
		SuiteTimeout: "30m",
		Modes: ModesConfig{
			CI: ModeConfig{
				Engines: []string{string(models.EngineChromium)},
				Devices: []string{"desktop-chrome"},
				Workers: 1,
				Timeout: "30s",
				Retries: 1,
			},
			Local: ModeConfig{
				Engines: []string{string(models.EngineChromium), string(models.EngineFirefox), string(models.EngineWebKit)},
				Devices: []string{"desktop-chrome", "pixel-5", "iphone-12"},
				Workers: 0,
				Timeout: "60s",
				Retries: 0,
			},
		},
		Thresholds: ThresholdsConfig{
			MaxLoadTime:      "5s",
			MaxRequests:      100,
			MaxNotFound:      5,
			MaxConsoleErrors: -1,
		},
		Wait: WaitConfig{
			NetworkIdleQuiet: "500ms",
			DefaultTimeout:   "10s",
			PollInterval:     "50ms",
		},
		Browser: BrowserConfig{
			Headless:       true,
			NoSandbox:      false,
			ChromiumDriver: "chromedp",
		},
		Artifacts: ArtifactsConfig{
			Dir:        "./test-results",
			Screenshot: true,
			Trace:      true,
			Video:      false,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./data/history",
			Keep:    50,
		},
		Scenarios: ScenariosConfig{
			IncludeBuiltin: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Locales: DefaultLocales(),
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env
// Later files override earlier files. CLI flags are applied afterwards with ApplyFlagOverrides.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var keys map[string]interface{}
		if err := toml.Unmarshal(data, &keys); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
		// Listed locales and devices replace earlier ones instead of merging by index
		if _, ok := keys["locales"]; ok {
			config.Locales = nil
		}
		if _, ok := keys["devices"]; ok {
			config.Devices = nil
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if baseURL := os.Getenv("BASE_URL"); baseURL != "" {
		config.BaseURL = baseURL
	}

	// CI servers set CI; an explicit SITECHECK_MODE still wins
	if ci := os.Getenv("CI"); ci != "" && ci != "false" && ci != "0" {
		config.Mode = string(models.ModeCI)
	}
	if mode := os.Getenv("SITECHECK_MODE"); mode != "" {
		config.Mode = mode
	}

	active := config.ActiveMode()
	if workers := os.Getenv("SITECHECK_WORKERS"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			active.Workers = w
		}
	}
	if retries := os.Getenv("SITECHECK_RETRIES"); retries != "" {
		if r, err := strconv.Atoi(retries); err == nil {
			active.Retries = r
		}
	}
	if timeout := os.Getenv("SITECHECK_TIMEOUT"); timeout != "" {
		active.Timeout = timeout
	}

	if suiteTimeout := os.Getenv("SITECHECK_SUITE_TIMEOUT"); suiteTimeout != "" {
		config.SuiteTimeout = suiteTimeout
	}
	if level := os.Getenv("SITECHECK_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if headless := os.Getenv("SITECHECK_HEADLESS"); headless != "" {
		config.Browser.Headless = headless == "true" || headless == "1"
	}
	if dir := os.Getenv("SITECHECK_ARTIFACTS_DIR"); dir != "" {
		config.Artifacts.Dir = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, flags FlagOverrides) {
	// Mode first so the per-mode overrides land on the selected profile
	if flags.Mode != "" {
		config.Mode = flags.Mode
	}
	if flags.BaseURL != "" {
		config.BaseURL = flags.BaseURL
	}

	active := config.ActiveMode()
	if flags.Workers > 0 {
		active.Workers = flags.Workers
	}
	if flags.Retries != nil {
		active.Retries = *flags.Retries
	}
	if flags.Timeout != "" {
		active.Timeout = flags.Timeout
	}

	if flags.FailFast {
		config.FailFast = true
	}
	if flags.JSONPath != "" {
		config.Report.JSONPath = flags.JSONPath
	}
	if flags.Headless != nil {
		config.Browser.Headless = *flags.Headless
	}
	if flags.LogLevel != "" {
		config.Logging.Level = flags.LogLevel
	}
	if flags.Artifacts != "" {
		config.Artifacts.Dir = flags.Artifacts
	}
}

// ActiveMode returns the profile of the selected mode
func (c *Config) ActiveMode() *ModeConfig {
	if strings.EqualFold(c.Mode, string(models.ModeCI)) {
		return &c.Modes.CI
	}
	return &c.Modes.Local
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
