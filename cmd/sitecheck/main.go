package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/app"
	"github.com/ternarybob/sitecheck/internal/common"
)

// Process exit codes
const (
	exitPassed      = 0
	exitFailed      = 1
	exitConfigError = 2
)

// exitError carries a run outcome that is not a usage or configuration error
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("run finished with exit code %d", e.code)
}

var (
	// Global flags
	configFiles []string
	modeFlag    string
	baseURLFlag string
	logLevel    string

	// Global state, set by setup
	config *common.Config
	logger arbor.ILogger
)

var rootCmd = &cobra.Command{
	Use:   "sitecheck",
	Short: "End-to-end checks for a multilingual TYPO3 site",
	Long: `sitecheck expands scenarios across browser engines, device profiles and
locales, runs every instance in an isolated page session and reports a
single pass/fail decision with per-instance detail.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&configFiles, "config", "c", nil, "Configuration file path (repeatable, later files override earlier ones)")
	rootCmd.PersistentFlags().StringVar(&modeFlag, "mode", "", "Execution mode: ci or local")
	rootCmd.PersistentFlags().StringVar(&baseURLFlag, "base-url", "", "Site under test (overrides config and BASE_URL)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	os.Exit(execute())
}

func execute() int {
	defer common.RecoverWithCrashFile()

	err := rootCmd.Execute()
	if err == nil {
		return exitPassed
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}

	if logger != nil {
		logger.Error().Err(err).Msg("sitecheck failed")
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return exitConfigError
}

// setup loads configuration (defaults -> files -> env -> flags), initializes
// the logger and builds the application
func setup(overrides common.FlagOverrides) (*app.App, error) {
	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("sitecheck.toml"); err == nil {
			configFiles = append(configFiles, "sitecheck.toml")
		}
	}

	var err error
	config, err = common.LoadFromFiles(configFiles...)
	if err != nil {
		return nil, err
	}

	overrides.Mode = modeFlag
	overrides.BaseURL = baseURLFlag
	overrides.LogLevel = logLevel
	common.ApplyFlagOverrides(config, overrides)

	logger = common.InitLogger(config)
	common.InstallCrashHandler(config.Artifacts.Dir)
	common.PrintBanner(common.GetVersion())

	logger.Debug().
		Strs("config_files", configFiles).
		Str("log_level", config.Logging.Level).
		Strs("log_output", config.Logging.Output).
		Msg("Configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		return nil, err
	}
	common.LogEnvironment(logger, application.Env)
	return application, nil
}
