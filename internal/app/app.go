package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/catalog"
	"github.com/ternarybob/sitecheck/internal/common"
	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
	"github.com/ternarybob/sitecheck/internal/services/artifacts"
	"github.com/ternarybob/sitecheck/internal/services/browser"
	"github.com/ternarybob/sitecheck/internal/services/matrix"
	"github.com/ternarybob/sitecheck/internal/services/metrics"
	"github.com/ternarybob/sitecheck/internal/services/report"
	"github.com/ternarybob/sitecheck/internal/services/runner"
	"github.com/ternarybob/sitecheck/internal/services/telemetry"
	"github.com/ternarybob/sitecheck/internal/storage/badger"
)

const shutdownTimeout = 10 * time.Second

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Env    *models.Environment
	Logger arbor.ILogger

	// Scenario catalog and matrix
	Scenarios []*models.ScenarioDefinition
	Expander  *matrix.Expander

	// Execution
	Drivers   *browser.Registry
	Collector *artifacts.Collector
	Runner    *runner.Runner

	// Observability
	Recorder  *metrics.Recorder
	Telemetry *telemetry.Provider

	// Run history (nil when disabled)
	RunStorage interfaces.RunStorage
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	env, err := common.ResolveEnvironment(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		Env:    env,
		Logger: logger,
	}

	if err := app.initCatalog(); err != nil {
		return nil, fmt.Errorf("failed to load scenarios: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Int("scenarios", len(app.Scenarios)).
		Bool("history_enabled", app.RunStorage != nil).
		Msg("Application initialization complete")

	return app, nil
}

// initCatalog assembles the built-in and authored scenario definitions
func (a *App) initCatalog() error {
	var builtin []*models.ScenarioDefinition
	if a.Config.Scenarios.IncludeBuiltin {
		builtin = catalog.Builtin(catalog.Options{
			Locales:          a.Env.Locales,
			IncludeSiteSmoke: a.Config.Scenarios.IncludeSiteSmoke,
		})
	}

	authored, err := catalog.NewLoader(a.Logger).LoadDir(a.Config.Scenarios.Dir)
	if err != nil {
		return err
	}

	a.Scenarios = catalog.Merge(builtin, authored)
	if len(a.Scenarios) == 0 {
		return fmt.Errorf("no scenarios: enable scenarios.include_builtin or set scenarios.dir")
	}
	a.Expander = matrix.NewExpander(a.Env, a.Logger)
	return nil
}

// initServices wires drivers, observability, history and the runner
func (a *App) initServices() error {
	a.Drivers = a.newDriverRegistry()
	a.Collector = artifacts.NewCollector(a.Env.Artifacts, a.Logger)
	a.Recorder = metrics.NewRecorder()

	provider, err := telemetry.NewProvider("sitecheck", common.GetVersion(), a.Config.Report.OtelTracePath)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.Telemetry = provider

	if a.Config.History.Enabled {
		db, err := badger.NewBadgerDB(a.Logger, &a.Config.History)
		if err != nil {
			return fmt.Errorf("failed to open run history: %w", err)
		}
		a.RunStorage = badger.NewRunStorage(db, a.Logger)
	}

	a.Runner = runner.NewRunner(a.Env, a.Drivers, a.Collector, runner.Options{
		Limiter:  runner.NewLimiter(a.Config.RateLimit.RequestsPerSecond, a.Config.RateLimit.Burst),
		Recorder: a.Recorder,
		Tracer:   a.Telemetry.Tracer(),
	}, a.Logger)
	return nil
}

// newDriverRegistry binds every engine to its driver. Browsers are started
// lazily by the drivers, so unused engines cost nothing.
func (a *App) newDriverRegistry() *browser.Registry {
	registry := browser.NewRegistry(a.Logger)
	registry.Register(browser.NewStaticDriver(browser.StaticDriverConfig{
		RequestTimeout: a.Env.Wait.DefaultTimeout,
	}, a.Logger))

	playwrightEngines := []models.Engine{models.EngineFirefox, models.EngineWebKit}
	if a.Config.Browser.ChromiumDriver == "playwright" {
		playwrightEngines = append(playwrightEngines, models.EngineChromium)
	} else {
		registry.Register(browser.NewChromeDPDriver(browser.ChromeDPConfig{
			Headless:       a.Config.Browser.Headless,
			NoSandbox:      a.Config.Browser.NoSandbox,
			DisableGPU:     a.Config.Browser.Headless,
			ExecutablePath: a.Config.Browser.ExecutablePath,
		}, a.Logger))
	}
	registry.Register(browser.NewPlaywrightDriver(browser.PlaywrightConfig{
		Headless: a.Config.Browser.Headless,
		Engines:  playwrightEngines,
	}, a.Logger))

	return registry
}

// Plan expands the scenario matrix for the filter without running anything
func (a *App) Plan(filter matrix.Filter) ([]*models.ScenarioInstance, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	instances, err := a.Expander.Expand(a.Scenarios, filter)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("no scenario instances match the filter")
	}
	return instances, nil
}

// Run executes the filtered matrix once and returns the report. Outputs
// configured under [report] are written and the run is saved to history;
// failures there are logged, never turned into a failed run.
func (a *App) Run(ctx context.Context, filter matrix.Filter) (*models.Report, error) {
	instances, err := a.Plan(filter)
	if err != nil {
		return nil, err
	}

	runID := common.NewRunID()
	aggregator := report.NewAggregator(runID, a.Env, a.Logger)
	if err := a.Runner.RunSuite(ctx, runID, instances, aggregator); err != nil {
		return nil, fmt.Errorf("failed to collect results: %w", err)
	}
	rep := aggregator.Report()

	a.compareWithHistory(ctx, rep)
	a.Recorder.ObserveRun(rep)
	a.writeOutputs(rep)
	a.saveHistory(ctx, rep)

	a.Logger.Info().
		Str("run_id", rep.RunID).
		Int("total", rep.Summary.Total).
		Int("passed", rep.Summary.Passed).
		Int("failed", rep.Summary.Failed).
		Int("timed_out", rep.Summary.TimedOut).
		Int("skipped", rep.Summary.Skipped).
		Int("flaky", rep.Summary.Flaky).
		Dur("duration", rep.Duration).
		Int("exit_code", rep.ExitCode).
		Msg("Run complete")

	return rep, nil
}

// compareWithHistory marks instances whose status changed since the last stored run
func (a *App) compareWithHistory(ctx context.Context, rep *models.Report) {
	if a.RunStorage == nil {
		return
	}

	previous := make(map[string]models.ScenarioStatus, len(rep.Results))
	for i := range rep.Results {
		id := rep.Results[i].Instance.ID
		records, err := a.RunStorage.InstanceHistory(ctx, id, 1)
		if err != nil {
			a.Logger.Warn().Err(err).Str("instance", id).Msg("Failed to read instance history")
			continue
		}
		if len(records) > 0 {
			previous[id] = records[0].Status
		}
	}

	if marked := report.MarkChanged(rep, previous); marked > 0 {
		a.Logger.Warn().Int("count", marked).Msg("Instances changed status since the previous run")
	}
}

func (a *App) writeOutputs(rep *models.Report) {
	if path := a.Config.Report.JSONPath; path != "" && path != "-" {
		if err := report.WriteJSONFile(path, rep); err != nil {
			a.Logger.Error().Err(err).Str("path", path).Msg("Failed to write JSON report")
		} else {
			a.Logger.Info().Str("path", path).Msg("JSON report written")
		}
	}

	if path := a.Config.Report.MetricsPath; path != "" {
		if err := a.Recorder.WriteTextfile(path); err != nil {
			a.Logger.Error().Err(err).Str("path", path).Msg("Failed to write metrics")
		}
	}
}

func (a *App) saveHistory(ctx context.Context, rep *models.Report) {
	if a.RunStorage == nil {
		return
	}
	if err := a.RunStorage.SaveRun(ctx, rep); err != nil {
		a.Logger.Error().Err(err).Str("run_id", rep.RunID).Msg("Failed to save run history")
		return
	}
	if _, err := a.RunStorage.Prune(ctx, a.Config.History.Keep); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to prune run history")
	}
}

// Close closes all application resources
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.Drivers != nil {
		if err := a.Drivers.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close browser drivers")
			keep(err)
		}
	}

	if a.Telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Telemetry.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to flush traces")
			keep(err)
		}
		cancel()
	}

	if a.RunStorage != nil {
		if err := a.RunStorage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close run history")
			keep(err)
		} else {
			a.Logger.Debug().Msg("Run history closed")
		}
	}

	return firstErr
}
