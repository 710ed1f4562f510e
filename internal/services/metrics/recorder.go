package metrics

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ternarybob/sitecheck/internal/models"
)

// Recorder keeps run metrics in a private registry so repeated runs in one
// process (watch mode) never collide with the default registry.
// A nil *Recorder is valid and records nothing.
type Recorder struct {
	registry *prometheus.Registry

	scenarios  *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	assertions *prometheus.CounterVec
	retries    prometheus.Counter
	lastRun    prometheus.Gauge
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Recorder{
		registry: registry,
		scenarios: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sitecheck",
				Name:      "scenarios_total",
				Help:      "Scenario instances by terminal status",
			},
			[]string{"status", "engine", "device", "locale"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "sitecheck",
				Name:      "scenario_duration_seconds",
				Help:      "Wall-clock duration of scenario instances including retries",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2m
			},
			[]string{"engine"},
		),
		assertions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "sitecheck",
				Name:      "assertions_total",
				Help:      "Assertion outcomes by status",
			},
			[]string{"status"},
		),
		retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sitecheck",
			Name:      "retries_total",
			Help:      "Scenario attempts re-run after a failure or time-out",
		}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sitecheck",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished",
		}),
	}
}

// Registry exposes the gatherer
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveResult counts a finished instance and its outcomes
func (r *Recorder) ObserveResult(result *models.ScenarioResult) {
	if r == nil {
		return
	}
	ref := result.Instance
	r.scenarios.WithLabelValues(string(result.Status), string(ref.Engine), ref.Device, ref.Locale).Inc()
	r.duration.WithLabelValues(string(ref.Engine)).Observe(result.Duration.Seconds())
	for _, o := range result.Outcomes {
		r.assertions.WithLabelValues(string(o.Status)).Inc()
	}
}

// ObserveRetry counts one re-run attempt
func (r *Recorder) ObserveRetry() {
	if r == nil {
		return
	}
	r.retries.Inc()
}

// ObserveRun stamps the finish time of a run
func (r *Recorder) ObserveRun(report *models.Report) {
	if r == nil {
		return
	}
	r.lastRun.Set(float64(report.FinishedAt.Unix()))
}

// WriteTextfile writes the registry in node-exporter textfile format
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
