package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/sitecheck/internal/interfaces"
	"github.com/ternarybob/sitecheck/internal/models"
)

const (
	ScreenshotFile = "screenshot.png"
	TraceFile      = "trace.json"
	SnapshotFile   = "page.html"
	DriverTrace    = "driver-trace.zip"
)

var unsafePath = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TraceDocument is the content of trace.json
type TraceDocument struct {
	Instance   models.InstanceRef        `json:"instance"`
	Attempt    int                       `json:"attempt"`
	CapturedAt time.Time                 `json:"captured_at"`
	Error      string                    `json:"error,omitempty"`
	Steps      []models.StepRecord       `json:"steps"`
	Events     []models.PageEvent        `json:"events"`
	Outcomes   []models.AssertionOutcome `json:"outcomes,omitempty"`
}

// Capture is everything the runner hands over for one failed attempt
type Capture struct {
	Instance models.InstanceRef
	Attempt  int
	Dir      string
	Error    string
	Steps    []models.StepRecord
	Outcomes []models.AssertionOutcome
}

// Collector writes failure diagnostics for a PageSession. It is only invoked
// for failed, timed-out or retried attempts.
type Collector struct {
	settings models.ArtifactSettings
	logger   arbor.ILogger
}

// NewCollector creates an artifact collector
func NewCollector(settings models.ArtifactSettings, logger arbor.ILogger) *Collector {
	return &Collector{settings: settings, logger: logger}
}

// Enabled reports whether any artifact kind is configured
func (c *Collector) Enabled() bool {
	return c.settings.Dir != "" && (c.settings.Screenshot || c.settings.Trace || c.settings.Video)
}

// RecordVideo reports whether sessions should record video from the start
func (c *Collector) RecordVideo() bool {
	return c.settings.Dir != "" && c.settings.Video
}

// RecordTrace reports whether sessions should start driver tracing
func (c *Collector) RecordTrace() bool {
	return c.settings.Dir != "" && c.settings.Trace
}

// AttemptDir is <dir>/<run-id>/<instance-id>/attempt-<n>
func (c *Collector) AttemptDir(runID string, inst models.InstanceRef, attempt int) string {
	if c.settings.Dir == "" {
		return ""
	}
	return filepath.Join(c.settings.Dir, runID, SafeName(inst.ID), fmt.Sprintf("attempt-%d", attempt))
}

// SafeName turns an instance id into a single path element
func SafeName(id string) string {
	return unsafePath.ReplaceAllString(id, "_")
}

// Capture writes the screenshot, the trace and a DOM snapshot while the page
// is still open. Individual capture failures are recorded in the bundle and
// never fail the scenario.
func (c *Collector) Capture(ctx context.Context, page interfaces.PageSession, in Capture) models.ArtifactBundle {
	bundle := models.ArtifactBundle{Attempt: in.Attempt, Dir: in.Dir}
	if !c.Enabled() || in.Dir == "" {
		return bundle
	}

	if err := os.MkdirAll(in.Dir, 0755); err != nil {
		bundle.Errors = append(bundle.Errors, fmt.Sprintf("create artifact dir: %v", err))
		return bundle
	}

	if c.settings.Screenshot {
		path, err := c.screenshot(ctx, page, in.Dir)
		switch {
		case err == nil:
			bundle.Screenshot = path
		case errors.Is(err, models.ErrUnsupported):
			c.logger.Debug().Str("instance", in.Instance.ID).Msg("Screenshot not supported by engine")
		default:
			bundle.Errors = append(bundle.Errors, err.Error())
		}
	}

	if c.settings.Trace {
		path, err := c.writeTrace(page, in)
		if err != nil {
			bundle.Errors = append(bundle.Errors, err.Error())
		} else {
			bundle.Trace = path
		}

		if exporter, ok := page.(interfaces.TraceExporter); ok {
			if err := exporter.ExportTrace(ctx, filepath.Join(in.Dir, DriverTrace)); err != nil && !errors.Is(err, models.ErrUnsupported) {
				bundle.Errors = append(bundle.Errors, fmt.Sprintf("driver trace: %v", err))
			}
		}
	}

	if snap, ok := page.(interfaces.DOMSnapshotter); ok {
		if html, err := snap.HTML(ctx); err == nil && html != "" {
			if err := os.WriteFile(filepath.Join(in.Dir, SnapshotFile), []byte(html), 0644); err != nil {
				bundle.Errors = append(bundle.Errors, fmt.Sprintf("dom snapshot: %v", err))
			}
		}
	}

	c.logger.Info().
		Str("instance", in.Instance.ID).
		Int("attempt", in.Attempt).
		Str("dir", in.Dir).
		Int("errors", len(bundle.Errors)).
		Msg("Artifacts captured")

	return bundle
}

// AttachVideo records the video reference. Drivers finalize video files on
// close, so this runs after the PageSession has been released.
func (c *Collector) AttachVideo(page interfaces.PageSession, bundle *models.ArtifactBundle) {
	if !c.RecordVideo() {
		return
	}
	source, ok := page.(interfaces.VideoSource)
	if !ok {
		return
	}
	path, err := source.VideoPath()
	if err != nil {
		if !errors.Is(err, models.ErrUnsupported) {
			bundle.Errors = append(bundle.Errors, fmt.Sprintf("video: %v", err))
		}
		return
	}
	bundle.Video = path
}

// Discard removes what a passing attempt recorded up front (video frames,
// driver traces). Nothing is kept for successful attempts.
func (c *Collector) Discard(dir string) {
	if dir == "" {
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		c.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to discard attempt artifacts")
	}
}

func (c *Collector) screenshot(ctx context.Context, page interfaces.PageSession, dir string) (string, error) {
	data, err := page.Screenshot(ctx)
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}
	path := filepath.Join(dir, ScreenshotFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (c *Collector) writeTrace(page interfaces.PageSession, in Capture) (string, error) {
	doc := TraceDocument{
		Instance:   in.Instance,
		Attempt:    in.Attempt,
		CapturedAt: time.Now(),
		Error:      in.Error,
		Steps:      in.Steps,
		Events:     page.Events().Snapshot(),
		Outcomes:   in.Outcomes,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal trace: %w", err)
	}
	path := filepath.Join(in.Dir, TraceFile)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write trace: %w", err)
	}
	return path, nil
}
