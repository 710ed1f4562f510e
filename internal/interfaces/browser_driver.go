package interfaces

import (
	"context"

	"github.com/ternarybob/sitecheck/internal/models"
)

// SessionOptions - parameters for opening one isolated PageSession
type SessionOptions struct {
	Engine models.Engine
	Device models.DeviceProfile
	Locale models.Locale
	// ArtifactDir is where the driver may write video/trace files while recording
	ArtifactDir string
	RecordVideo bool
	Trace       bool
}

// BrowserDriver - opens isolated page sessions for the engines it serves
type BrowserDriver interface {
	Name() string
	Engines() []models.Engine
	// NewSession opens a fresh browsing context. Sessions never share cookies,
	// storage or event history.
	NewSession(ctx context.Context, opts SessionOptions) (PageSession, error)
	Close() error
}

// PageSession - one isolated browsing context bound to one ScenarioInstance.
// Event listeners are attached before NewSession returns.
type PageSession interface {
	// Navigate loads url and returns the main document's response status.
	// It returns once the load event fired; network idle is awaited separately.
	Navigate(ctx context.Context, url string) (*models.NavigationResult, error)
	// QueryAll returns the elements matching a CSS selector in document order
	QueryAll(ctx context.Context, selector string) ([]Element, error)
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	SetViewport(ctx context.Context, width, height int) error
	Screenshot(ctx context.Context) ([]byte, error)
	Events() *models.EventLog
	Close() error
}

// Element - a handle to one element of the current document
type Element interface {
	// Ordinal is the element's position in a document-order traversal of all
	// elements; it identifies the element for de-duplication and ordering.
	Ordinal() int
	Text(ctx context.Context) (string, error)
	Attribute(ctx context.Context, name string) (string, bool, error)
	Visible(ctx context.Context) (bool, error)
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Press(ctx context.Context, key string) error
}

// VideoSource - implemented by sessions that can record video. VideoPath is
// valid after Close.
type VideoSource interface {
	VideoPath() (string, error)
}

// TraceExporter - implemented by sessions with an engine-native trace
type TraceExporter interface {
	ExportTrace(ctx context.Context, path string) error
}

// DOMSnapshotter - implemented by sessions that can dump the current document
type DOMSnapshotter interface {
	HTML(ctx context.Context) (string, error)
}
