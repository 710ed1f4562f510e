package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider("sitecheck", "test", "")
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "scenario.attempt")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_WritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "otel", "spans.jsonl")
	p, err := NewProvider("sitecheck", "test", path)
	require.NoError(t, err)

	_, span := p.Tracer().Start(context.Background(), "scenario.attempt")
	span.SetAttributes(AttrInstance.String("homepage/load[http/desktop-chrome/de]"))
	span.End()

	require.NoError(t, p.Shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "scenario.attempt")
	assert.Contains(t, string(data), "homepage/load[http/desktop-chrome/de]")
}
