package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "github.com/ternarybob/sitecheck"

// Common attribute keys
var (
	AttrRunID     = attribute.Key("sitecheck.run.id")
	AttrInstance  = attribute.Key("sitecheck.instance.id")
	AttrScenario  = attribute.Key("sitecheck.scenario")
	AttrEngine    = attribute.Key("sitecheck.engine")
	AttrDevice    = attribute.Key("sitecheck.device")
	AttrLocale    = attribute.Key("sitecheck.locale")
	AttrAttempt   = attribute.Key("sitecheck.attempt")
	AttrStepKind  = attribute.Key("sitecheck.step.kind")
	AttrStatus    = attribute.Key("sitecheck.status")
	AttrURL       = attribute.Key("http.url")
	AttrHTTPCode  = attribute.Key("http.status_code")
	AttrAssertion = attribute.Key("sitecheck.assertion")
)

// Provider owns the tracer provider. Without an output path it hands out a
// no-op tracer.
type Provider struct {
	provider *sdktrace.TracerProvider
	out      io.Closer
	tracer   trace.Tracer
}

// NewProvider exports spans as JSON lines to path; an empty path disables tracing
func NewProvider(serviceName, version, path string) (*Provider, error) {
	if path == "" {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(file))
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", version),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	return &Provider{
		provider: provider,
		out:      file,
		tracer:   provider.Tracer(tracerName),
	}, nil
}

// Tracer returns the tracer components start spans with
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Shutdown flushes pending spans and closes the output file
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	err := p.provider.Shutdown(ctx)
	if cerr := p.out.Close(); err == nil {
		err = cerr
	}
	return err
}
