// Package otel sets up OpenTelemetry tracing for echod and provides a
// per-connection tracing middleware.
package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	otelapi "go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName identifies spans created by this module
const InstrumentationName = "github.com/fluxorio/echod"

// Exporter names accepted in Config.Exporter
const (
	ExporterStdout = "stdout"
	ExporterZipkin = "zipkin"
	ExporterNone   = "none"
)

// DefaultZipkinEndpoint is used when Exporter is zipkin and Endpoint is empty
const DefaultZipkinEndpoint = "http://localhost:9411/api/v2/spans"

// Config configures tracing
type Config struct {
	Enabled        bool    `yaml:"enabled" json:"enabled"`
	ServiceName    string  `yaml:"service_name" json:"service_name"`
	ServiceVersion string  `yaml:"service_version" json:"service_version"`
	Environment    string  `yaml:"environment" json:"environment"`
	Exporter       string  `yaml:"exporter" json:"exporter"`
	Endpoint       string  `yaml:"endpoint" json:"endpoint"`
	SampleRate     float64 `yaml:"sample_rate" json:"sample_rate"`

	// Writer receives stdout exporter output. Defaults to os.Stdout.
	Writer io.Writer `yaml:"-" json:"-"`
}

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Initialize builds the exporter named by cfg and installs a global tracer
// provider. Calling it again replaces (and shuts down) the previous provider.
func Initialize(ctx context.Context, cfg Config) error {
	exporter, err := newExporter(cfg)
	if err != nil {
		return err
	}
	return InitializeWithExporter(ctx, cfg, exporter)
}

// InitializeWithExporter installs a global tracer provider that batches spans
// to exporter. A nil exporter records spans without exporting them.
func InitializeWithExporter(ctx context.Context, cfg Config, exporter sdktrace.SpanExporter) error {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "echod"
	}
	rate := cfg.SampleRate
	if rate <= 0 || rate > 1 {
		rate = 1
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", cfg.ServiceVersion))
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return fmt.Errorf("otel resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)

	mu.Lock()
	prev := provider
	provider = tp
	mu.Unlock()

	otelapi.SetTracerProvider(tp)
	otelapi.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if prev != nil {
		return prev.Shutdown(ctx)
	}
	return nil
}

func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", ExporterStdout:
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		return stdouttrace.New(stdouttrace.WithWriter(w))
	case ExporterZipkin:
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = DefaultZipkinEndpoint
		}
		return zipkin.New(endpoint)
	case ExporterNone:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// IsInitialized reports whether Initialize has installed a provider
func IsInitialized() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}

// ForceFlush exports every span ended so far
func ForceFlush(ctx context.Context) error {
	mu.Lock()
	tp := provider
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.ForceFlush(ctx)
}

// Shutdown flushes pending spans and stops the provider
func Shutdown(ctx context.Context) error {
	mu.Lock()
	tp := provider
	provider = nil
	mu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}

// Tracer returns the module's tracer from the global provider
func Tracer() trace.Tracer {
	return otelapi.Tracer(InstrumentationName)
}
