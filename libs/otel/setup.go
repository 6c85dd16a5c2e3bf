package otelx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/estatecraft/agentdesk/libs/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

type Config struct {
	Enabled       bool
	ServiceName   string
	Version       string
	Environment   string
	OTLPEndpoint  string // host:port of the collector
	Insecure      bool
	SampleRatio   float64
	ExportTimeout time.Duration
}

// ConfigFromEnv reads the OTEL_* keys plus SERVICE_VERSION and
// DEPLOY_ENV. Malformed values fall back to the defaults.
func ConfigFromEnv(serviceName string) Config {
	cfg := Config{
		Enabled:       true,
		ServiceName:   serviceName,
		Version:       config.String("SERVICE_VERSION", "dev"),
		Environment:   config.String("DEPLOY_ENV", "local"),
		OTLPEndpoint:  config.String("OTEL_EXPORTER_OTLP_ENDPOINT", "jaeger:4317"),
		Insecure:      true,
		SampleRatio:   1,
		ExportTimeout: 3 * time.Second,
	}
	if b, err := config.Bool("OTEL_ENABLED", true); err == nil {
		cfg.Enabled = b
	}
	if b, err := config.Bool("OTEL_EXPORTER_OTLP_INSECURE", true); err == nil {
		cfg.Insecure = b
	}
	if f, err := strconv.ParseFloat(config.String("OTEL_SAMPLING_RATIO", "1"), 64); err == nil && f >= 0 && f <= 1 {
		cfg.SampleRatio = f
	}
	if d, err := config.Duration("OTEL_EXPORT_TIMEOUT", cfg.ExportTimeout); err == nil && d > 0 {
		cfg.ExportTimeout = d
	}
	return cfg
}

func (c Config) attributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		semconv.ServiceName(c.ServiceName),
		semconv.ServiceVersion(c.Version),
		semconv.DeploymentEnvironment(c.Environment),
	}
}

func (c Config) sampler() sdktrace.Sampler {
	switch {
	case c.SampleRatio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case c.SampleRatio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(c.SampleRatio))
	}
}

// Setup installs the W3C propagators and, when enabled, a batching OTLP
// tracer provider. The returned func flushes pending spans.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithTelemetrySDK(), resource.WithAttributes(cfg.attributes()...))
	if err != nil {
		return nil, fmt.Errorf("otel resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(cfg.sampler()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	return provider.Shutdown, nil
}
