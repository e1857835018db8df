package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
	Environment    string
	Endpoint       string
	SampleRate     float64
}

// Tracer wraps an OpenTelemetry tracer and the provider that owns it
type Tracer struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// InitTracing configures the global tracer provider. A disabled config
// yields a no-op tracer so call sites never need to check.
func InitTracing(ctx context.Context, cfg TracingConfig) (*Tracer, error) {
	if !cfg.Enabled {
		return NewNoopTracer(), nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		tracer:   provider.Tracer(cfg.ServiceName),
		shutdown: provider.Shutdown,
	}, nil
}

func samplerFor(cfg TracingConfig) sdktrace.Sampler {
	switch cfg.Environment {
	case "development":
		return sdktrace.AlwaysSample()
	case "production":
		rate := cfg.SampleRate
		if rate <= 0 {
			rate = 0.1
		}
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	default:
		if cfg.SampleRate > 0 {
			return sdktrace.TraceIDRatioBased(cfg.SampleRate)
		}
		return sdktrace.AlwaysSample()
	}
}

// NewNoopTracer returns a tracer that records nothing
func NewNoopTracer() *Tracer {
	return &Tracer{
		tracer:   noop.NewTracerProvider().Tracer("ideaflow"),
		shutdown: func(context.Context) error { return nil },
	}
}

// NewTracerFrom wraps an existing provider, mainly for tests
func NewTracerFrom(provider trace.TracerProvider, name string) *Tracer {
	return &Tracer{
		tracer:   provider.Tracer(name),
		shutdown: func(context.Context) error { return nil },
	}
}

// Tracer returns the underlying OpenTelemetry tracer
func (t *Tracer) Tracer() trace.Tracer {
	return t.tracer
}

// StartSpan starts a span with the given attributes
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// TraceFunction runs fn inside a span and records its error
func (t *Tracer) TraceFunction(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, span := t.StartSpan(ctx, name, attrs...)
	defer span.End()

	if err := fn(ctx); err != nil {
		RecordError(span, err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// RecordError marks the span as failed
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes pending spans
func (t *Tracer) Shutdown(ctx context.Context) error {
	return t.shutdown(ctx)
}
