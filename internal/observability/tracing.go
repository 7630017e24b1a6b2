// Package observability sets up OpenTelemetry tracing.
package observability

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dmitrijs2005/certkeeper/internal/logging"
)

// TracingConfig selects the span exporter. With neither an endpoint nor
// Stdout set, spans are sampled but not exported.
type TracingConfig struct {
	ServiceName string
	Version     string
	// Endpoint is an OTLP/HTTP host:port or URL.
	Endpoint string
	Insecure bool
	// Stdout writes spans to StdoutWriter when no endpoint is set.
	Stdout       bool
	StdoutWriter io.Writer
}

// Shutdown flushes and stops the tracer provider.
type Shutdown func(context.Context) error

// InitTracing installs a global tracer provider and W3C propagators.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (Shutdown, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "certkeeper"
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		log.Warn(ctx, "otel resource init failed, continuing", "error", err)
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
	}
	exp, err := buildExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	log.Info(ctx, "tracing initialized", "service", name, "endpoint", cfg.Endpoint, "stdout", cfg.Stdout)
	return tp.Shutdown, nil
}

func buildExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		var opts []otlptracehttp.Option
		if strings.Contains(endpoint, "://") {
			opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
		} else {
			opts = append(opts, otlptracehttp.WithEndpoint(endpoint))
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	if cfg.Stdout {
		var opts []stdouttrace.Option
		if cfg.StdoutWriter != nil {
			opts = append(opts, stdouttrace.WithWriter(cfg.StdoutWriter))
		}
		return stdouttrace.New(opts...)
	}
	return nil, nil
}
