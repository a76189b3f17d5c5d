package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

type otlpTarget struct {
	endpoint string // host:port
	path     string
	insecure bool
}

// resolveOTLPTarget accepts host[:port] (plain HTTP) or an http(s) URL.
// The port defaults to 4318.
func resolveOTLPTarget(raw string) (otlpTarget, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: empty endpoint")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return otlpTarget{}, fmt.Errorf("telemetry: parse endpoint: %w", err)
	}
	target := otlpTarget{
		endpoint: u.Host,
		path:     strings.TrimSuffix(u.Path, "/"),
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		target.insecure = true
	case "https":
	default:
		return otlpTarget{}, fmt.Errorf("telemetry: unsupported scheme %q (want http or https)", u.Scheme)
	}
	if target.endpoint == "" {
		return otlpTarget{}, fmt.Errorf("telemetry: endpoint %q has no host", raw)
	}
	if u.Port() == "" {
		target.endpoint += ":4318"
	}
	return target, nil
}

// setupTelemetry installs an OTLP/HTTP tracer provider when endpoint is set.
// The returned shutdown flushes pending spans; it is a no-op otherwise.
func setupTelemetry(ctx context.Context, endpoint, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if strings.TrimSpace(endpoint) == "" {
		return noop, nil
	}
	target, err := resolveOTLPTarget(endpoint)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("telemetry: build resource: %w", err)
	}

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(target.endpoint),
		otlptracehttp.WithTimeout(10 * time.Second),
	}
	if target.insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if target.path != "" {
		opts = append(opts, otlptracehttp.WithURLPath(target.path))
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("telemetry: start trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	logInfo("tracing enabled", map[string]interface{}{
		"endpoint": target.endpoint,
		"path":     target.path,
		"insecure": target.insecure,
	})
	return provider.Shutdown, nil
}
