package telemetry

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const exporterTimeout = 3 * time.Second

// a batch run is short-lived, metrics are pushed more often than a
// server would
const metricInterval = 5 * time.Second

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

// grpc is preferred when both endpoints are set.
func (c OtlpConnConfig) useGrpc() bool {
	return c.GrpcEndpoint != ""
}

func (c OtlpConnConfig) endpoint() string {
	if c.useGrpc() {
		return c.GrpcEndpoint
	}
	return c.HttpEndpoint
}

func (c OtlpConnConfig) logInit(signal string) {
	transport := "http"
	if c.useGrpc() {
		transport = "grpc"
	}
	slog.Info(
		"otlp exporter initialized",
		"signal", signal,
		"type", transport,
		"endpoint", c.endpoint(),
		"headers", len(c.Headers) > 0,
	)
}

func newTraceProvider(ctx context.Context, r *resource.Resource, config Config) (*trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	conn := config.Otlp.Traces
	var (
		exporter trace.SpanExporter
		err      error
	)
	if conn.useGrpc() {
		exporter, err = otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(conn.GrpcEndpoint),
			otlptracegrpc.WithHeaders(conn.Headers),
		)
	} else {
		exporter, err = otlptracehttp.New(
			ctx,
			otlptracehttp.WithEndpointURL(conn.HttpEndpoint),
			otlptracehttp.WithHeaders(conn.Headers),
		)
	}
	if err != nil {
		return nil, err
	}
	conn.logInit("traces")

	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
	), nil
}

func newMetricProvider(ctx context.Context, r *resource.Resource, config Config) (*metric.MeterProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exporterTimeout)
	defer cancel()

	conn := config.Otlp.Metrics
	var (
		exporter metric.Exporter
		err      error
	)
	if conn.useGrpc() {
		exporter, err = otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(conn.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(conn.Headers),
		)
	} else {
		exporter, err = otlpmetrichttp.New(
			ctx,
			otlpmetrichttp.WithEndpointURL(conn.HttpEndpoint),
			otlpmetrichttp.WithHeaders(conn.Headers),
		)
	}
	if err != nil {
		return nil, err
	}
	conn.logInit("metrics")

	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(metricInterval))),
		metric.WithResource(r),
	), nil
}
