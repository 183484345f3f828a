package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// HTTPMetrics records request counts and latencies through OpenTelemetry,
// exported into the Registry's Prometheus registry.
type HTTPMetrics struct {
	provider *sdkmetric.MeterProvider
	requests metric.Int64Counter
	duration metric.Float64Histogram
}

// SetupHTTP wires an OpenTelemetry meter provider into r.
func SetupHTTP(r *Registry, serviceName string) (*HTTPMetrics, error) {
	exporter, err := otelprom.New(
		otelprom.WithRegisterer(r.Prometheus()),
		otelprom.WithoutTargetInfo(),
		otelprom.WithoutScopeInfo(),
	)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &HTTPMetrics{provider: provider}

	m.requests, err = meter.Int64Counter(
		"ttlkv_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"ttlkv_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records one finished request. route is the chi route
// pattern, not the raw path, so keys do not explode label cardinality.
func (m *HTTPMetrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	)

	m.requests.Add(ctx, 1, labels)
	m.duration.Record(ctx, duration.Seconds(), labels)
}

// Shutdown flushes and stops the meter provider.
func (m *HTTPMetrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}
