// Package telemetry wires OpenTelemetry metrics to the Prometheus registry.
//
// Counters and histograms created through otel.Meter anywhere in the process
// become visible on the /metrics endpoint once Setup has run. Telemetry
// failures never crash the daemon; Setup degrades to the global no-op
// providers and reports the error for logging.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Telemetry holds the configured meter provider.
type Telemetry struct {
	meterProvider *sdkmetric.MeterProvider
}

// Setup installs a Prometheus-backed global meter provider.
//
// The exporter registers against the default Prometheus registry, so
// promhttp.Handler() serves the collected metrics.
func Setup(serviceName, serviceVersion string) (*Telemetry, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	exporter, err := prometheus.New()
	if err != nil {
		return &Telemetry{}, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return &Telemetry{meterProvider: mp}, nil
}

// Shutdown flushes and stops the meter provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t == nil || t.meterProvider == nil {
		return nil
	}
	return t.meterProvider.Shutdown(ctx)
}
