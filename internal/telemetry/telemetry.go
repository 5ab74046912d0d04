// Package telemetry wires the in-process OpenTelemetry pipeline behind the
// instrument APIs the rest of the code records against.
package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// SetupMetrics installs the global meter provider, bridged to reg so every
// recorded instrument surfaces on the prometheus scrape. Must run before any
// package constructs its Metrics. The returned func flushes and shuts the
// provider down.
func SetupMetrics(reg prometheus.Registerer) (func(context.Context) error, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("creating prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	return provider.Shutdown, nil
}
