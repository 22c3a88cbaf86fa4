package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// newPrometheusReader creates a Prometheus-backed [sdkmetric.Reader] and the
// [http.Handler] that scrapes the same registry it feeds. Unlike a
// standalone exporter built against a throwaway registry, the returned
// reader must be passed to sdkmetric.NewMeterProvider so instruments
// recorded through that provider are the ones the handler serves.
func newPrometheusReader() (sdkmetric.Reader, http.Handler, error) {
	registry := prometheus.NewRegistry()

	reader, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return reader, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
