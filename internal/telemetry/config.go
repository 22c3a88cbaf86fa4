// Package telemetry wires OpenTelemetry tracing, metrics, and structured
// logging for the taskgraphd backend. When OTLPEndpoint is empty, the
// tracer provider degrades to a no-op implementation with zero export
// overhead, and so does the meter provider unless MetricsAddr selects the
// Prometheus one, so the engine runs the same in tests and in production.
package telemetry

import "log/slog"

// Mode identifies how the taskgraphd binary was launched.
type Mode string

const (
	// ModeServe is the long-running daemon mode (cmd/taskgraphd run).
	ModeServe Mode = "serve"
	// ModeInspect is the one-shot snapshot-inspection CLI mode.
	ModeInspect Mode = "inspect"
	// ModeGC is the one-shot garbage-collection CLI mode.
	ModeGC Mode = "gc"
)

const (
	defaultServiceName        = "taskgraphd"
	defaultShutdownTimeoutSec = 5
)

// Config holds all observability configuration for a single process.
type Config struct {
	// ServiceName is the OTel resource service name.
	ServiceName string

	// ServiceVersion is the semantic version of the running binary.
	ServiceVersion string

	// Environment is the deployment environment ("production", "staging", "dev").
	Environment string

	// Mode identifies how the binary was launched.
	Mode Mode

	// OTLPEndpoint is the OTLP gRPC collector address (e.g. "localhost:4317").
	// Empty disables export; providers become no-op unless MetricsAddr
	// selects the local Prometheus scrape path instead.
	OTLPEndpoint string

	// MetricsAddr, when non-empty and OTLPEndpoint is empty, selects a
	// Prometheus-backed MeterProvider instead of a no-op one. The scrape
	// handler is then available from Providers.MetricsHandler.
	MetricsAddr string

	// OTLPHeaders are additional gRPC metadata headers for the OTLP exporter.
	OTLPHeaders map[string]string

	// OTLPInsecure disables TLS for the OTLP gRPC connection.
	OTLPInsecure bool

	// DebugTrace forces 100% trace sampling when true.
	DebugTrace bool

	// SampleRatio is the trace sampling ratio (0.0 to 1.0) when DebugTrace is false.
	// Zero uses the OTel SDK default (parent-based with always-on root).
	SampleRatio float64

	// LogLevel controls the minimum slog severity.
	LogLevel slog.Level

	// LogJSON enables JSON-formatted log output.
	LogJSON bool

	// ShutdownTimeoutSec is the maximum seconds to wait for flush on shutdown.
	ShutdownTimeoutSec int
}

// DefaultConfig returns a Config with sensible defaults for zero-config startup.
func DefaultConfig() Config {
	return Config{
		ServiceName:        defaultServiceName,
		Mode:               ModeServe,
		LogLevel:           slog.LevelInfo,
		ShutdownTimeoutSec: defaultShutdownTimeoutSec,
	}
}
