package telemetry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/codefang-labs/taskgraph/internal/telemetry"
)

func TestNewSchedulerMetrics_RegistersObservableInstruments(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	sm, err := telemetry.NewSchedulerMetrics(mp.Meter("test"))
	require.NoError(t, err)
	require.NotNil(t, sm)

	rm := collectMetrics(t, reader)
	assert.NotNil(t, findMetric(rm, "taskgraph.runtime.goroutines"))
	assert.NotNil(t, findMetric(rm, "taskgraph.runtime.threads"))
}

func TestNewSchedulerMetrics_NoopMeter(t *testing.T) {
	t.Parallel()

	mt := noopmetric.NewMeterProvider().Meter("test")
	sm, err := telemetry.NewSchedulerMetrics(mt)

	require.NoError(t, err)
	require.NotNil(t, sm)
}
