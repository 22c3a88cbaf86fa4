package telemetry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/codefang-labs/taskgraph/internal/telemetry"
)

func setupTestMeter(t *testing.T) (*telemetry.BackendMetrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := mp.Meter("test")

	bm, err := telemetry.NewBackendMetrics(meter)
	require.NoError(t, err)

	return bm, reader
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()

	var rm metricdata.ResourceMetrics

	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for idx := range rm.ScopeMetrics {
		for midx := range rm.ScopeMetrics[idx].Metrics {
			if rm.ScopeMetrics[idx].Metrics[midx].Name == name {
				return &rm.ScopeMetrics[idx].Metrics[midx]
			}
		}
	}

	return nil
}

func TestBackendMetrics_RecordTaskExecution(t *testing.T) {
	t.Parallel()
	bm, reader := setupTestMeter(t)
	ctx := context.Background()

	bm.RecordTaskExecution(ctx, "compute_aggregate", "ok", 100*time.Millisecond)

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "taskgraph.tasks.executed.total"))
	assert.NotNil(t, findMetric(rm, "taskgraph.task.execution.duration.seconds"))
}

func TestBackendMetrics_TrackActiveTask(t *testing.T) {
	t.Parallel()
	bm, reader := setupTestMeter(t)
	ctx := context.Background()

	done := bm.TrackActiveTask(ctx, "compute_aggregate")

	rm := collectMetrics(t, reader)
	active := findMetric(rm, "taskgraph.tasks.active")
	require.NotNil(t, active)

	sum, ok := active.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)

	done()

	rm = collectMetrics(t, reader)
	active = findMetric(rm, "taskgraph.tasks.active")
	require.NotNil(t, active)

	sum, ok = active.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(0), sum.DataPoints[0].Value)
}

func TestBackendMetrics_RecordInvalidation(t *testing.T) {
	t.Parallel()
	bm, reader := setupTestMeter(t)
	ctx := context.Background()

	bm.RecordInvalidation(ctx, "cell_write")

	rm := collectMetrics(t, reader)
	total := findMetric(rm, "taskgraph.invalidations.total")
	require.NotNil(t, total)

	sum, ok := total.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	assert.Equal(t, int64(1), sum.DataPoints[0].Value)
}

func TestBackendMetrics_RecordSnapshot(t *testing.T) {
	t.Parallel()
	bm, reader := setupTestMeter(t)
	ctx := context.Background()

	bm.RecordSnapshot(ctx, 250*time.Millisecond, 42)

	rm := collectMetrics(t, reader)

	assert.NotNil(t, findMetric(rm, "taskgraph.snapshot.duration.seconds"))
	assert.NotNil(t, findMetric(rm, "taskgraph.snapshot.tasks"))
}
