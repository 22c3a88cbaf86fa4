package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricTasksExecutedTotal    = "taskgraph.tasks.executed.total"
	metricTaskExecutionDuration = "taskgraph.task.execution.duration.seconds"
	metricInvalidationsTotal    = "taskgraph.invalidations.total"
	metricActiveTasks           = "taskgraph.tasks.active"
	metricSnapshotDuration      = "taskgraph.snapshot.duration.seconds"
	metricSnapshotTaskCount     = "taskgraph.snapshot.tasks"

	attrTaskType = "task_type"
	attrStatus   = "status"
	attrReason   = "reason"

	statusOK    = "ok"
	statusError = "error"
)

// durationBucketBoundaries covers 1ms to 60s, the range a cached task read
// (sub-millisecond) through a cold aggregation recompute (tens of seconds)
// is expected to fall in.
var durationBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// BackendMetrics holds the OTel instruments recording backend activity:
// task executions, invalidations, and snapshot barriers.
type BackendMetrics struct {
	tasksExecutedTotal    metric.Int64Counter
	taskExecutionDuration metric.Float64Histogram
	invalidationsTotal    metric.Int64Counter
	activeTasks           metric.Int64UpDownCounter
	snapshotDuration      metric.Float64Histogram
	snapshotTaskCount     metric.Int64Histogram
}

// NewBackendMetrics creates the backend's instrument set from the given meter.
func NewBackendMetrics(mt metric.Meter) (*BackendMetrics, error) {
	b := newMetricBuilder(mt)

	bm := &BackendMetrics{
		tasksExecutedTotal:    b.counter(metricTasksExecutedTotal, "Total number of task executions", "{task}"),
		taskExecutionDuration: b.histogram(metricTaskExecutionDuration, "Task execution duration in seconds", "s", durationBucketBoundaries...),
		invalidationsTotal:    b.counter(metricInvalidationsTotal, "Total number of task invalidations", "{task}"),
		activeTasks:           b.upDownCounter(metricActiveTasks, "Number of tasks currently executing", "{task}"),
		snapshotDuration:      b.histogram(metricSnapshotDuration, "Snapshot persistence duration in seconds", "s"),
		snapshotTaskCount:     b.histogramNoBounds(metricSnapshotTaskCount, "Number of dirty tasks written by a snapshot", "{task}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return bm, nil
}

// RecordTaskExecution records a completed task execution with its task
// type, status, and duration.
func (bm *BackendMetrics) RecordTaskExecution(ctx context.Context, taskType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String(attrTaskType, taskType),
		attribute.String(attrStatus, status),
	)

	bm.tasksExecutedTotal.Add(ctx, 1, attrs)
	bm.taskExecutionDuration.Record(ctx, duration.Seconds(), attrs)
}

// TrackActiveTask increments the active-task gauge and returns a function
// to decrement it when the task execution completes.
func (bm *BackendMetrics) TrackActiveTask(ctx context.Context, taskType string) func() {
	attrs := metric.WithAttributes(attribute.String(attrTaskType, taskType))
	bm.activeTasks.Add(ctx, 1, attrs)

	return func() {
		bm.activeTasks.Add(ctx, -1, attrs)
	}
}

// RecordInvalidation records a task invalidation with its reason (e.g.
// "cell_write", "collectible_change", "dependency_dirty").
func (bm *BackendMetrics) RecordInvalidation(ctx context.Context, reason string) {
	bm.invalidationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrReason, reason)))
}

// RecordSnapshot records a completed snapshot write: its wall-clock
// duration and the number of dirty tasks it persisted.
func (bm *BackendMetrics) RecordSnapshot(ctx context.Context, duration time.Duration, taskCount int) {
	bm.snapshotDuration.Record(ctx, duration.Seconds())
	bm.snapshotTaskCount.Record(ctx, int64(taskCount))
}

// metricBuilder accumulates OTel instrument creation errors, enabling
// batch construction with a single error check.
type metricBuilder struct {
	meter metric.Meter
	err   error
}

func newMetricBuilder(mt metric.Meter) *metricBuilder {
	return &metricBuilder{meter: mt}
}

func (b *metricBuilder) counter(name, desc, unit string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) histogram(name, desc, unit string, bounds ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	}

	if len(bounds) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}

	h, err := b.meter.Float64Histogram(name, opts...)
	b.setErr(name, err)

	return h
}

func (b *metricBuilder) histogramNoBounds(name, desc, unit string) metric.Int64Histogram {
	h, err := b.meter.Int64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return h
}

func (b *metricBuilder) upDownCounter(name, desc, unit string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc), metric.WithUnit(unit))
	b.setErr(name, err)

	return c
}

func (b *metricBuilder) setErr(name string, err error) {
	if err != nil && b.err == nil {
		b.err = fmt.Errorf("create %s: %w", name, err)
	}
}
