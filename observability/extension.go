// Package observability provides an OpenTelemetry-based metrics
// extension for the pipeline. The MetricsExtension implements lifecycle
// hooks to record system-wide counters for job creation, stage changes,
// part completions, failures, retries, and sweeper activity.
//
// For per-stage-execution tracing and metrics, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxpipe/voxpipe/ext"
	"github.com/voxpipe/voxpipe/job"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/voxpipe/voxpipe/observability"

// Compile-time interface checks.
var (
	_ ext.Extension     = (*MetricsExtension)(nil)
	_ ext.JobCreated    = (*MetricsExtension)(nil)
	_ ext.StageChanged  = (*MetricsExtension)(nil)
	_ ext.PartCompleted = (*MetricsExtension)(nil)
	_ ext.JobCompleted  = (*MetricsExtension)(nil)
	_ ext.JobFailed     = (*MetricsExtension)(nil)
	_ ext.JobRetried    = (*MetricsExtension)(nil)
	_ ext.SweepFired    = (*MetricsExtension)(nil)
)

// MetricsExtension records pipeline lifecycle metrics via OpenTelemetry.
// Register it on the extension registry to track upload rates, stage
// transitions, part throughput, failures, retries, and swept jobs.
type MetricsExtension struct {
	jobsCreated    metric.Int64Counter
	stageChanges   metric.Int64Counter
	partsCompleted metric.Int64Counter
	jobsCompleted  metric.Int64Counter
	jobDuration    metric.Float64Histogram
	jobsFailed     metric.Int64Counter
	jobsRetried    metric.Int64Counter
	jobsSwept      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. Use this variant to inject a test MeterProvider.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}
	// Instrument creation errors leave noop instruments behind, which
	// is the degradation we want.
	m.jobsCreated, _ = meter.Int64Counter("voxpipe.jobs.created",
		metric.WithDescription("Total jobs created from uploads"))
	m.stageChanges, _ = meter.Int64Counter("voxpipe.stage.changes",
		metric.WithDescription("Total stage transitions"))
	m.partsCompleted, _ = meter.Int64Counter("voxpipe.parts.completed",
		metric.WithDescription("Total transcription parts completed"))
	m.jobsCompleted, _ = meter.Int64Counter("voxpipe.jobs.completed",
		metric.WithDescription("Total jobs summarized"))
	m.jobDuration, _ = meter.Float64Histogram("voxpipe.job.duration",
		metric.WithDescription("End-to-end job duration in seconds"),
		metric.WithUnit("s"))
	m.jobsFailed, _ = meter.Int64Counter("voxpipe.jobs.failed",
		metric.WithDescription("Total jobs entering a failure stage"))
	m.jobsRetried, _ = meter.Int64Counter("voxpipe.jobs.retried",
		metric.WithDescription("Total operator retries"))
	m.jobsSwept, _ = meter.Int64Counter("voxpipe.jobs.swept",
		metric.WithDescription("Total stalled jobs failed by the sweeper"))
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobCreated implements ext.JobCreated.
func (m *MetricsExtension) OnJobCreated(ctx context.Context, _ *job.Job) error {
	m.jobsCreated.Add(ctx, 1)
	return nil
}

// OnStageChanged implements ext.StageChanged.
func (m *MetricsExtension) OnStageChanged(ctx context.Context, _ *job.Job, from, to job.Stage) error {
	m.stageChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
	return nil
}

// OnPartCompleted implements ext.PartCompleted.
func (m *MetricsExtension) OnPartCompleted(ctx context.Context, _ *job.Job, _ int) error {
	m.partsCompleted.Add(ctx, 1)
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, _ *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Add(ctx, 1)
	m.jobDuration.Record(ctx, elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.jobsFailed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", string(j.Stage)),
	))
	return nil
}

// OnJobRetried implements ext.JobRetried.
func (m *MetricsExtension) OnJobRetried(ctx context.Context, _ *job.Job, _ int) error {
	m.jobsRetried.Add(ctx, 1)
	return nil
}

// OnSweepFired implements ext.SweepFired.
func (m *MetricsExtension) OnSweepFired(ctx context.Context, _ *job.Job, _ time.Duration) error {
	m.jobsSwept.Add(ctx, 1)
	return nil
}
