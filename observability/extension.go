package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ratchetlabs/ratchet/ext"
	"github.com/ratchetlabs/ratchet/id"
	"github.com/ratchetlabs/ratchet/run"
)

// meterName is the instrumentation scope name for extension metrics.
const meterName = "github.com/ratchetlabs/ratchet/observability"

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.RunStarted   = (*MetricsExtension)(nil)
	_ ext.RunCompleted = (*MetricsExtension)(nil)
	_ ext.RunFailed    = (*MetricsExtension)(nil)
	_ ext.RunCancelled = (*MetricsExtension)(nil)
	_ ext.RunSuspended = (*MetricsExtension)(nil)
	_ ext.RunResumed   = (*MetricsExtension)(nil)
	_ ext.StepReplayed = (*MetricsExtension)(nil)
	_ ext.CronFired    = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via OpenTelemetry.
// Register it as an extension to automatically track run starts,
// completions, failures, cancellations, suspensions, resumes, step
// replays, and cron fires.
//
// Live step executions are measured by middleware.Metrics. Replayed steps
// never reach the middleware chain, so the replay counter lives here.
type MetricsExtension struct {
	runsStarted   metric.Int64Counter
	runsCompleted metric.Int64Counter
	runsFailed    metric.Int64Counter
	runsCancelled metric.Int64Counter
	runsSuspended metric.Int64Counter
	runsResumed   metric.Int64Counter
	stepsReplayed metric.Int64Counter
	cronFired     metric.Int64Counter

	runDuration metric.Float64Histogram
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no MeterProvider is configured, noop instruments are
// used and the extension records nothing.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific MeterProvider
// for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	duration, err := meter.Float64Histogram(
		"ratchet.run.duration",
		metric.WithDescription("Time from run creation to completion in seconds"),
		metric.WithUnit("s"),
	)
	_ = err // noop fallback guaranteed by OTel API contract

	return &MetricsExtension{
		runsStarted:   counter(meter, "ratchet.run.started", "Total runs that began a first attempt", "{run}"),
		runsCompleted: counter(meter, "ratchet.run.completed", "Total runs that finished successfully", "{run}"),
		runsFailed:    counter(meter, "ratchet.run.failed", "Total runs that failed terminally", "{run}"),
		runsCancelled: counter(meter, "ratchet.run.cancelled", "Total runs cancelled before finishing", "{run}"),
		runsSuspended: counter(meter, "ratchet.run.suspended", "Total attempts parked on a durable timer", "{run}"),
		runsResumed:   counter(meter, "ratchet.run.resumed", "Total suspended runs picked up for replay", "{run}"),
		stepsReplayed: counter(meter, "ratchet.step.replayed", "Total steps satisfied from the ledger", "{step}"),
		cronFired:     counter(meter, "ratchet.cron.fired", "Total cron fires that started a run", "{fire}"),
		runDuration:   duration,
	}
}

func counter(meter metric.Meter, name, desc, unit string) metric.Int64Counter {
	c, err := meter.Int64Counter(name,
		metric.WithDescription(desc),
		metric.WithUnit(unit),
	)
	_ = err // noop fallback guaranteed by OTel API contract
	return c
}

func handlerAttr(r *run.Run) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("handler", r.Handler))
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements ext.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *run.Run) error {
	m.runsStarted.Add(ctx, 1, handlerAttr(r))
	return nil
}

// OnRunCompleted implements ext.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *run.Run, elapsed time.Duration) error {
	m.runsCompleted.Add(ctx, 1, handlerAttr(r))
	m.runDuration.Record(ctx, elapsed.Seconds(), handlerAttr(r))
	return nil
}

// OnRunFailed implements ext.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *run.Run, _ error) error {
	m.runsFailed.Add(ctx, 1, handlerAttr(r))
	return nil
}

// OnRunCancelled implements ext.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, r *run.Run) error {
	m.runsCancelled.Add(ctx, 1, handlerAttr(r))
	return nil
}

// OnRunSuspended implements ext.RunSuspended.
func (m *MetricsExtension) OnRunSuspended(ctx context.Context, r *run.Run, _ time.Time) error {
	m.runsSuspended.Add(ctx, 1, handlerAttr(r))
	return nil
}

// OnRunResumed implements ext.RunResumed.
func (m *MetricsExtension) OnRunResumed(ctx context.Context, r *run.Run) error {
	m.runsResumed.Add(ctx, 1, handlerAttr(r))
	return nil
}

// ── Step and cron hooks ─────────────────────────────

// OnStepReplayed implements ext.StepReplayed.
func (m *MetricsExtension) OnStepReplayed(ctx context.Context, r *run.Run, _ int, _ string) error {
	m.stepsReplayed.Add(ctx, 1, handlerAttr(r))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.RunID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
