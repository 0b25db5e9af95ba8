// Package metrics records job coordination counters through the OTel metric
// API. Without a configured MeterProvider the global noop provider is used and
// every call is a no-op.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for compression service metrics
const meterName = "github.com/cuongbtq/compression-service"

// Recorder holds the instruments shared by the api, worker and watchdog processes
type Recorder struct {
	submitted       metric.Int64Counter
	enqueueFailures metric.Int64Counter
	requeued        metric.Int64Counter
	reconciled      metric.Int64Counter
	reapedFailed    metric.Int64Counter
	completed       metric.Int64Counter
	duration        metric.Float64Histogram
}

// New returns a Recorder on the global MeterProvider
func New() *Recorder {
	return NewWithMeter(otel.Meter(meterName))
}

// NewWithMeter returns a Recorder on meter. Instrument creation errors fall
// back to noop instruments per the OTel API contract.
func NewWithMeter(meter metric.Meter) *Recorder {
	r := &Recorder{}

	r.submitted, _ = meter.Int64Counter(
		"compression.jobs.submitted",
		metric.WithDescription("Jobs recorded in the ledger"),
		metric.WithUnit("{job}"),
	)
	r.enqueueFailures, _ = meter.Int64Counter(
		"compression.jobs.enqueue_failures",
		metric.WithDescription("Committed jobs whose id could not be pushed to the dispatch queue"),
		metric.WithUnit("{job}"),
	)
	r.requeued, _ = meter.Int64Counter(
		"compression.jobs.requeued",
		metric.WithDescription("Jobs returned to pending for another attempt"),
		metric.WithUnit("{job}"),
	)
	r.reconciled, _ = meter.Int64Counter(
		"compression.jobs.reconciled",
		metric.WithDescription("Pending jobs pushed back onto the dispatch queue by the sweep"),
		metric.WithUnit("{job}"),
	)
	r.reapedFailed, _ = meter.Int64Counter(
		"compression.jobs.reaped_failed",
		metric.WithDescription("Stalled jobs failed after exhausting retries"),
		metric.WithUnit("{job}"),
	)
	r.completed, _ = meter.Int64Counter(
		"compression.jobs.completed",
		metric.WithDescription("Jobs that reached a terminal status in a worker"),
		metric.WithUnit("{job}"),
	)
	r.duration, _ = meter.Float64Histogram(
		"compression.job.duration",
		metric.WithDescription("Compression time in seconds"),
		metric.WithUnit("s"),
	)

	return r
}

func (r *Recorder) JobSubmitted(ctx context.Context, algorithm string) {
	r.submitted.Add(ctx, 1, metric.WithAttributes(attribute.String("algorithm", algorithm)))
}

func (r *Recorder) EnqueueFailed(ctx context.Context) {
	r.enqueueFailures.Add(ctx, 1)
}

// JobRequeued counts a return to pending. reason is "stale" or "error".
func (r *Recorder) JobRequeued(ctx context.Context, reason string) {
	r.requeued.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (r *Recorder) JobReconciled(ctx context.Context) {
	r.reconciled.Add(ctx, 1)
}

func (r *Recorder) JobReapedFailed(ctx context.Context) {
	r.reapedFailed.Add(ctx, 1)
}

// JobCompleted records a terminal worker outcome and how long compression took
func (r *Recorder) JobCompleted(ctx context.Context, algorithm, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("algorithm", algorithm),
		attribute.String("status", status),
	)
	r.completed.Add(ctx, 1, attrs)
	r.duration.Record(ctx, elapsed.Seconds(), attrs)
}
