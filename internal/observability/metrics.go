package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/tasks/lookups take
// - Traffic: Request/task/transition throughput
// - Errors: Rate of failures
// - Saturation: Unfinished tasks and dispatcher queue depth
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Task metrics (Latency, Traffic, Errors, Saturation)
	TaskDuration       metric.Float64Histogram
	TasksTotal         metric.Int64Counter
	TaskTransitions    metric.Int64Counter
	TasksActive        metric.Int64UpDownCounter
	RuntimeErrorsTotal metric.Int64Counter

	// Container runtime housekeeping
	ImagePullDuration metric.Float64Histogram
	ContainersRemoved metric.Int64Counter

	// Release lookups (Latency, Traffic, Errors)
	ReleaseLookupDuration metric.Float64Histogram
	ReleaseLookupsTotal   metric.Int64Counter

	// Completion poller
	PollSweepDuration metric.Float64Histogram
	PollInspected     metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m, err := newMetrics(provider.Meter("coordinator"))
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{meter: meter}
	var err error

	// HTTP metrics
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, err
	}

	// Task metrics
	if m.TaskDuration, err = meter.Float64Histogram(
		"task_duration_seconds",
		metric.WithDescription("Time from task registration to a terminal state"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 14400),
	); err != nil {
		return nil, err
	}
	if m.TasksTotal, err = meter.Int64Counter(
		"tasks_total",
		metric.WithDescription("Total number of tasks registered"),
	); err != nil {
		return nil, err
	}
	if m.TaskTransitions, err = meter.Int64Counter(
		"task_transitions_total",
		metric.WithDescription("Applied lifecycle transitions"),
	); err != nil {
		return nil, err
	}
	if m.TasksActive, err = meter.Int64UpDownCounter(
		"tasks_active",
		metric.WithDescription("Tasks not yet in a terminal state (saturation)"),
	); err != nil {
		return nil, err
	}
	if m.RuntimeErrorsTotal, err = meter.Int64Counter(
		"runtime_errors_total",
		metric.WithDescription("Container runtime failures that failed a task"),
	); err != nil {
		return nil, err
	}

	// Runtime housekeeping
	if m.ImagePullDuration, err = meter.Float64Histogram(
		"image_pull_duration_seconds",
		metric.WithDescription("ETL image pull latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300),
	); err != nil {
		return nil, err
	}
	if m.ContainersRemoved, err = meter.Int64Counter(
		"containers_removed_total",
		metric.WithDescription("Exited containers removed after retention"),
	); err != nil {
		return nil, err
	}

	// Release lookups
	if m.ReleaseLookupDuration, err = meter.Float64Histogram(
		"release_lookup_duration_seconds",
		metric.WithDescription("Release coordinator lookup latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.ReleaseLookupsTotal, err = meter.Int64Counter(
		"release_lookups_total",
		metric.WithDescription("Release coordinator lookups by outcome"),
	); err != nil {
		return nil, err
	}

	// Poller
	if m.PollSweepDuration, err = meter.Float64Histogram(
		"poll_sweep_duration_seconds",
		metric.WithDescription("Duration of one completion-detection sweep"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),
	); err != nil {
		return nil, err
	}
	if m.PollInspected, err = meter.Int64Counter(
		"poll_inspected_total",
		metric.WithDescription("Running tasks inspected by the poller"),
	); err != nil {
		return nil, err
	}

	// Dispatcher metrics
	if m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Callback delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}
	if m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	); err != nil {
		return nil, err
	}
	if m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordImagePull records an ETL image pull. Safe on a nil receiver.
func (m *Metrics) RecordImagePull(ctx context.Context, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.ImagePullDuration.Record(ctx, d.Seconds(), metric.WithAttributes(successAttr(err == nil)))
}

// RecordContainersRemoved records a maintenance sweep. Safe on a nil receiver.
func (m *Metrics) RecordContainersRemoved(ctx context.Context, n int) {
	if m == nil {
		return
	}
	m.ContainersRemoved.Add(ctx, int64(n))
}

// RecordReleaseLookup records one release coordinator lookup (all retries
// included). Safe on a nil receiver.
func (m *Metrics) RecordReleaseLookup(ctx context.Context, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.ReleaseLookupDuration.Record(ctx, d.Seconds(), attrs)
	m.ReleaseLookupsTotal.Add(ctx, 1, attrs)
}

// RecordPollSweep records one poller pass. Safe on a nil receiver.
func (m *Metrics) RecordPollSweep(ctx context.Context, inspected int, d time.Duration) {
	if m == nil {
		return
	}
	m.PollSweepDuration.Record(ctx, d.Seconds())
	m.PollInspected.Add(ctx, int64(inspected))
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
