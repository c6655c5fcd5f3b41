package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/jobs take
// - Traffic: Request/job throughput
// - Errors: Rate of failures
// - Saturation: Queue depth and jobs in flight
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Job metrics (Latency, Traffic, Errors, Saturation)
	JobDuration        metric.Float64Histogram
	JobsTotal          metric.Int64Counter
	JobsCoalescedTotal metric.Int64Counter
	JobErrorsTotal     metric.Int64Counter
	JobsCancelledTotal metric.Int64Counter
	JobsExpiredTotal   metric.Int64Counter
	JobsActive         metric.Int64UpDownCounter
	JobQueueSize       metric.Int64Gauge

	// Localization metrics
	LocalizationCacheLookups metric.Int64Counter

	// Event dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration  metric.Float64Histogram
	DispatcherDelivered metric.Int64Counter
	DispatcherFailed    metric.Int64Counter
	DispatcherDropped   metric.Int64Counter
	DispatcherRequeued  metric.Int64Counter
	DispatcherQueueSize metric.Int64Gauge
}

// NewMetrics creates and registers all metrics with a Prometheus exporter
// backed by its own registry, together with runtime and process collectors.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	m := &Metrics{meter: provider.Meter("depot")}
	if err := m.register(); err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// register creates every instrument, stopping at the first failure.
func (m *Metrics) register() error {
	meter := m.meter
	var err error
	counter := func(dst *metric.Int64Counter, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Counter(name, metric.WithDescription(desc))
		}
	}
	gauge := func(dst *metric.Int64Gauge, name, desc string) {
		if err == nil {
			*dst, err = meter.Int64Gauge(name, metric.WithDescription(desc))
		}
	}
	histogram := func(dst *metric.Float64Histogram, name, desc string, bounds ...float64) {
		if err == nil {
			*dst, err = meter.Float64Histogram(name,
				metric.WithDescription(desc),
				metric.WithUnit("s"),
				metric.WithExplicitBucketBoundaries(bounds...),
			)
		}
	}

	// HTTP metrics
	histogram(&m.HTTPRequestDuration, "http_request_duration_seconds", "HTTP request latency in seconds",
		0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	counter(&m.HTTPRequestsTotal, "http_requests_total", "Total number of HTTP requests")
	counter(&m.HTTPErrorsTotal, "http_errors_total", "Total number of HTTP errors (4xx and 5xx)")

	// Job metrics
	histogram(&m.JobDuration, "job_duration_seconds", "Job run duration in seconds",
		0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600)
	counter(&m.JobsTotal, "jobs_total", "Total number of jobs created")
	counter(&m.JobsCoalescedTotal, "jobs_coalesced_total", "Total submissions collapsed onto an existing job")
	counter(&m.JobErrorsTotal, "job_errors_total", "Total number of failed jobs")
	counter(&m.JobsCancelledTotal, "jobs_cancelled_total", "Total number of cancelled jobs")
	counter(&m.JobsExpiredTotal, "jobs_expired_total", "Total number of jobs released by the retention sweep")
	if err == nil {
		m.JobsActive, err = meter.Int64UpDownCounter("jobs_active",
			metric.WithDescription("Number of queued or running jobs (saturation)"))
	}
	gauge(&m.JobQueueSize, "job_queue_size", "Current number of jobs waiting for a worker (saturation)")

	// Localization metrics
	counter(&m.LocalizationCacheLookups, "localization_cache_lookups_total", "Localization bundle cache lookups")

	// Dispatcher metrics
	histogram(&m.DispatcherDuration, "dispatcher_duration_seconds", "Event publish latency in seconds",
		0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
	counter(&m.DispatcherDelivered, "dispatcher_delivered_total", "Total events successfully published")
	counter(&m.DispatcherFailed, "dispatcher_failed_total", "Total events failed after retries")
	counter(&m.DispatcherDropped, "dispatcher_dropped_total", "Total events dropped (buffer full or max requeues)")
	counter(&m.DispatcherRequeued, "dispatcher_requeued_total", "Total events requeued due to open circuit")
	gauge(&m.DispatcherQueueSize, "dispatcher_queue_size", "Current number of events in dispatcher queue (saturation)")

	return err
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

// RecordJobCreated records a new job being queued.
func (m *Metrics) RecordJobCreated(ctx context.Context, kind string) {
	attrs := metric.WithAttributes(kindAttr(kind))
	m.JobsTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, 1, attrs)
}

// RecordJobCoalesced records a submission collapsed onto an existing job.
func (m *Metrics) RecordJobCoalesced(ctx context.Context, kind string) {
	m.JobsCoalescedTotal.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordJobCompleted records a job completing (success or failure).
func (m *Metrics) RecordJobCompleted(ctx context.Context, kind string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(kindAttr(kind), successAttr(success))
	m.JobDuration.Record(ctx, durationSeconds, attrs)
	m.JobsActive.Add(ctx, -1, metric.WithAttributes(kindAttr(kind)))

	if !success {
		m.JobErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordJobCancelled records a queued job being cancelled.
func (m *Metrics) RecordJobCancelled(ctx context.Context, kind string) {
	attrs := metric.WithAttributes(kindAttr(kind))
	m.JobsCancelledTotal.Add(ctx, 1, attrs)
	m.JobsActive.Add(ctx, -1, attrs)
}

// RecordJobQueueSize records the current job queue size.
func (m *Metrics) RecordJobQueueSize(ctx context.Context, size int64) {
	m.JobQueueSize.Record(ctx, size)
}

// RecordJobsExpired records jobs released by the retention sweep.
func (m *Metrics) RecordJobsExpired(ctx context.Context, count int64) {
	m.JobsExpiredTotal.Add(ctx, count)
}

// RecordLocalizationCacheLookup records a bundle cache hit or miss.
func (m *Metrics) RecordLocalizationCacheLookup(ctx context.Context, hit bool) {
	m.LocalizationCacheLookups.Add(ctx, 1, metric.WithAttributes(hitAttr(hit)))
}

// RecordDispatcherDelivered records a successful event publish with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event publish.
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
