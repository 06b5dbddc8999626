package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the reconciliation and HTTP metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	meter    metric.Meter
	provider *sdkmetric.MeterProvider

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter

	// Reconciliation metrics
	TickDuration   metric.Float64Histogram
	TicksTotal     metric.Int64Counter
	Submissions    metric.Int64Counter
	PersistedJobs  metric.Int64Counter
	PersistErrors  metric.Int64Counter
	JobsPerBucket  metric.Int64Gauge
	TransferSpeed  metric.Int64Gauge
	EngineOnline   metric.Int64Gauge
	ForeignEntries metric.Int64Counter
}

// NewMetrics creates all instruments on a dedicated Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("blaze")
	m := &Metrics{meter: meter, provider: provider}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TickDuration, err = meter.Float64Histogram(
		"blaze_tick_duration_seconds",
		metric.WithDescription("Duration of one reconciliation tick"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 5),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TicksTotal, err = meter.Int64Counter(
		"blaze_ticks_total",
		metric.WithDescription("Reconciliation ticks by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Submissions, err = meter.Int64Counter(
		"blaze_submissions_total",
		metric.WithDescription("Jobs submitted to the download engine by outcome"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PersistedJobs, err = meter.Int64Counter(
		"blaze_persisted_jobs_total",
		metric.WithDescription("Job records written to the store"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.PersistErrors, err = meter.Int64Counter(
		"blaze_persist_errors_total",
		metric.WithDescription("Failed store writes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobsPerBucket, err = meter.Int64Gauge(
		"blaze_jobs",
		metric.WithDescription("Jobs per presentation bucket"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.TransferSpeed, err = meter.Int64Gauge(
		"blaze_transfer_speed_bytes",
		metric.WithDescription("Aggregate speed of downloading jobs in bytes/sec"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.EngineOnline, err = meter.Int64Gauge(
		"blaze_engine_connected",
		metric.WithDescription("1 when the download engine is reachable"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ForeignEntries, err = meter.Int64Counter(
		"blaze_foreign_statuses_total",
		metric.WithDescription("Engine status entries that matched no known job"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown releases the meter provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	return m.provider.Shutdown(ctx)
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(methodAttr(method), pathAttr(path), statusAttr(statusCode))
	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
}

// RecordTick records one reconciliation tick.
func (m *Metrics) RecordTick(ctx context.Context, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(outcomeAttr(outcome))
	m.TicksTotal.Add(ctx, 1, attrs)
	if outcome != OutcomeSkipped {
		m.TickDuration.Record(ctx, durationSeconds, attrs)
	}
}

// RecordSubmission records one submit call to the engine.
func (m *Metrics) RecordSubmission(ctx context.Context, success bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !success {
		outcome = OutcomeFailed
	}
	m.Submissions.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordPersist records a store write of n jobs.
func (m *Metrics) RecordPersist(ctx context.Context, n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PersistErrors.Add(ctx, 1)
		return
	}
	m.PersistedJobs.Add(ctx, int64(n))
}

// RecordForeignStatus records a status entry that matched no job.
func (m *Metrics) RecordForeignStatus(ctx context.Context) {
	if m == nil {
		return
	}
	m.ForeignEntries.Add(ctx, 1)
}

// RecordSnapshot records gauges derived from the job buckets.
func (m *Metrics) RecordSnapshot(ctx context.Context, active, queued, history int, speed int64, connected bool) {
	if m == nil {
		return
	}
	m.JobsPerBucket.Record(ctx, int64(active), metric.WithAttributes(bucketAttr("active")))
	m.JobsPerBucket.Record(ctx, int64(queued), metric.WithAttributes(bucketAttr("queued")))
	m.JobsPerBucket.Record(ctx, int64(history), metric.WithAttributes(bucketAttr("history")))
	m.TransferSpeed.Record(ctx, speed)
	var online int64
	if connected {
		online = 1
	}
	m.EngineOnline.Record(ctx, online)
}
