package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the packaging pipeline and its HTTP API.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	assetsIngested   *prometheus.CounterVec
	assetsFinished   *prometheus.CounterVec
	activeAssets     prometheus.Gauge
	jobRetries       prometheus.Counter
	jobFailures      *prometheus.CounterVec
	segmentsUploaded prometheus.Counter
	segmentBytes     prometheus.Counter
	jobDuration      prometheus.Histogram
	poolBusy         prometheus.Gauge
	poolQueued       prometheus.Gauge
}

// New creates and registers the collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_http_requests_total",
			Help: "Total number of HTTP requests received, by method and route",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_http_errors_total",
			Help: "Total number of HTTP responses with error status, by status class",
		}, []string{"class"}),
		assetsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_assets_ingested_total",
			Help: "Pipeline runs started, by collection",
		}, []string{"collection"}),
		assetsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_assets_finished_total",
			Help: "Pipeline runs finished, by terminal state",
		}, []string{"state"}),
		activeAssets: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_active_assets",
			Help: "Assets with a pipeline run in flight",
		}),
		jobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_job_retries_total",
			Help: "Rendition job attempts rescheduled after a transient failure",
		}),
		jobFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "abr_job_failures_total",
			Help: "Rendition jobs that ended failed, by error class",
		}, []string{"class"}),
		segmentsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_segments_uploaded_total",
			Help: "Segments written to the blob store",
		}),
		segmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "abr_segment_bytes_total",
			Help: "Bytes of segment data written to the blob store",
		}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "abr_job_duration_seconds",
			Help:    "Wall time of one rendition job attempt",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		poolBusy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_pool_busy_workers",
			Help: "Worker slots currently running a job",
		}),
		poolQueued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "abr_pool_queued_jobs",
			Help: "Jobs waiting for a worker slot",
		}),
	}

	m.registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.assetsIngested,
		m.assetsFinished,
		m.activeAssets,
		m.jobRetries,
		m.jobFailures,
		m.segmentsUploaded,
		m.segmentBytes,
		m.jobDuration,
		m.poolBusy,
		m.poolQueued,
	)
	return m
}

// IncRequests counts a request. route is the matched pattern, not the raw path.
func (m *Metrics) IncRequests(method, route string) {
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors counts an error response under its class ("4xx" or "5xx").
func (m *Metrics) IncErrors(class string) {
	m.errorsTotal.WithLabelValues(class).Inc()
}

// IncAssetsIngested counts a started run.
func (m *Metrics) IncAssetsIngested(collection string) {
	m.assetsIngested.WithLabelValues(collection).Inc()
}

// IncAssetsFinished counts a terminal transition.
func (m *Metrics) IncAssetsFinished(state string) {
	m.assetsFinished.WithLabelValues(state).Inc()
}

// SetActiveAssets sets the in-flight asset gauge.
func (m *Metrics) SetActiveAssets(n int) {
	m.activeAssets.Set(float64(n))
}

// IncJobRetries counts a rescheduled attempt.
func (m *Metrics) IncJobRetries() {
	m.jobRetries.Inc()
}

// IncJobFailures counts a failed job.
func (m *Metrics) IncJobFailures(class string) {
	m.jobFailures.WithLabelValues(class).Inc()
}

// AddSegmentUploaded counts one stored segment of size bytes.
func (m *Metrics) AddSegmentUploaded(size int64) {
	m.segmentsUploaded.Inc()
	m.segmentBytes.Add(float64(size))
}

// ObserveJobDuration records one attempt's wall time.
func (m *Metrics) ObserveJobDuration(seconds float64) {
	m.jobDuration.Observe(seconds)
}

// SetPoolStats sets the worker pool gauges.
func (m *Metrics) SetPoolStats(busy, queued int) {
	m.poolBusy.Set(float64(busy))
	m.poolQueued.Set(float64(queued))
}

// Registry exposes the registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
