// Package metrics provides Prometheus metrics for the classboard service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recompute outcomes.
const (
	OutcomePublished  = "published"
	OutcomeSuperseded = "superseded"
	OutcomeFailed     = "failed"
	// the resolve needed new subscriptions and is rerun before publishing
	OutcomeWidened    = "widened"
)

// Manager manages all Prometheus metrics for the classboard service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Aggregation metrics
	recomputes          *prometheus.CounterVec
	recomputeLatency    prometheus.Histogram
	recomputesCoalesced prometheus.Counter
	resolutionFailures  *prometheus.CounterVec
	watchedScopes       prometheus.Gauge
	liveSubscriptions   prometheus.Gauge
	snapshotStudents    prometheus.Histogram

	// Store metrics
	storeQueries      *prometheus.CounterVec
	storeQueryLatency *prometheus.HistogramVec
	storeErrors       *prometheus.CounterVec

	// Queue metrics
	queueCapacity      prometheus.Gauge
	queueSize          prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueued      prometheus.Counter
	queueDequeued      prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Worker metrics
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// HTTP metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Output metrics
	publishes *prometheus.CounterVec
	exports   prometheus.Counter

	errorsByComponent *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "classboard",
		subsystem:        "rollup",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics on the configured registry.
func (m *Manager) initializeMetrics() {
	m.recomputes = m.counterVec("recomputes_total", "Recomputes by outcome", "outcome")
	m.recomputeLatency = m.histogram("recompute_latency_milliseconds",
		"Resolve plus reduce latency in milliseconds", m.histogramBuckets)
	m.recomputesCoalesced = m.counter("recomputes_coalesced_total",
		"Invalidations folded into an already pending recompute")
	m.resolutionFailures = m.counterVec("resolution_failures_total",
		"Recomputes that failed to resolve, by scope kind", "kind")
	m.watchedScopes = m.gauge("watched_scopes", "Number of scopes held by the cache")
	m.liveSubscriptions = m.gauge("live_subscriptions", "Number of store subscriptions held by the cache")
	m.snapshotStudents = m.histogram("snapshot_students", "Student rollups per published snapshot",
		[]float64{1, 5, 10, 25, 50, 100, 250, 500, 1000})

	m.storeQueries = m.counterVec("store_queries_total", "Store queries by collection", "collection")
	m.storeQueryLatency = m.histogramVec("store_query_latency_milliseconds",
		"Store query latency in milliseconds", "collection")
	m.storeErrors = m.counterVec("store_errors_total", "Store query failures by collection", "collection")

	m.queueCapacity = m.gauge("queue_capacity", "Maximum recompute queue capacity")
	m.queueSize = m.gauge("queue_size", "Current recompute queue length")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (size / capacity)")
	m.queueEnqueued = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeued = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Rejected enqueues by reason", "reason")

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Worker job latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Total number of failed worker jobs")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", "endpoint", "method", "status_code")

	m.publishes = m.counterVec("publishes_total", "Snapshot publishes by outcome", "outcome")
	m.exports = m.counter("exports_total", "Workbooks rendered")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")
}

// RecordRecompute counts a finished recompute with its outcome.
func RecordRecompute(outcome string) {
	globalManager.recomputes.WithLabelValues(outcome).Inc()
}

// RecordRecomputeLatency records resolve plus reduce latency.
func RecordRecomputeLatency(latencyMs float64) {
	globalManager.recomputeLatency.Observe(latencyMs)
}

// RecordRecomputeCoalesced counts an invalidation absorbed by a pending recompute.
func RecordRecomputeCoalesced() {
	globalManager.recomputesCoalesced.Inc()
}

// RecordResolutionFailure counts a failed resolve for a scope kind.
func RecordResolutionFailure(kind string) {
	globalManager.resolutionFailures.WithLabelValues(kind).Inc()
}

// UpdateWatchedScopes sets the number of scopes held by the cache.
func UpdateWatchedScopes(count int) {
	globalManager.watchedScopes.Set(float64(count))
}

// AddLiveSubscriptions adjusts the live subscription gauge by delta.
func AddLiveSubscriptions(delta int) {
	globalManager.liveSubscriptions.Add(float64(delta))
}

// RecordSnapshotStudents observes the size of a published snapshot.
func RecordSnapshotStudents(count int) {
	globalManager.snapshotStudents.Observe(float64(count))
}

// RecordStoreQuery counts a successful store query and its latency.
func RecordStoreQuery(collection string, latencyMs float64) {
	globalManager.storeQueries.WithLabelValues(collection).Inc()
	globalManager.storeQueryLatency.WithLabelValues(collection).Observe(latencyMs)
}

// RecordStoreError counts a failed store query.
func RecordStoreError(collection string) {
	globalManager.storeErrors.WithLabelValues(collection).Inc()
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueSize sets the current queue size and its utilization.
func UpdateQueueSize(size, capacity int) {
	globalManager.queueSize.Set(float64(size))
	if capacity > 0 {
		globalManager.queueUtilization.Set(float64(size) / float64(capacity))
	}
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueued.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeued.Inc()
}

// RecordQueueEnqueueError counts a rejected enqueue.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker job latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordPublish counts a snapshot publish attempt.
func RecordPublish(outcome string) {
	globalManager.publishes.WithLabelValues(outcome).Inc()
}

// RecordExport counts a rendered workbook.
func RecordExport() {
	globalManager.exports.Inc()
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
