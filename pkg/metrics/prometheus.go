// Package metrics provides Prometheus metrics for the clantally service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Manager owns every Prometheus collector used by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	registry         prometheus.Registerer

	// HTTP surface
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Upstream stats API
	upstreamRequests *prometheus.CounterVec
	upstreamRetries  prometheus.Counter
	historyPages     prometheus.Counter
	recordsSeen      prometheus.Counter
	clearsCounted    prometheus.Counter

	// Member jobs
	jobRuns      *prometheus.CounterVec
	jobRetries   prometheus.Counter
	jobsByState  *prometheus.GaugeVec
	activeRuns   prometheus.Gauge
	runQueueSize prometheus.Gauge
	runsDropped  prometheus.Counter

	// Snapshot refresh
	refreshes           *prometheus.CounterVec
	refreshDuration     prometheus.Histogram
	snapshotLastUnix    prometheus.Gauge
	snapshotClears      prometheus.Gauge
	snapshotSpecial     prometheus.Gauge
	snapshotMembers     prometheus.Gauge
	snapshotProcessed   prometheus.Gauge
	partialAggregations prometheus.Counter

	// Durable store
	storeErrors *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid the default Go collectors.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // singleton registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers all collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "clantally",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	factory := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      name,
			Help:      help,
		}
	}

	m.httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(factory("http_requests_total", "HTTP requests by endpoint, method and status.")),
		[]string{"endpoint", "method", "status"},
	)
	m.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by endpoint.",
		Buckets:   m.histogramBuckets,
	}, []string{"endpoint", "method"})

	m.upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts(factory("upstream_requests_total", "Upstream stats API requests by endpoint and outcome.")),
		[]string{"endpoint", "status"},
	)
	m.upstreamRetries = prometheus.NewCounter(
		prometheus.CounterOpts(factory("upstream_retries_total", "Upstream request retries after transient failures.")))
	m.historyPages = prometheus.NewCounter(
		prometheus.CounterOpts(factory("history_pages_total", "Activity history pages fetched.")))
	m.recordsSeen = prometheus.NewCounter(
		prometheus.CounterOpts(factory("activity_records_total", "Raw activity records streamed from history pages.")))
	m.clearsCounted = prometheus.NewCounter(
		prometheus.CounterOpts(factory("clears_counted_total", "Completed activity records attributed to a canonical group.")))

	m.jobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts(factory("job_runs_total", "Member job run attempts by outcome.")),
		[]string{"outcome"},
	)
	m.jobRetries = prometheus.NewCounter(
		prometheus.CounterOpts(factory("job_retries_total", "Member job retries scheduled after failure.")))
	m.jobsByState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts(factory("jobs", "Persisted member jobs by state.")),
		[]string{"state"},
	)
	m.activeRuns = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("active_runs", "Member job runs currently executing.")))
	m.runQueueSize = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("run_queue_size", "Run requests waiting in the dispatch queue.")))
	m.runsDropped = prometheus.NewCounter(
		prometheus.CounterOpts(factory("runs_dropped_total", "Run requests dropped because the dispatch queue was full.")))

	m.refreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts(factory("refreshes_total", "Snapshot refresh attempts by outcome.")),
		[]string{"outcome"},
	)
	m.refreshDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of completed snapshot refreshes.",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})
	m.snapshotLastUnix = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("snapshot_last_unix", "Unix time of the last canonical snapshot write.")))
	m.snapshotClears = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("snapshot_clears", "Total clears in the canonical snapshot.")))
	m.snapshotSpecial = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("snapshot_special_clears", "Special-category clears in the canonical snapshot.")))
	m.snapshotMembers = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("snapshot_members", "Roster size at the last snapshot.")))
	m.snapshotProcessed = prometheus.NewGauge(
		prometheus.GaugeOpts(factory("snapshot_processed", "Members with results in the last snapshot.")))
	m.partialAggregations = prometheus.NewCounter(
		prometheus.CounterOpts(factory("partial_aggregations_total", "Reads served from a reconstructed partial snapshot.")))

	m.storeErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts(factory("store_errors_total", "Durable store failures by operation.")),
		[]string{"op"},
	)

	if !m.enabled {
		return
	}
	m.registry.MustRegister(
		m.httpRequests, m.httpRequestDuration,
		m.upstreamRequests, m.upstreamRetries, m.historyPages, m.recordsSeen, m.clearsCounted,
		m.jobRuns, m.jobRetries, m.jobsByState, m.activeRuns, m.runQueueSize, m.runsDropped,
		m.refreshes, m.refreshDuration,
		m.snapshotLastUnix, m.snapshotClears, m.snapshotSpecial, m.snapshotMembers, m.snapshotProcessed,
		m.partialAggregations, m.storeErrors,
	)
}

// GetRegistry returns the custom registry metrics are served from.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}

// Package-level helpers against the global manager.

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, status string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, status).Inc()
}

// RecordHTTPRequestDuration observes HTTP latency in seconds.
func RecordHTTPRequestDuration(endpoint, method string, d time.Duration) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method).Observe(d.Seconds())
}

// RecordUpstreamRequest counts one upstream call by endpoint and outcome
// ("ok", "throttled", "server_error", "client_error", "network_error").
func RecordUpstreamRequest(endpoint, status string) {
	globalManager.upstreamRequests.WithLabelValues(endpoint, status).Inc()
}

// RecordUpstreamRetry counts a retry of a transiently failed upstream call.
func RecordUpstreamRetry() { globalManager.upstreamRetries.Inc() }

// RecordHistoryPage counts one fetched history page.
func RecordHistoryPage() { globalManager.historyPages.Inc() }

// RecordActivityRecords counts raw records streamed off history pages.
func RecordActivityRecords(n int) { globalManager.recordsSeen.Add(float64(n)) }

// RecordClearCounted counts one completed record attributed to a group.
func RecordClearCounted() { globalManager.clearsCounted.Inc() }

// RecordJobRun counts one job run attempt by outcome
// ("success", "failure", "lease_held", "attempts_capped").
func RecordJobRun(outcome string) { globalManager.jobRuns.WithLabelValues(outcome).Inc() }

// RecordJobRetry counts one scheduled job retry.
func RecordJobRetry() { globalManager.jobRetries.Inc() }

// UpdateJobsByState sets the persisted-job gauge for one state.
func UpdateJobsByState(state string, n int) {
	globalManager.jobsByState.WithLabelValues(state).Set(float64(n))
}

// UpdateActiveRuns sets the currently executing run count.
func UpdateActiveRuns(n int) { globalManager.activeRuns.Set(float64(n)) }

// UpdateRunQueueSize sets the dispatch queue depth.
func UpdateRunQueueSize(n int) { globalManager.runQueueSize.Set(float64(n)) }

// RecordRunDropped counts a run request rejected on backpressure.
func RecordRunDropped() { globalManager.runsDropped.Inc() }

// RecordRefresh counts a refresh attempt by outcome
// ("completed", "rate_limited", "in_flight", "failed").
func RecordRefresh(outcome string) { globalManager.refreshes.WithLabelValues(outcome).Inc() }

// RecordRefreshDuration observes a completed refresh duration.
func RecordRefreshDuration(d time.Duration) { globalManager.refreshDuration.Observe(d.Seconds()) }

// UpdateSnapshot publishes gauges derived from a freshly written snapshot.
func UpdateSnapshot(fetchedAt time.Time, clears, special, members, processed int) {
	globalManager.snapshotLastUnix.Set(float64(fetchedAt.Unix()))
	globalManager.snapshotClears.Set(float64(clears))
	globalManager.snapshotSpecial.Set(float64(special))
	globalManager.snapshotMembers.Set(float64(members))
	globalManager.snapshotProcessed.Set(float64(processed))
}

// RecordPartialAggregation counts a read served from reconstructed results.
func RecordPartialAggregation() { globalManager.partialAggregations.Inc() }

// RecordStoreError counts a durable store failure for an operation label.
func RecordStoreError(op string) { globalManager.storeErrors.WithLabelValues(op).Inc() }
