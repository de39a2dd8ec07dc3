// Package metrics provides Prometheus metrics for the matchcast service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector exported by matchcast.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Channel lifecycle
	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec

	// Subscription registry
	subscriptionsActive prometheus.Gauge
	roomsActive         prometheus.Gauge

	// Dispatcher
	eventsBroadcast    *prometheus.CounterVec
	deliveries         prometheus.Counter
	deliveriesDropped  prometheus.Counter
	matchesEnded       prometheus.Counter
	broadcastLatencyMs prometheus.Histogram

	// Commands received over the channel
	commandAcks *prometheus.CounterVec

	// Ingest pipeline
	ingestEvents  *prometheus.CounterVec
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	workerCount   prometheus.Gauge

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByComponent   *prometheus.CounterVec

	// Runtime
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // exposed via /healthz

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager. Collectors are registered on the
// configured registry, the default Prometheus registerer unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "matchcast",
		subsystem:        "",
		histogramBuckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25, 50, 100},
		enabled:          true,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	if !m.enabled {
		// Collectors still exist so callers never nil-check, they are just
		// never exposed.
		m.registry = prometheus.NewRegistry()
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
		ConstLabels: m.customLabels, Buckets: m.histogramBuckets,
	}
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	auto := promauto.With(m.registry)

	m.connectionsActive = auto.NewGauge(m.gaugeOpts("connections_active", "Open viewer channels"))
	m.connectionsTotal = auto.NewCounterVec(m.counterOpts("connections_total", "Channel lifecycle transitions"), []string{"event"})

	m.subscriptionsActive = auto.NewGauge(m.gaugeOpts("subscriptions_active", "Connection/match subscription pairs"))
	m.roomsActive = auto.NewGauge(m.gaugeOpts("rooms_active", "Matches with at least one subscriber"))

	m.eventsBroadcast = auto.NewCounterVec(m.counterOpts("events_broadcast_total", "Match events broadcast, by event type"), []string{"type"})
	m.deliveries = auto.NewCounter(m.counterOpts("deliveries_total", "Events handed to a subscriber send buffer"))
	m.deliveriesDropped = auto.NewCounter(m.counterOpts("deliveries_dropped_total", "Events a subscriber missed because it was gone or saturated"))
	m.matchesEnded = auto.NewCounter(m.counterOpts("matches_ended_total", "Match-ended signals broadcast"))
	m.broadcastLatencyMs = auto.NewHistogram(m.histogramOpts("broadcast_latency_milliseconds", "Time spent fanning one event out"))

	m.commandAcks = auto.NewCounterVec(m.counterOpts("command_acks_total", "Channel command acknowledgements"), []string{"command", "result"})

	m.ingestEvents = auto.NewCounterVec(m.counterOpts("ingest_events_total", "Events received from the simulator"), []string{"result"})
	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Events waiting in ingest shard queues"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Total capacity of ingest shard queues"))
	m.workerCount = auto.NewGauge(m.gaugeOpts("worker_count", "Ingest shard workers"))

	m.httpRequests = auto.NewCounterVec(m.counterOpts("http_requests_total", "HTTP requests"), []string{"endpoint", "method", "status_code"})
	m.httpRequestDuration = auto.NewHistogramVec(m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration"), []string{"endpoint", "method", "status_code"})
	m.errorsByComponent = auto.NewCounterVec(m.counterOpts("errors_total", "Errors by component and type"), []string{"component", "error_type"})

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_bytes", "Heap bytes allocated"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutines", "Live goroutines"))
}

// RecordConnectionOpened tracks a new viewer channel.
func RecordConnectionOpened() {
	globalManager.connectionsActive.Inc()
	globalManager.connectionsTotal.WithLabelValues("opened").Inc()
}

// RecordConnectionClosed tracks a closed viewer channel.
func RecordConnectionClosed() {
	globalManager.connectionsActive.Dec()
	globalManager.connectionsTotal.WithLabelValues("closed").Inc()
}

// UpdateSubscriptions sets the registry gauges.
func UpdateSubscriptions(pairs, rooms int) {
	globalManager.subscriptionsActive.Set(float64(pairs))
	globalManager.roomsActive.Set(float64(rooms))
}

// RecordBroadcast records one fan-out of an event of the given type.
func RecordBroadcast(eventType string, delivered, dropped int, latencyMs float64) {
	globalManager.eventsBroadcast.WithLabelValues(eventType).Inc()
	globalManager.deliveries.Add(float64(delivered))
	globalManager.deliveriesDropped.Add(float64(dropped))
	globalManager.broadcastLatencyMs.Observe(latencyMs)
}

// RecordMatchEnded records a match-ended broadcast.
func RecordMatchEnded() {
	globalManager.matchesEnded.Inc()
}

// RecordCommandAck records the acknowledgement sent for a channel command.
func RecordCommandAck(command string, success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	globalManager.commandAcks.WithLabelValues(command, result).Inc()
}

// RecordIngest records the outcome of one simulator delivery:
// accepted, duplicate, invalid or backpressure.
func RecordIngest(result string) {
	globalManager.ingestEvents.WithLabelValues(result).Inc()
}

// UpdateQueueSize sets the number of queued ingest events.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the total ingest queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateWorkerCount sets the number of ingest workers.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordHTTPRequest records a completed HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
