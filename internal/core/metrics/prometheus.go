package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig contains configuration for metrics collection
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

// PrometheusCollector records pipeline metrics. A nil collector is valid and
// records nothing.
type PrometheusCollector struct {
	config *MetricsConfig

	// HTTP Metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// WebSocket Metrics
	websocketConnections prometheus.Gauge
	websocketMessages    *prometheus.CounterVec

	// Cache Metrics
	cacheRequests  *prometheus.CounterVec
	cacheEvictions prometheus.Counter

	// Resolution Metrics
	resolutions   *prometheus.CounterVec
	fetchErrors   prometheus.Counter
	fetchDuration prometheus.Histogram

	// State Metrics
	events         *prometheus.CounterVec
	trackedDevices prometheus.Gauge
}

// NewPrometheusCollector registers the collector's metrics with reg. A nil
// reg uses the default registerer.
func NewPrometheusCollector(config *MetricsConfig, reg prometheus.Registerer) *PrometheusCollector {
	if config == nil {
		config = &MetricsConfig{
			Enabled: true,
			Prefix:  "pma",
		}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	prefix := config.Prefix
	factory := promauto.With(reg)

	collector := &PrometheusCollector{config: config}

	collector.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	collector.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	collector.websocketConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	collector.websocketMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"},
	)

	collector.cacheRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_cache_requests_total",
			Help: "Device cache lookups by result",
		},
		[]string{"result"},
	)

	collector.cacheEvictions = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_cache_evictions_total",
			Help: "Entries evicted from the device cache at capacity",
		},
	)

	collector.resolutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_resolutions_total",
			Help: "Resolved values by fallback tier and validation status",
		},
		[]string{"tier", "status"},
	)

	collector.fetchErrors = factory.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "_fetch_errors_total",
			Help: "Failed raw state fetches",
		},
	)

	collector.fetchDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "_fetch_duration_seconds",
			Help:    "Raw state fetch duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
	)

	collector.events = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "_state_change_events_total",
			Help: "State change events by outcome, type and significance",
		},
		[]string{"outcome", "change_type", "significance"},
	)

	collector.trackedDevices = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: prefix + "_tracked_devices",
			Help: "Number of devices with canonical state",
		},
	)

	return collector
}

func (p *PrometheusCollector) enabled() bool {
	return p != nil && p.config.Enabled
}

// RecordHTTPRequest records HTTP request metrics
func (p *PrometheusCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if !p.enabled() {
		return
	}

	p.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	p.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordWebSocketConnection records WebSocket connection metrics
func (p *PrometheusCollector) RecordWebSocketConnection(action string) {
	if !p.enabled() {
		return
	}

	switch action {
	case "connect":
		p.websocketConnections.Inc()
	case "disconnect":
		p.websocketConnections.Dec()
	case "message_sent":
		p.websocketMessages.WithLabelValues("outbound").Inc()
	case "message_received":
		p.websocketMessages.WithLabelValues("inbound").Inc()
	}
}

// RecordCacheHit records a fresh cache lookup
func (p *PrometheusCollector) RecordCacheHit() {
	if !p.enabled() {
		return
	}
	p.cacheRequests.WithLabelValues("hit").Inc()
}

// RecordCacheMiss records a cache lookup that needed a fetch
func (p *PrometheusCollector) RecordCacheMiss() {
	if !p.enabled() {
		return
	}
	p.cacheRequests.WithLabelValues("miss").Inc()
}

// RecordCacheEviction records an LRU eviction
func (p *PrometheusCollector) RecordCacheEviction() {
	if !p.enabled() {
		return
	}
	p.cacheEvictions.Inc()
}

// RecordResolution records which fallback tier produced a value
func (p *PrometheusCollector) RecordResolution(tier, status string) {
	if !p.enabled() {
		return
	}
	p.resolutions.WithLabelValues(tier, status).Inc()
}

// RecordFetch records a raw state fetch
func (p *PrometheusCollector) RecordFetch(duration time.Duration, err error) {
	if !p.enabled() {
		return
	}
	p.fetchDuration.Observe(duration.Seconds())
	if err != nil {
		p.fetchErrors.Inc()
	}
}

// RecordEvent records an emitted or suppressed state change
func (p *PrometheusCollector) RecordEvent(outcome, changeType, significance string) {
	if !p.enabled() {
		return
	}
	p.events.WithLabelValues(outcome, changeType, significance).Inc()
}

// SetTrackedDevices sets the tracked device gauge
func (p *PrometheusCollector) SetTrackedDevices(count int) {
	if !p.enabled() {
		return
	}
	p.trackedDevices.Set(float64(count))
}
