package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch results recorded by RecordFetch
const (
	FetchSuccess = "success"
	FetchTimeout = "timeout"
	FetchError   = "error"
	FetchStale   = "stale"
)

// Metrics holds all application metrics
type Metrics struct {
	registry *prometheus.Registry

	fetchesTotal         *prometheus.CounterVec
	fetchDuration        *prometheus.HistogramVec
	fetchRetriesTotal    prometheus.Counter
	staleDiscardsTotal   prometheus.Counter
	notificationsTotal   *prometheus.CounterVec
	notificationsRetired *prometheus.CounterVec
	parseFallbacksTotal  prometheus.Counter
	activeSessions       prometheus.Gauge
	wsConnections        prometheus.Gauge
	wsMessagesTotal      prometheus.Counter
	wsErrorsTotal        prometheus.Counter
	catalogLoadsTotal    *prometheus.CounterVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
}

// Global metrics instance
var instance *Metrics
var once sync.Once

// Get returns the singleton metrics instance
func Get() *Metrics {
	once.Do(func() {
		instance = New()
	})
	return instance
}

// New creates a metrics set on its own registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monti_live_fetches_total",
			Help: "Aggregate statistics fetches by kind and result.",
		}, []string{"kind", "result"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monti_live_fetch_duration_seconds",
			Help:    "Duration of upstream fetches.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"kind"}),
		fetchRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monti_live_fetch_retries_total",
			Help: "Automatic retries after a fetch timeout.",
		}),
		staleDiscardsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monti_live_stale_responses_discarded_total",
			Help: "Fetch responses dropped because the filter session moved on.",
		}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monti_live_notifications_total",
			Help: "Notification events enqueued by category.",
		}, []string{"category"}),
		notificationsRetired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monti_live_notifications_retired_total",
			Help: "Notifications that left the active slot by reason.",
		}, []string{"reason"}),
		parseFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monti_live_record_parse_fallbacks_total",
			Help: "Call records kept without a parseable timestamp.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monti_live_sessions_active",
			Help: "Dashboard sessions currently held in memory.",
		}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "monti_websocket_active_connections",
			Help: "Connected dashboard WebSocket clients.",
		}),
		wsMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monti_websocket_messages_total",
			Help: "Messages queued to dashboard clients.",
		}),
		wsErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "monti_websocket_errors_total",
			Help: "Dashboard clients dropped because of send errors.",
		}),
		catalogLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monti_catalog_loads_total",
			Help: "Catalog loads from the upstream by result.",
		}, []string{"result"}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "monti_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "monti_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		m.fetchesTotal,
		m.fetchDuration,
		m.fetchRetriesTotal,
		m.staleDiscardsTotal,
		m.notificationsTotal,
		m.notificationsRetired,
		m.parseFallbacksTotal,
		m.activeSessions,
		m.wsConnections,
		m.wsMessagesTotal,
		m.wsErrorsTotal,
		m.catalogLoadsTotal,
		m.httpRequestsTotal,
		m.httpRequestDuration,
	)
	return m
}

// RecordFetch records the outcome of an upstream fetch
func (m *Metrics) RecordFetch(kind, result string, duration time.Duration) {
	m.fetchesTotal.WithLabelValues(kind, result).Inc()
	if result != FetchStale {
		m.fetchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	}
}

// RecordFetchRetry increments the retry counter
func (m *Metrics) RecordFetchRetry() {
	m.fetchRetriesTotal.Inc()
}

// RecordStaleDiscard increments the stale response counter
func (m *Metrics) RecordStaleDiscard() {
	m.staleDiscardsTotal.Inc()
}

// RecordNotification counts an enqueued notification
func (m *Metrics) RecordNotification(category string) {
	m.notificationsTotal.WithLabelValues(category).Inc()
}

// RecordNotificationRetired counts a notification leaving the active slot
func (m *Metrics) RecordNotificationRetired(reason string) {
	m.notificationsRetired.WithLabelValues(reason).Inc()
}

// RecordParseFallback counts a record kept without timestamp
func (m *Metrics) RecordParseFallback() {
	m.parseFallbacksTotal.Inc()
}

// SetActiveSessions sets the session gauge
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordWebSocketConnect increments the connection gauge
func (m *Metrics) RecordWebSocketConnect() {
	m.wsConnections.Inc()
}

// RecordWebSocketDisconnect decrements the connection gauge
func (m *Metrics) RecordWebSocketDisconnect() {
	m.wsConnections.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	m.wsMessagesTotal.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	m.wsErrorsTotal.Inc()
}

// RecordCatalogLoad counts a catalog load attempt
func (m *Metrics) RecordCatalogLoad(ok bool) {
	result := "success"
	if !ok {
		result = "error"
	}
	m.catalogLoadsTotal.WithLabelValues(result).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(route string, statusCode int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
