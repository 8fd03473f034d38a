package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "supportdesk"

// Metrics holds all application collectors. A nil *Metrics records nothing,
// so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	// Data sync
	fetchesTotal    *prometheus.CounterVec
	fetchDuration   *prometheus.HistogramVec
	mutationsTotal  *prometheus.CounterVec
	droppedResults  *prometheus.CounterVec
	auditFailures   prometheus.Counter
	realtimeChanges *prometheus.CounterVec
	realtimeRetries prometheus.Counter

	// Webhooks
	webhooksReceived prometheus.Counter
	webhookErrors    prometheus.Counter

	// WebSocket
	wsConnections    prometheus.Counter
	wsDisconnections prometheus.Counter
	wsActive         prometheus.Gauge
	wsMessages       prometheus.Counter
	wsErrors         prometheus.Counter

	// Reporting
	reportsBroadcast prometheus.Counter
	reportDuration   prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them, together with the Go and
// process collectors, on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		fetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "Collection fetches by collection and outcome",
		}, []string{"collection", "status"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Collection fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"collection"}),
		mutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mutations_total",
			Help:      "Remote mutations by operation and outcome",
		}, []string{"operation", "status"}),
		droppedResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_fetch_results_total",
			Help:      "Fetch results discarded because the store was disposed or a newer result was applied",
		}, []string{"collection", "reason"}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_log_failures_total",
			Help:      "Audit log inserts that failed",
		}),
		realtimeChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_changes_total",
			Help:      "Change notifications received by table and type",
		}, []string{"table", "type"}),
		realtimeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realtime_reconnects_total",
			Help:      "Realtime connection attempts retried after a failure",
		}),
		webhooksReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_received_total",
			Help:      "Database webhook deliveries accepted",
		}),
		webhookErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_errors_total",
			Help:      "Database webhook deliveries rejected",
		}),
		wsConnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_connections_total",
			Help:      "WebSocket connections opened",
		}),
		wsDisconnections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_disconnections_total",
			Help:      "WebSocket connections closed",
		}),
		wsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_active_connections",
			Help:      "Currently open WebSocket connections",
		}),
		wsMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_total",
			Help:      "Messages broadcast to WebSocket clients",
		}),
		wsErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_errors_total",
			Help:      "WebSocket read or write errors",
		}),
		reportsBroadcast: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_broadcast_total",
			Help:      "Report summaries broadcast",
		}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "report_duration_seconds",
			Help:      "Time to build a report summary",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fetchesTotal,
		m.fetchDuration,
		m.mutationsTotal,
		m.droppedResults,
		m.auditFailures,
		m.realtimeChanges,
		m.realtimeRetries,
		m.webhooksReceived,
		m.webhookErrors,
		m.wsConnections,
		m.wsDisconnections,
		m.wsActive,
		m.wsMessages,
		m.wsErrors,
		m.reportsBroadcast,
		m.reportDuration,
		m.httpRequests,
		m.httpDuration,
	)

	return m
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordFetch records one collection fetch
func (m *Metrics) RecordFetch(collection string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(collection, status(err)).Inc()
	m.fetchDuration.WithLabelValues(collection).Observe(duration.Seconds())
}

// RecordMutation records one remote mutation
func (m *Metrics) RecordMutation(operation string, err error) {
	if m == nil {
		return
	}
	m.mutationsTotal.WithLabelValues(operation, status(err)).Inc()
}

// RecordDroppedResult records a fetch result that was not applied
func (m *Metrics) RecordDroppedResult(collection, reason string) {
	if m == nil {
		return
	}
	m.droppedResults.WithLabelValues(collection, reason).Inc()
}

// RecordAuditFailure increments the audit log failure counter
func (m *Metrics) RecordAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// RecordRealtimeChange records a change notification
func (m *Metrics) RecordRealtimeChange(table, eventType string) {
	if m == nil {
		return
	}
	m.realtimeChanges.WithLabelValues(table, eventType).Inc()
}

// RecordRealtimeReconnect increments the realtime retry counter
func (m *Metrics) RecordRealtimeReconnect() {
	if m == nil {
		return
	}
	m.realtimeRetries.Inc()
}

// RecordWebhookReceived increments the accepted webhook counter
func (m *Metrics) RecordWebhookReceived() {
	if m == nil {
		return
	}
	m.webhooksReceived.Inc()
}

// RecordWebhookError increments the rejected webhook counter
func (m *Metrics) RecordWebhookError() {
	if m == nil {
		return
	}
	m.webhookErrors.Inc()
}

// RecordWebSocketConnect increments connection counters
func (m *Metrics) RecordWebSocketConnect() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
	m.wsActive.Inc()
}

// RecordWebSocketDisconnect increments disconnection counter
func (m *Metrics) RecordWebSocketDisconnect() {
	if m == nil {
		return
	}
	m.wsDisconnections.Inc()
	m.wsActive.Dec()
}

// RecordWebSocketMessage increments message counter
func (m *Metrics) RecordWebSocketMessage() {
	if m == nil {
		return
	}
	m.wsMessages.Inc()
}

// RecordWebSocketError increments WebSocket error counter
func (m *Metrics) RecordWebSocketError() {
	if m == nil {
		return
	}
	m.wsErrors.Inc()
}

// RecordReport records a report summary broadcast
func (m *Metrics) RecordReport(duration time.Duration) {
	if m == nil {
		return
	}
	m.reportsBroadcast.Inc()
	m.reportDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(endpoint string, statusCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(endpoint, strconv.Itoa(statusCode)).Inc()
	m.httpDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.HandlerFor(prometheus.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
