package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcphub_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ConnectionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mcphub_connections",
		Help: "Managed connections by status",
	}, []string{"status"})

	ConnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_connect_attempts_total",
		Help: "Connection attempts by result and failure kind",
	}, []string{"result", "kind"})

	ConnectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcphub_connect_duration_seconds",
		Help:    "Duration of a single connection attempt including tool listing",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"transport"})

	IdleDisconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcphub_idle_disconnects_total",
		Help: "Connections closed by the idle timer",
	})

	ToolsExposed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_tools_exposed",
		Help: "Tools returned by the most recent aggregation",
	})

	StatusWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcphub_status_writes_total",
		Help: "Persisted connection status writes by result",
	}, []string{"result"})

	StatusSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcphub_status_subscribers",
		Help: "Open websocket status subscriptions",
	})
)

// RecordTransition moves one connection between status gauges. An empty
// from or to means the connection entered or left management.
func RecordTransition(from, to string) {
	if from != "" {
		ConnectionsByStatus.WithLabelValues(from).Dec()
	}
	if to != "" {
		ConnectionsByStatus.WithLabelValues(to).Inc()
	}
}
