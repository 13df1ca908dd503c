package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	RoleServer = "server"
	RoleClient = "client"

	DirectionIn  = "in"
	DirectionOut = "out"
)

// Connection failure reasons.
const (
	ReasonRead       = "read"
	ReasonHandler    = "handler"
	ReasonPanic      = "panic"
	ReasonValidation = "validation"
	ReasonWrite      = "write"
)

var (
	registerOnce sync.Once

	connectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "server",
			Name:      "connections_accepted_total",
			Help:      "Total accepted connections.",
		},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tcpserv",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Connections currently being handled.",
		},
	)
	connectionsRejected = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "server",
			Name:      "connections_rejected_total",
			Help:      "Connections closed because the connection ceiling was reached.",
		},
	)
	connectionFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "server",
			Name:      "connection_failures_total",
			Help:      "Connections that ended without a response frame.",
		},
		[]string{"reason"},
	)
	handlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcpserv",
			Subsystem: "server",
			Name:      "handler_duration_seconds",
			Help:      "Handler invocation duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
	frameBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "frame",
			Name:      "payload_bytes_total",
			Help:      "Payload bytes carried in frames.",
		},
		[]string{"role", "direction"},
	)
	clientRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "client",
			Name:      "requests_total",
			Help:      "Client requests by outcome.",
		},
		[]string{"outcome"},
	)
	clientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcpserv",
			Subsystem: "client",
			Name:      "request_duration_seconds",
			Help:      "Client round trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tcpserv",
			Subsystem: "admin_http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tcpserv",
			Subsystem: "admin_http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			connectionsAccepted,
			connectionsActive,
			connectionsRejected,
			connectionFailures,
			handlerDuration,
			frameBytes,
			clientRequests,
			clientDuration,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordConnAccepted() {
	RegisterMetrics()
	connectionsAccepted.Inc()
	connectionsActive.Inc()
}

func RecordConnDone() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordConnRejected() {
	RegisterMetrics()
	connectionsRejected.Inc()
}

func RecordConnFailure(reason string) {
	RegisterMetrics()
	connectionFailures.WithLabelValues(reason).Inc()
}

func RecordHandler(duration time.Duration, success bool) {
	RegisterMetrics()
	handlerDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

func RecordFrameBytes(role, direction string, n int) {
	RegisterMetrics()
	frameBytes.WithLabelValues(role, direction).Add(float64(n))
}

func RecordClientRequest(outcome string, duration time.Duration) {
	RegisterMetrics()
	clientRequests.WithLabelValues(outcome).Inc()
	clientDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
