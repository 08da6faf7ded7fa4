package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "admin",
			Name:      "http_requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"server", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atrpc",
			Subsystem: "admin",
			Name:      "http_request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"server", "method", "path", "status"},
	)
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "atrpc",
			Subsystem: "server",
			Name:      "connections_active",
			Help:      "Currently tracked client connections.",
		},
	)
	connectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "server",
			Name:      "connections_total",
			Help:      "Accepted client connections.",
		},
	)
	acceptErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "server",
			Name:      "accept_errors_total",
			Help:      "Failed accept attempts.",
		},
	)
	dispatchRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Dispatched requests by function and status.",
		},
		[]string{"func", "status"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atrpc",
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Dispatch duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"func", "status"},
	)
	checksumMismatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "protocol",
			Name:      "checksum_mismatches_total",
			Help:      "Frames whose body checksum did not match the header.",
		},
		[]string{"role"},
	)
	frameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "protocol",
			Name:      "frame_errors_total",
			Help:      "Frames rejected during unpack.",
		},
		[]string{"role", "kind"},
	)
	clientCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "client",
			Name:      "calls_total",
			Help:      "Client calls by function and outcome.",
		},
		[]string{"func", "outcome"},
	)
	clientDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atrpc",
			Subsystem: "client",
			Name:      "call_duration_seconds",
			Help:      "Client call round-trip duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"func", "outcome"},
	)
	clientReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atrpc",
			Subsystem: "client",
			Name:      "reconnects_total",
			Help:      "Successful client reconnects.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectionsActive, connectionsTotal, acceptErrors,
			dispatchRequests, dispatchDuration,
			checksumMismatches, frameErrors,
			clientCalls, clientDuration, clientReconnects,
		)
	})
}

func RecordHTTPRequest(server, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(server, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(server, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordConnectionOpened() {
	RegisterMetrics()
	connectionsTotal.Inc()
	connectionsActive.Inc()
}

func RecordConnectionClosed() {
	RegisterMetrics()
	connectionsActive.Dec()
}

func RecordAcceptError() {
	RegisterMetrics()
	acceptErrors.Inc()
}

func RecordDispatch(fn, status string, duration time.Duration) {
	RegisterMetrics()
	dispatchRequests.WithLabelValues(fn, status).Inc()
	dispatchDuration.WithLabelValues(fn, status).Observe(duration.Seconds())
}

func RecordChecksumMismatch(role string) {
	RegisterMetrics()
	checksumMismatches.WithLabelValues(role).Inc()
}

func RecordFrameError(role, kind string) {
	RegisterMetrics()
	frameErrors.WithLabelValues(role, kind).Inc()
}

func RecordClientCall(fn, outcome string, duration time.Duration) {
	RegisterMetrics()
	clientCalls.WithLabelValues(fn, outcome).Inc()
	clientDuration.WithLabelValues(fn, outcome).Observe(duration.Seconds())
}

func RecordClientReconnect() {
	RegisterMetrics()
	clientReconnects.Inc()
}
