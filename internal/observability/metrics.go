package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	sessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guacd",
			Subsystem: "gateway",
			Name:      "sessions_total",
			Help:      "Sessions started, by backend protocol and outcome.",
		},
		[]string{"protocol", "outcome"},
	)
	activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "guacd",
			Subsystem: "gateway",
			Name:      "active_sessions",
			Help:      "Currently running sessions by backend protocol.",
		},
		[]string{"protocol"},
	)
	sessionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guacd",
			Subsystem: "gateway",
			Name:      "session_duration_seconds",
			Help:      "Session lifetime in seconds.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		},
		[]string{"protocol", "outcome"},
	)
	instructionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guacd",
			Subsystem: "protocol",
			Name:      "instructions_total",
			Help:      "Instructions relayed, by direction and opcode.",
		},
		[]string{"protocol", "direction", "opcode"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "guacd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"app", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "guacd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"app", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsTotal,
			activeSessions,
			sessionDuration,
			instructionsTotal,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordSessionStarted(protocol string) {
	RegisterMetrics()
	activeSessions.WithLabelValues(protocol).Inc()
}

func RecordSessionEnded(protocol, outcome string, duration time.Duration) {
	RegisterMetrics()
	activeSessions.WithLabelValues(protocol).Dec()
	sessionsTotal.WithLabelValues(protocol, outcome).Inc()
	sessionDuration.WithLabelValues(protocol, outcome).Observe(duration.Seconds())
}

func RecordSessionRejected(protocol, outcome string) {
	RegisterMetrics()
	sessionsTotal.WithLabelValues(protocol, outcome).Inc()
}

func RecordInstruction(protocol, direction, opcode string) {
	RegisterMetrics()
	instructionsTotal.WithLabelValues(protocol, direction, opcode).Inc()
}

func RecordHTTPRequest(app, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(app, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(app, method, path, statusLabel).Observe(duration.Seconds())
}
