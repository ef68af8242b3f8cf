package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons for inbound payloads that never reach a handler.
const (
	DropMalformed      = "malformed"
	DropUnknownToken   = "unknown_token"
	DropOriginMismatch = "origin_mismatch"
	DropStaleHandshake = "stale_handshake"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"identity", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "framechan",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"identity", "method", "path", "status"},
	)
	handshakeMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "handshake",
			Name:      "messages_total",
			Help:      "Handshake messages by direction and state.",
		},
		[]string{"role", "direction", "state"},
	)
	bootstrapAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "handshake",
			Name:      "bootstrap_attempts_total",
			Help:      "Bootstrap timer firings that minted a fresh token.",
		},
		[]string{"role"},
	)
	channelsInitialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "channel",
			Name:      "initialized_total",
			Help:      "Channels that completed the handshake.",
		},
		[]string{"role"},
	)
	appMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Application messages by direction and outcome.",
		},
		[]string{"role", "direction", "success"},
	)
	droppedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "dispatch",
			Name:      "dropped_total",
			Help:      "Inbound payloads dropped before dispatch.",
		},
		[]string{"role", "reason"},
	)
	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "framechan",
			Subsystem: "dispatch",
			Name:      "handler_failures_total",
			Help:      "Handler invocations that returned an error or panicked.",
		},
		[]string{"role"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			handshakeMessages,
			bootstrapAttempts,
			channelsInitialized,
			appMessages,
			droppedMessages,
			handlerFailures,
		)
	})
}

func RecordHTTPRequest(identity, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(identity, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(identity, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordHandshake(role, direction, state string) {
	RegisterMetrics()
	handshakeMessages.WithLabelValues(role, direction, state).Inc()
}

func RecordBootstrap(role string) {
	RegisterMetrics()
	bootstrapAttempts.WithLabelValues(role).Inc()
}

func RecordInitialized(role string) {
	RegisterMetrics()
	channelsInitialized.WithLabelValues(role).Inc()
}

func RecordApplication(role, direction string, success bool) {
	RegisterMetrics()
	appMessages.WithLabelValues(role, direction, strconv.FormatBool(success)).Inc()
}

func RecordDrop(role, reason string) {
	RegisterMetrics()
	droppedMessages.WithLabelValues(role, reason).Inc()
}

func RecordHandlerFailure(role string) {
	RegisterMetrics()
	handlerFailures.WithLabelValues(role).Inc()
}
