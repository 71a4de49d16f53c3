// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// FetchDuration tracks calls to the remote chat API.
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_remote_call_duration_seconds",
			Help:    "Remote chat API call duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"op", "status"},
	)

	// PushEventsTotal tracks push events by type.
	PushEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_events_total",
			Help: "Push events received",
		},
		[]string{"type"},
	)

	// PushDecodeErrors tracks push payloads that could not be decoded.
	PushDecodeErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_push_decode_errors_total",
			Help: "Push payloads that failed to decode",
		},
	)

	// ReconcileOutcomes tracks what happened to incoming message records.
	ReconcileOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_reconcile_outcomes_total",
			Help: "Incoming message records by reconcile outcome",
		},
		[]string{"outcome"},
	)

	// PollCyclesTotal tracks fallback poll iterations.
	PollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_poll_cycles_total",
			Help: "Fallback poll iterations",
		},
		[]string{"loop"},
	)

	// StaleResponsesTotal tracks responses discarded after a room switch.
	StaleResponsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stale_responses_total",
			Help: "Responses and events discarded because their session ended",
		},
		[]string{"source"},
	)

	// SendsTotal tracks outgoing messages.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Outgoing messages by result",
		},
		[]string{"status"},
	)

	// ErrorsTotal tracks classified engine errors.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_errors_total",
			Help: "Engine errors by kind",
		},
		[]string{"kind"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// RoomSubscriptionsActive tracks open room push subscriptions.
	RoomSubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_room_subscriptions_active",
			Help: "Open room push subscriptions",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFetch records a remote API call.
func RecordFetch(op string, err error, duration float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	FetchDuration.WithLabelValues(op, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
