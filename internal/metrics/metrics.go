// Package metrics provides Prometheus instrumentation for the relay server. It
// exposes gauges for live sessions and watchers, counters for lifecycle
// transitions, and histograms for eviction sweeps.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsCreated counts sessions handed out by the gateway.
	SessionsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_created_total",
		Help: "Total number of relay sessions created",
	})

	// Transitions counts successful status changes, labeled by the new status.
	Transitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_session_transitions_total",
		Help: "Total number of session status transitions",
	}, []string{"status"}) // status = "redirected", "completed", "expired"

	// GatewayErrors counts failed gateway operations, labeled by operation and
	// error kind.
	GatewayErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_gateway_errors_total",
		Help: "Total number of failed relay gateway operations",
	}, []string{"op", "kind"}) // kind = "not_found", "invalid_transition", "validation", "internal"

	// SessionsEvicted counts sessions removed by the evictor.
	SessionsEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_sessions_evicted_total",
		Help: "Total number of sessions removed by eviction sweeps",
	})

	// EvictionDuration records how long each eviction sweep takes.
	EvictionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_eviction_duration_seconds",
		Help:    "Eviction sweep duration in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	// EvictionFailures counts sweeps that returned an error or panicked.
	EvictionFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_eviction_failures_total",
		Help: "Total number of failed or panicked eviction sweeps",
	})

	// ActiveWatchers tracks the current number of WebSocket status watchers.
	ActiveWatchers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_watchers",
		Help: "Current number of WebSocket status watchers",
	})

	// RateLimited counts requests rejected by the rate limiter, labeled by rule.
	RateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rate_limited_total",
		Help: "Total number of requests rejected by rate limiting",
	}, []string{"rule"})

	// HTTPRequests counts HTTP requests by route pattern and status code.
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total number of HTTP requests served",
	}, []string{"route", "code"})
)

func init() {
	prometheus.MustRegister(
		SessionsCreated,
		Transitions,
		GatewayErrors,
		SessionsEvicted,
		EvictionDuration,
		EvictionFailures,
		ActiveWatchers,
		RateLimited,
		HTTPRequests,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
