// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route pattern and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebook_http_requests_total",
			Help: "Total HTTP requests served.",
		},
		[]string{"method", "route", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carebook_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// AuthTransitionsTotal counts auth state transitions by target status.
	AuthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebook_auth_state_transitions_total",
			Help: "Auth state transitions by target status.",
		},
		[]string{"status"},
	)

	// ProfileResolutionsTotal counts profile resolutions by outcome (hit, miss, failure, stale).
	ProfileResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebook_profile_resolutions_total",
			Help: "Profile resolutions by outcome.",
		},
		[]string{"outcome"},
	)

	// GuardDecisionsTotal counts route guard decisions by kind.
	GuardDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carebook_route_guard_decisions_total",
			Help: "Route guard decisions by kind.",
		},
		[]string{"kind"},
	)

	// ActiveClients tracks live client runtimes.
	ActiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "carebook_active_clients",
			Help: "Client runtimes currently attached.",
		},
	)
)

// Handler exposes the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
