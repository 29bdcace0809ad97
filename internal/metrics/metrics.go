// Package metrics declares the prometheus collectors exported by the runtime.
// Collectors register on the default registry; `cyclemetry watch --metrics-addr`
// serves them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transport metrics
var (
	// TransportCallsTotal counts backend calls by channel, operation and outcome category.
	TransportCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclemetry_transport_calls_total",
			Help: "Backend calls by channel, operation and outcome",
		},
		[]string{"channel", "operation", "outcome"},
	)

	// TransportCallDuration tracks backend call latency in seconds.
	TransportCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyclemetry_transport_call_duration_seconds",
			Help:    "Backend call duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"channel", "operation"},
	)
)

// Connectivity metrics
var (
	// ConnectivityTransitionsTotal counts aggregated status changes.
	ConnectivityTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclemetry_connectivity_transitions_total",
			Help: "Connectivity status transitions",
		},
		[]string{"from", "to"},
	)

	// ConnectivityConsecutiveFailures reports the current failed probe streak.
	ConnectivityConsecutiveFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cyclemetry_connectivity_consecutive_failures",
			Help: "Consecutive failed health probes",
		},
	)
)

// Preview and render metrics
var (
	// PreviewRequestsTotal counts preview requests by outcome
	// (succeeded, dropped, busy, failed, suppressed, rejected).
	PreviewRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclemetry_preview_requests_total",
			Help: "Preview requests by outcome",
		},
		[]string{"outcome"},
	)

	// RenderJobsTotal counts render jobs by terminal status or rejection.
	RenderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyclemetry_render_jobs_total",
			Help: "Render jobs by result",
		},
		[]string{"result"},
	)
)
