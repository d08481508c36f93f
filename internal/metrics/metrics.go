// Package metrics holds the Prometheus collectors for code execution and HTTP traffic.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ExecutionBuckets spans quick prints up to the service's two-minute ceiling.
var ExecutionBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120}

var (
	// ExecutionsTotal counts finished dispatches by surface kind and outcome.
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_executions_total",
			Help: "Finished executions",
		},
		[]string{"kind", "outcome"},
	)

	// ExecutionDuration records client-observed execution latency in seconds.
	ExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_execution_duration_seconds",
			Help:    "Execution duration",
			Buckets: ExecutionBuckets,
		},
		[]string{"kind"},
	)

	// ExecutionsInFlight tracks surfaces currently in the Executing state.
	ExecutionsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playground_executions_in_flight",
			Help: "Executions in flight",
		},
	)

	// DispatchRejectedTotal counts runs dropped because the surface was busy.
	DispatchRejectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_dispatch_rejected_total",
			Help: "Rejected dispatches",
		},
		[]string{"kind"},
	)

	// InputRequiredTotal counts runs paused for interactive input.
	InputRequiredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_input_required_total",
			Help: "Runs paused waiting for input",
		},
		[]string{"kind"},
	)

	// ArtifactsTotal counts artifacts extracted from stdout.
	ArtifactsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playground_artifacts_total",
			Help: "Extracted artifacts",
		},
	)

	// HTTPRequestsTotal counts API requests by method and status code.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playground_http_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "status"},
	)

	// HTTPRequestDuration records API latency in seconds.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "playground_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(
		ExecutionsTotal,
		ExecutionDuration,
		ExecutionsInFlight,
		DispatchRejectedTotal,
		InputRequiredTotal,
		ArtifactsTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
