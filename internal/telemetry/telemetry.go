// Package telemetry exposes the Prometheus counters and histograms
// biomcp's operators watch alongside the structured job-transition log
// records: job outcomes by tool and terminal state, retry counts,
// tool-invocation latency, and readiness-probe latency.
//
// Metrics are package-level promauto vars under the biomcp namespace.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobTransitions counts job outcomes by tool and final state
	// (succeeded, failed, cancelled), the metrics-surface counterpart to
	// the structured log record emitted for every transition.
	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomcp_job_transitions_total",
			Help: "Total number of job state transitions to a terminal state, by tool and state.",
		},
		[]string{"tool", "state"},
	)

	// JobRetries counts retry attempts taken by the job worker's backoff
	// loop, by tool.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomcp_job_retries_total",
			Help: "Total number of job retry attempts, by tool.",
		},
		[]string{"tool"},
	)

	// ToolInvocationDuration measures synchronous invoke() latency
	//, by tool and whether the call succeeded.
	ToolInvocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biomcp_tool_invocation_duration_seconds",
			Help:    "Synchronous tool invocation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tool", "outcome"},
	)

	// ReadyProbeDuration measures each readiness probe's check latency
	//, by probe name.
	ReadyProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "biomcp_ready_probe_duration_seconds",
			Help:    "Readiness probe check latency in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"probe"},
	)

	// ReadyProbeFailures counts failed readiness probe checks, by probe
	// name, so an operator can tell which dependency is flapping without
	// grepping logs.
	ReadyProbeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomcp_ready_probe_failures_total",
			Help: "Total number of failed readiness probe checks, by probe.",
		},
		[]string{"probe"},
	)
)

// Handler returns the HTTP handler biomcp's transport server mounts at
// /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
