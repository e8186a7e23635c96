package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "llmgateway"

var (
	// RequestsTotal counts ingress requests by dialect and final
	// outcome.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of ingress requests by ingress dialect and outcome.",
		},
		[]string{"ingress", "outcome"},
	)

	// RequestDurationSeconds is end-to-end request latency, from probe
	// to final byte written.
	RequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Request duration in seconds, probe to final byte.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"ingress"},
	)

	// BreakerTripsTotal counts, by upstream name, every failure that
	// counts toward a circuit breaker's threshold (see
	// engine.recordOutcome), not only the failures that open it.
	BreakerTripsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_trips_total",
			Help:      "Total number of circuit-breaker trips by upstream.",
		},
		[]string{"upstream"},
	)

	// FcAutoFallbackTotal counts native-to-inject auto-fallback events
	// by upstream and model.
	FcAutoFallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fc_auto_fallback_total",
			Help:      "Total number of native-tools-to-inject auto-fallback events.",
		},
		[]string{"upstream", "model"},
	)

	// CandidateAttemptsTotal counts per-candidate attempts by upstream
	// and whether the attempt succeeded.
	CandidateAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidate_attempts_total",
			Help:      "Total number of per-candidate attempts by upstream and outcome.",
		},
		[]string{"upstream", "outcome"},
	)
)
