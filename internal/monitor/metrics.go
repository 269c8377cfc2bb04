// Package monitor exposes Prometheus metrics for the signal core: admission
// lane depth, execution outcomes and latency, and pool session state.
package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignalsTotal counts signals at intake by outcome.
var SignalsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "intake",
		Name:      "signals_total",
		Help:      "Signals received, labeled by intake outcome",
	},
	[]string{"outcome"}, // accepted, stale, invalid
)

// ExecutionsTotal counts terminal execution outcomes per tier.
var ExecutionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "engine",
		Name:      "executions_total",
		Help:      "Terminal execution records by tier and status",
	},
	[]string{"tier", "status"},
)

// ExecutionLatency tracks submit-to-terminal latency per exchange.
var ExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "signalcore",
		Subsystem: "engine",
		Name:      "execution_latency_ms",
		Help:      "Latency from work item pickup to terminal status in milliseconds",
		Buckets:   []float64{50, 100, 200, 300, 500, 1000, 2000, 5000, 10000},
	},
	[]string{"exchange"},
)

// ExecutionRetries counts retry attempts per exchange.
var ExecutionRetries = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "engine",
		Name:      "execution_retries_total",
		Help:      "Transient-failure retries per exchange",
	},
	[]string{"exchange"},
)

// LaneDepth is the current admission queue depth per tier.
var LaneDepth = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "scheduler",
		Name:      "lane_depth",
		Help:      "Queued work items per tier lane",
	},
	[]string{"tier"},
)

// PoolSessions tracks pooled session state per exchange.
var PoolSessions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "signalcore",
		Subsystem: "pool",
		Name:      "sessions",
		Help:      "Pooled exchange sessions by state",
	},
	[]string{"exchange", "state"}, // idle, in_flight, unhealthy
)

// CredentialQuarantines counts quarantined credentials per exchange.
var CredentialQuarantines = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalcore",
		Subsystem: "engine",
		Name:      "credential_quarantines_total",
		Help:      "Credentials quarantined after authentication errors",
	},
	[]string{"exchange"},
)

// RecordExecution records one terminal outcome with its latency.
func RecordExecution(tier, status, exchange string, latencyMs int64) {
	ExecutionsTotal.WithLabelValues(tier, status).Inc()
	ExecutionLatency.WithLabelValues(exchange).Observe(float64(latencyMs))
}

// RecordSignal records one intake outcome.
func RecordSignal(outcome string) {
	SignalsTotal.WithLabelValues(outcome).Inc()
}

// UpdateLaneDepth publishes the current depth of one tier lane.
func UpdateLaneDepth(tier string, depth int) {
	LaneDepth.WithLabelValues(tier).Set(float64(depth))
}

// UpdatePoolSessions publishes one exchange's session counts.
func UpdatePoolSessions(exchange string, idle, inFlight, unhealthy int) {
	PoolSessions.WithLabelValues(exchange, "idle").Set(float64(idle))
	PoolSessions.WithLabelValues(exchange, "in_flight").Set(float64(inFlight))
	PoolSessions.WithLabelValues(exchange, "unhealthy").Set(float64(unhealthy))
}
