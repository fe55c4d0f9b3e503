package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// COMPILE METRICS
// =============================================================================

var (
	compileTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_compile_total",
			Help: "Total number of compile attempts",
		},
		[]string{"pipeline", "outcome"}, // outcome: success, not_triggered, error
	)

	compileDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_compile_duration_seconds",
			Help:    "Pipeline compile duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"pipeline"},
	)
)

// =============================================================================
// RUN / DISPATCH METRICS
// =============================================================================

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_runs_total",
			Help: "Total number of runs by terminal status",
		},
		[]string{"pipeline", "status"},
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_run_duration_seconds",
			Help:    "Run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 180, 600, 1800},
		},
		[]string{"pipeline"},
	)

	dispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_dispatch_attempts_total",
			Help: "Total dispatch pass attempts by outcome",
		},
		[]string{"outcome"}, // outcome: dispatched, no_matching_agent
	)
)

// =============================================================================
// STEP / RUNNER METRICS
// =============================================================================

var (
	stepExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_step_executions_total",
			Help: "Total number of step executions",
		},
		[]string{"status", "error_kind"},
	)

	stepDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipelinecore_step_duration_seconds",
			Help:    "Step execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
		[]string{"environment_kind"},
	)

	cacheResultTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_cache_result_total",
			Help: "Cache restore results",
		},
		[]string{"result"}, // hit, miss
	)
)

// =============================================================================
// AGENT PROTOCOL METRICS
// =============================================================================

var (
	agentHeartbeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_agent_heartbeats_total",
			Help: "Total heartbeats received per agent",
		},
		[]string{"agent_id"},
	)

	leasesIssuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_leases_issued_total",
			Help: "Total leases issued",
		},
		[]string{"agent_id"},
	)

	staleEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipelinecore_stale_events_dropped_total",
			Help: "Protocol events dropped as stale/duplicate/unknown",
		},
		[]string{"reason"}, // stale_lease, unknown_agent, duplicate_event
	)
)

// =============================================================================
// PUBLIC API
// =============================================================================

func RecordCompile(pipeline, outcome string, durationSeconds float64) {
	compileTotal.WithLabelValues(pipeline, outcome).Inc()
	compileDurationSeconds.WithLabelValues(pipeline).Observe(durationSeconds)
}

func RecordRunTerminal(pipeline, status string, durationSeconds float64) {
	runsTotal.WithLabelValues(pipeline, status).Inc()
	runDurationSeconds.WithLabelValues(pipeline).Observe(durationSeconds)
}

func RecordDispatchAttempt(outcome string) {
	dispatchAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordStepExecution(status, errorKind string, durationSeconds float64, environmentKind string) {
	stepExecutionsTotal.WithLabelValues(status, errorKind).Inc()
	stepDurationSeconds.WithLabelValues(environmentKind).Observe(durationSeconds)
}

func RecordCacheResult(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheResultTotal.WithLabelValues(result).Inc()
}

func RecordAgentHeartbeat(agentID string) {
	agentHeartbeatsTotal.WithLabelValues(agentID).Inc()
}

func RecordLeaseIssued(agentID string) {
	leasesIssuedTotal.WithLabelValues(agentID).Inc()
}

func RecordStaleEventDropped(reason string) {
	staleEventsDroppedTotal.WithLabelValues(reason).Inc()
}
