package scheduler

import "github.com/jeeves-ci/pipeline-core/observability"

func recordDispatchMetric(outcome string) {
	observability.RecordDispatchAttempt(outcome)
}

func recordRunMetric(pipeline, status string, durationSeconds float64) {
	observability.RecordRunTerminal(pipeline, status, durationSeconds)
}
