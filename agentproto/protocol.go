// Package agentproto implements the Agent Protocol (spec §4.3): an agent
// process's side of registration, heartbeat, job dispatch receipt,
// execution reporting, and cancellation/draining, carried entirely over
// ports.EventBus subjects rather than direct RPC. Grounded on
// commbus/protocols.go's DistributedBus (EnqueueTask/DequeueTask/
// CompleteTask/FailTask/RegisterWorker/Heartbeat), adapted from a queue-
// polling shape to the event-bus push shape the scheduler package uses.
package agentproto

import (
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// Job is everything an agent needs to execute one step without calling
// back into the Scheduler (§4.3 dispatch payload).
type Job struct {
	RunID     string
	StageName string
	StepName  string
	AgentID   string
	LeaseSeq  uint64
	Step      domain.PlanStep
	Deadline  time.Time
}

func jobFromPayload(e domain.Event) (Job, bool) {
	step, ok := e.Payload["step"].(domain.PlanStep)
	if !ok {
		return Job{}, false
	}
	deadline, _ := e.Payload["deadline"].(time.Time)
	return Job{
		RunID:     e.RunID,
		StageName: e.StageName,
		StepName:  e.StepName,
		AgentID:   e.AgentID,
		LeaseSeq:  e.LeaseSeq,
		Step:      step,
		Deadline:  deadline,
	}, true
}
