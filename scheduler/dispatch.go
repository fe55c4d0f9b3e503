package scheduler

import (
	"context"
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// matchAgent picks, among the idle agents whose labels are a superset of
// the step's required labels (§4.2 dispatch algorithm step 3), the one with
// the fewest assigned jobs; on a tie the earlier agent in idle wins. This
// mirrors least-loaded selection in coreengine/kernel/services.go's
// DispatchTarget resolution.
func matchAgent(item *readyItem, idle []*domain.Agent) *domain.Agent {
	var best *domain.Agent
	for _, a := range idle {
		if !a.HasLabels(item.labels) {
			continue
		}
		if best == nil || a.AssignedJobs < best.AssignedJobs {
			best = a
		}
	}
	return best
}

// runDispatchPass pops every ready item, greedily matches it against the
// current idle-agent snapshot, and issues leases for matches. Unmatched
// items are re-added to the ready set for the next pass (§4.2 step 4: no
// match means the step stays ready).
func (s *Scheduler) runDispatchPass(ctx context.Context) {
	items := s.ready.popAll()
	if len(items) == 0 {
		return
	}

	idle := s.agents.idleCapable()
	now := s.clock.Now()

	for _, item := range items {
		agent := matchAgent(item, idle)
		if agent == nil {
			s.ready.add(item)
			s.recordDispatchOutcome("no_matching_agent")
			continue
		}
		if !s.limiter.allow(agent.ID, now) {
			// Agent is capable and idle but has already received its
			// quota of jobs this window; leave it in the idle pool for a
			// different item and retry this one next pass.
			s.ready.add(item)
			s.recordDispatchOutcome("rate_limited")
			continue
		}

		// Remove the matched agent from this pass's idle pool so the next
		// item doesn't double-book it before assign() lands.
		idle = removeAgent(idle, agent.ID)

		deadline := now.Add(stepTimeout(item, s.cfg.DefaultStepTimeout) + s.cfg.LeaseGrace)
		lease := s.leases.issue(item.stepID, item.runID, agent.ID, now, deadline)
		s.agents.assign(agent.ID)
		s.recordDispatchOutcome("dispatched")

		s.applyStepTransition(item.runID, item.stageName, item.stepName, domain.StageRunning, nil)
		if rr, ok := s.runs[item.runID]; ok {
			if step, ok := rr.stepByName[stepKey(item.stageName, item.stepName)]; ok {
				step.CurrentLeaseSeq = lease.Sequence
			}
		}

		s.publish(ctx, domain.Event{
			Kind:      domain.EventStepDispatched,
			RunID:     item.runID,
			StageName: item.stageName,
			StepName:  item.stepName,
			AgentID:   agent.ID,
			LeaseSeq:  lease.Sequence,
			Timestamp: now,
			Payload: map[string]any{
				"deadline": deadline,
			},
		})

		// The job itself goes out addressed to the chosen agent on its own
		// subject (agent.{agent_id}.job), carrying everything it needs to
		// execute without calling back into the Scheduler (§4.3 dispatch).
		if planStep := lookupPlanStep(s.runs[item.runID], item.stageName, item.stepName); planStep != nil {
			s.publish(ctx, domain.Event{
				Kind:      domain.EventAgentJob,
				RunID:     item.runID,
				StageName: item.stageName,
				StepName:  item.stepName,
				AgentID:   agent.ID,
				LeaseSeq:  lease.Sequence,
				Timestamp: now,
				Payload: map[string]any{
					"step":     *planStep,
					"deadline": deadline,
				},
			})
		}
	}
}

func lookupPlanStep(rr *runtimeRun, stageName, stepName string) *domain.PlanStep {
	if rr == nil {
		return nil
	}
	idx := rr.run.Plan.StageIndex(stageName)
	if idx < 0 {
		return nil
	}
	for i := range rr.run.Plan.Stages[idx].Steps {
		if rr.run.Plan.Stages[idx].Steps[i].Name == stepName {
			return &rr.run.Plan.Stages[idx].Steps[i]
		}
	}
	return nil
}

func removeAgent(agents []*domain.Agent, id string) []*domain.Agent {
	out := agents[:0]
	for _, a := range agents {
		if a.ID != id {
			out = append(out, a)
		}
	}
	return out
}

func stepTimeout(item *readyItem, fallback time.Duration) time.Duration {
	if item.timeout > 0 {
		return item.timeout
	}
	return fallback
}

func (s *Scheduler) recordDispatchOutcome(outcome string) {
	if s.cfg.TelemetryEnabled {
		recordDispatchMetric(outcome)
	}
}
