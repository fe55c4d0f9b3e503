package scheduler

import (
	"context"
	"time"

	"github.com/jeeves-ci/pipeline-core/compiler/expr"
	"github.com/jeeves-ci/pipeline-core/domain"
)

// evalCondition evaluates a compiled step condition (startStage is its only
// caller; a PlanStage's own Condition is not evaluated). Empty means
// "always run". Evaluation errors default the condition to true (§4.1 step
// 4: a condition that cannot be evaluated must not silently skip work).
func evalCondition(source string, identifiers map[string]string) bool {
	if source == "" {
		return true
	}
	v, err := expr.Eval(source, &expr.Env{Identifiers: identifiers})
	if err != nil {
		return true
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "false" && t != ""
	default:
		return true
	}
}

// applyStepTransition moves a step to newStatus if legal, persists best-
// effort, and re-evaluates its parent stage when the step reaches a
// terminal state.
func (s *Scheduler) applyStepTransition(runID, stageName, stepName string, newStatus domain.StageStatus, exitCode *int) {
	rr, ok := s.runs[runID]
	if !ok {
		return
	}
	step, ok := rr.stepByName[stepKey(stageName, stepName)]
	if !ok {
		return
	}
	if !domain.IsValidStageTransition(step.Status, newStatus) {
		s.log.Warn("illegal_step_transition", "run_id", runID, "step", stepName, "from", step.Status, "to", newStatus)
		return
	}

	now := s.clock.Now()
	step.Status = newStatus
	step.ExitCode = exitCode
	if newStatus == domain.StageRunning {
		step.StartedAt = &now
	}
	if newStatus.IsAbsorbing() {
		step.EndedAt = &now
	}

	go func() {
		_ = s.repo.UpdateStepStatus(context.Background(), runID, stageName, stepName, newStatus, exitCode)
	}()

	if newStatus.IsAbsorbing() {
		s.evaluateStage(runID, stageName)
	}
}

// evaluateStage decides whether a stage is done and, if so, what its
// terminal status is: Failure if any non-continue-on-error step failed,
// Success otherwise (§3 Stage lifecycle). Triggers downstream stage
// enqueue/skip and, transitively, run evaluation.
func (s *Scheduler) evaluateStage(runID, stageName string) {
	rr, ok := s.runs[runID]
	if !ok {
		return
	}
	stage, ok := rr.stageByName[stageName]
	if !ok || stage.Status.IsAbsorbing() {
		return
	}

	planIdx := rr.run.Plan.StageIndex(stageName)
	if planIdx < 0 {
		return
	}
	planStage := rr.run.Plan.Stages[planIdx]

	allTerminal := true
	failed := false
	for i, st := range stage.Steps {
		if !st.Status.IsAbsorbing() {
			allTerminal = false
			break
		}
		if st.Status == domain.StageFailure && !planStage.Steps[i].ContinueOnError {
			failed = true
		}
	}
	if !allTerminal {
		return
	}

	now := s.clock.Now()
	newStatus := domain.StageSuccess
	if failed {
		newStatus = domain.StageFailure
	}
	if !domain.IsValidStageTransition(stage.Status, newStatus) {
		return
	}
	stage.Status = newStatus
	stage.EndedAt = &now

	go func() {
		_ = s.repo.UpdateStageStatus(context.Background(), runID, stageName, newStatus)
	}()

	s.publish(context.Background(), domain.Event{
		Kind:      domain.EventStageCompleted,
		RunID:     runID,
		StageName: stageName,
		Timestamp: now,
		Payload:   map[string]any{"status": string(newStatus)},
	})

	s.advanceRun(runID)
}

// advanceRun skips any Pending stage whose dependencies can no longer be
// satisfied, enqueues the ready steps of any Pending stage whose
// dependencies just became satisfied, and evaluates run-level completion
// once nothing is left runnable.
func (s *Scheduler) advanceRun(runID string) {
	rr, ok := s.runs[runID]
	if !ok {
		return
	}
	if rr.run.Status.IsAbsorbing() {
		return
	}

	anyOpen := false
	for i, planStage := range rr.run.Plan.Stages {
		stage := rr.stageByName[planStage.Name]
		if !stage.Status.IsAbsorbing() {
			anyOpen = true
		}
		if stage.Status != domain.StagePending {
			continue
		}

		if rr.dependencyStageFailed(planStage.DependsOn) {
			s.skipStage(runID, planStage.Name, i)
			continue
		}
		if !rr.stagePrerequisitesSatisfied(planStage.DependsOn) {
			continue
		}
		s.startStage(runID, i)
	}

	if anyOpen {
		return
	}
	s.finalizeRun(runID)
}

// startStage flips a stage Pending->Running and enqueues its runnable steps
// (those whose own condition evaluates true; others are Skipped).
func (s *Scheduler) startStage(runID string, stageIdx int) {
	rr := s.runs[runID]
	planStage := rr.run.Plan.Stages[stageIdx]
	stage := rr.stageByName[planStage.Name]

	now := s.clock.Now()
	if !domain.IsValidStageTransition(stage.Status, domain.StageRunning) {
		return
	}
	stage.Status = domain.StageRunning
	stage.StartedAt = &now

	go func() {
		_ = s.repo.UpdateStageStatus(context.Background(), runID, planStage.Name, domain.StageRunning)
	}()

	s.publish(context.Background(), domain.Event{
		Kind:      domain.EventStageStarted,
		RunID:     runID,
		StageName: planStage.Name,
		Timestamp: now,
	})

	for i, planStep := range planStage.Steps {
		step := stage.Steps[i]
		if !evalCondition(planStep.Condition, map[string]string{"branch": rr.run.Trigger.Branch}) {
			step.Status = domain.StageSkipped
			step.EndedAt = &now
			continue
		}
		s.ready.add(&readyItem{
			stepID:     runID + "/" + planStage.Name + "/" + planStep.Name,
			runID:      runID,
			stageName:  planStage.Name,
			stepName:   planStep.Name,
			runQueued:  rr.run.QueuedAt,
			stageIndex: stageIdx,
			labels:     planStep.RequiredLabels,
			timeout:    time.Duration(planStep.TimeoutMinutes) * time.Minute,
		})
	}

	// A stage whose every step was skipped by its own condition completes
	// immediately without ever dispatching.
	s.evaluateStage(runID, planStage.Name)
}

// skipStage marks every step of a stage Skipped because an upstream
// dependency failed, without ever making them ready.
func (s *Scheduler) skipStage(runID, stageName string, stageIdx int) {
	rr := s.runs[runID]
	stage := rr.stageByName[stageName]
	if !domain.IsValidStageTransition(stage.Status, domain.StageSkipped) {
		return
	}
	now := s.clock.Now()
	stage.Status = domain.StageSkipped
	stage.EndedAt = &now
	for _, st := range stage.Steps {
		st.Status = domain.StageSkipped
		st.EndedAt = &now
	}

	go func() {
		_ = s.repo.UpdateStageStatus(context.Background(), runID, stageName, domain.StageSkipped)
	}()

	s.publish(context.Background(), domain.Event{
		Kind:      domain.EventStageCompleted,
		RunID:     runID,
		StageName: stageName,
		Timestamp: now,
		Payload:   map[string]any{"status": string(domain.StageSkipped)},
	})

	s.advanceRun(runID)
}

// finalizeRun is called once every stage has reached a terminal status; it
// computes the Run's own terminal status and publishes run.completed.
func (s *Scheduler) finalizeRun(runID string) {
	rr := s.runs[runID]
	if rr.run.Status.IsAbsorbing() {
		return
	}

	failed := false
	for _, st := range rr.run.Stages {
		if st.Status == domain.StageFailure {
			failed = true
		}
	}

	newStatus := domain.RunSuccess
	reason := domain.ReasonNone
	if rr.cancelling {
		newStatus = domain.RunCancelled
		reason = domain.ReasonCancelled
	} else if failed {
		newStatus = domain.RunFailure
		reason = domain.ReasonStepFailure
	}

	s.transitionRun(runID, newStatus, reason)
}

func (s *Scheduler) transitionRun(runID string, newStatus domain.RunStatus, reason domain.FailureReason) {
	rr := s.runs[runID]
	if !domain.IsValidRunTransition(rr.run.Status, newStatus) {
		return
	}
	now := s.clock.Now()
	rr.run.Status = newStatus
	rr.run.Reason = reason
	if newStatus == domain.RunRunning {
		rr.run.StartedAt = &now
	}
	if newStatus.IsAbsorbing() {
		rr.run.CompletedAt = &now
	}
	if newStatus != domain.RunQueued {
		rr.run.Usage.ElapsedSeconds = rr.run.Duration().Seconds()
	}

	go func() {
		_ = s.repo.UpdateRunStatus(context.Background(), runID, newStatus, reason)
	}()

	kind := domain.EventRunCompleted
	switch newStatus {
	case domain.RunRunning:
		kind = domain.EventRunStarted
	case domain.RunCancelled:
		kind = domain.EventRunCancelled
	}
	s.publish(context.Background(), domain.Event{
		Kind:      kind,
		RunID:     runID,
		Timestamp: now,
		Payload:   map[string]any{"status": string(newStatus), "reason": string(reason)},
	})

	if s.cfg.TelemetryEnabled {
		recordRunMetric(rr.run.PipelineID, string(newStatus), rr.run.Duration().Seconds())
	}
}
