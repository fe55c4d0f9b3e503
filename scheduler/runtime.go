package scheduler

import (
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// runtimeRun is the Scheduler's in-memory working copy of one Run, indexed
// for O(1) stage/step lookup. The Scheduler is the single writer of these
// structures; readers get point-in-time snapshots via Status().
type runtimeRun struct {
	run *domain.Run

	stageByName map[string]*domain.Stage
	stepByName  map[string]*domain.Step // "<stage>/<step>" -> Step

	cancelling bool
}

func stepKey(stage, step string) string { return stage + "/" + step }

func newRuntimeRun(run *domain.Run) *runtimeRun {
	rr := &runtimeRun{
		run:         run,
		stageByName: make(map[string]*domain.Stage),
		stepByName:  make(map[string]*domain.Step),
	}
	for _, s := range run.Stages {
		rr.stageByName[s.Name] = s
		for _, st := range s.Steps {
			rr.stepByName[stepKey(s.Name, st.Name)] = st
		}
	}
	return rr
}

// buildRunFromPlan materializes Run/Stage/Step runtime records from a
// frozen Plan, all starting Pending/Queued (§3 lifecycle: Stage/Step are
// created with their Run).
func buildRunFromPlan(id string, runNumber int64, plan *domain.Plan, now time.Time) *domain.Run {
	run := &domain.Run{
		ID:         id,
		PipelineID: plan.PipelineName,
		RunNumber:  runNumber,
		Plan:       plan,
		Trigger:    plan.Trigger,
		Status:     domain.RunQueued,
		QueuedAt:   now,
	}
	for i, ps := range plan.Stages {
		stage := &domain.Stage{
			Index:  i,
			Name:   ps.Name,
			Status: domain.StagePending,
			RunID:  id,
		}
		for j, pstep := range ps.Steps {
			stage.Steps = append(stage.Steps, &domain.Step{
				Index:       j,
				Name:        pstep.Name,
				Status:      domain.StagePending,
				StageName:   ps.Name,
				RunID:       id,
				Environment: pstep.Environment,
				Cache:       pstep.Cache,
			})
		}
		run.Stages = append(run.Stages, stage)
	}
	return run
}

// stagePrerequisitesSatisfied reports whether every stage in dependsOn is
// Success or (Skipped with continue-through semantics handled by the
// caller) terminal-success-equivalent.
func (rr *runtimeRun) stagePrerequisitesSatisfied(dependsOn []string) bool {
	for _, dep := range dependsOn {
		s, ok := rr.stageByName[dep]
		if !ok {
			return false
		}
		if s.Status != domain.StageSuccess && s.Status != domain.StageSkipped {
			return false
		}
	}
	return true
}

// dependencyStageFailed reports whether any stage in dependsOn ended
// Failure (a stage's Failure already excludes continue_on_error steps) —
// used to decide whether to Skip a downstream stage rather than start it.
func (rr *runtimeRun) dependencyStageFailed(dependsOn []string) bool {
	for _, dep := range dependsOn {
		s, ok := rr.stageByName[dep]
		if ok && s.Status == domain.StageFailure {
			return true
		}
	}
	return false
}
