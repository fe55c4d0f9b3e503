// Package persistence implements ports.Repository over an in-process,
// mutex-guarded map store. No database driver appears in any teacher-
// relevant repo in the retrieved pack (coreengine/kernel itself tracks
// every Run/Process/Resource equivalent in-memory, never behind a SQL or
// KV driver), so this stays on the standard library rather than
// introducing an unprompted dependency (see DESIGN.md).
package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// MemoryRepository is a process-local ports.Repository. It does not
// survive process restart; Scheduler.Recover still exercises the same
// code path against whatever state happened to persist in this map.
type MemoryRepository struct {
	mu sync.RWMutex

	runs   map[string]*domain.Run
	agents map[string]*domain.Agent
	leases map[string]*domain.JobLease // keyed by stepID
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		runs:   make(map[string]*domain.Run),
		agents: make(map[string]*domain.Agent),
		leases: make(map[string]*domain.JobLease),
	}
}

func (r *MemoryRepository) CreateRun(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	r.runs[run.ID] = run
	return nil
}

func (r *MemoryRepository) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

func (r *MemoryRepository) UpdateRunStatus(_ context.Context, runID string, status domain.RunStatus, reason domain.FailureReason) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	run.Status = status
	run.Reason = reason
	return nil
}

func (r *MemoryRepository) InsertStage(_ context.Context, stage *domain.Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[stage.RunID]
	if !ok {
		return fmt.Errorf("run %s not found", stage.RunID)
	}
	for _, s := range run.Stages {
		if s.Name == stage.Name {
			return nil // already present, matches Run creation inserting stages eagerly
		}
	}
	run.Stages = append(run.Stages, stage)
	return nil
}

func (r *MemoryRepository) UpdateStageStatus(_ context.Context, runID, stageName string, status domain.StageStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stage, err := r.findStage(runID, stageName)
	if err != nil {
		return err
	}
	stage.Status = status
	return nil
}

func (r *MemoryRepository) InsertStep(_ context.Context, step *domain.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stage, err := r.findStage(step.RunID, step.StageName)
	if err != nil {
		return err
	}
	for _, s := range stage.Steps {
		if s.Name == step.Name {
			return nil
		}
	}
	stage.Steps = append(stage.Steps, step)
	return nil
}

func (r *MemoryRepository) UpdateStepStatus(_ context.Context, runID, stageName, stepName string, status domain.StageStatus, exitCode *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	step, err := r.findStep(runID, stageName, stepName)
	if err != nil {
		return err
	}
	step.Status = status
	step.ExitCode = exitCode
	return nil
}

func (r *MemoryRepository) AppendStepLog(_ context.Context, runID, stageName, stepName string, stream domain.OutputStream, lineNo int, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.findStep(runID, stageName, stepName)
	if err != nil {
		return err
	}
	// Log lines are intentionally not retained on the in-memory Step: a
	// production deployment routes AppendStepLog to its own log store
	// (§4.4 bounded buffer is the authoritative live copy; this is the
	// durable-write side of that same event, and it has nowhere durable
	// to go in a single process).
	return nil
}

func (r *MemoryRepository) UpsertAgent(_ context.Context, agent *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[agent.ID] = agent
	return nil
}

func (r *MemoryRepository) ListIdleAgents(_ context.Context) ([]*domain.Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Agent
	for _, a := range r.agents {
		if a.Status == domain.AgentIdle {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) InsertLease(_ context.Context, lease *domain.JobLease) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leases[lease.StepID] = lease
	return nil
}

func (r *MemoryRepository) RevokeLease(_ context.Context, stepID string, sequence uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lease, ok := r.leases[stepID]
	if !ok || lease.Sequence != sequence {
		return nil
	}
	delete(r.leases, stepID)
	return nil
}

func (r *MemoryRepository) LoadActiveRuns(_ context.Context) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Run
	for _, run := range r.runs {
		if !run.Status.IsAbsorbing() {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) findStage(runID, stageName string) (*domain.Stage, error) {
	run, ok := r.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	for _, s := range run.Stages {
		if s.Name == stageName {
			return s, nil
		}
	}
	return nil, fmt.Errorf("stage %s/%s not found", runID, stageName)
}

func (r *MemoryRepository) findStep(runID, stageName, stepName string) (*domain.Step, error) {
	stage, err := r.findStage(runID, stageName)
	if err != nil {
		return nil, err
	}
	for _, s := range stage.Steps {
		if s.Name == stepName {
			return s, nil
		}
	}
	return nil, fmt.Errorf("step %s/%s/%s not found", runID, stageName, stepName)
}
