package domain

import "time"

// Run is a single execution of a Plan, identified by a stable id and a
// monotonically increasing per-pipeline run_number.
type Run struct {
	ID         string
	PipelineID string
	RunNumber  int64
	Plan       *Plan
	Trigger    TriggerContext
	Status     RunStatus
	Reason     FailureReason
	CancelMsg  string

	QueuedAt    time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Usage ResourceUsage

	Stages []*Stage
}

// Duration returns completed-started when both are set, else zero.
func (r *Run) Duration() time.Duration {
	if r.StartedAt == nil || r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(*r.StartedAt)
}

// ResourceUsage is additive telemetry surfaced by Scheduler.Status, mirroring
// the teacher's process resource-usage snapshot.
type ResourceUsage struct {
	ElapsedSeconds   float64
	StepsDispatched  int
	CacheHits        int
	CacheMisses      int
}

// Stage is a child of a Run.
type Stage struct {
	Index     int
	Name      string
	Status    StageStatus
	StartedAt *time.Time
	EndedAt   *time.Time
	RunID     string

	Steps []*Step
}

// Step is the smallest schedulable unit, a child of a Stage.
type Step struct {
	Index       int
	Name        string
	Status      StageStatus
	StartedAt   *time.Time
	EndedAt     *time.Time
	StageName   string
	RunID       string

	ExitCode     *int
	Environment  EnvironmentDef
	Cache        *ResolvedCache
	SecretRefs   []SecretRef

	CurrentLeaseSeq uint64
	TruncatedLines  int
}

// SecretRef is a reference to a secret value, never the value itself.
type SecretRef struct {
	Provider string
	Path     string
	Version  string
}

// Agent advertises capabilities and executes steps.
type Agent struct {
	ID                string
	Labels            map[string]bool
	Capabilities      map[string]string
	MaxConcurrentJobs int
	AssignedJobs      int
	Status            AgentStatus
	LastHeartbeat     time.Time
	Version           string
}

// HasLabels reports whether a is a superset of required.
func (a *Agent) HasLabels(required []string) bool {
	for _, l := range required {
		if !a.Labels[l] {
			return false
		}
	}
	return true
}

// CanAccept reports whether the agent has spare concurrency and is Idle.
func (a *Agent) CanAccept() bool {
	return a.Status == AgentIdle && a.AssignedJobs < a.MaxConcurrentJobs
}

// JobLease is the live binding of one runnable step to one agent.
type JobLease struct {
	StepID   string // "<run_id>/<stage_name>/<step_name>"
	RunID    string
	AgentID  string
	Sequence uint64
	IssuedAt time.Time
	Deadline time.Time
	Revoked  bool
}

// Expired reports whether the lease deadline has passed as of now.
func (l *JobLease) Expired(now time.Time) bool {
	return now.After(l.Deadline)
}
