// Package scheduler implements the Run/Stage/Step state machines, the
// ready-set dispatch algorithm, lease issuance, timeout and cancellation
// handling, and crash recovery (spec §4.2). The Scheduler is a single-writer
// event loop: every state mutation runs on the loop goroutine in Start,
// reached through enqueue() or the loop's own tickers, mirroring coreengine/runtime/dag_executor.go's coordinate()
// goroutine and coreengine/kernel/lifecycle.go's LifecycleManager.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeeves-ci/pipeline-core/config"
	"github.com/jeeves-ci/pipeline-core/domain"
	"github.com/jeeves-ci/pipeline-core/observability"
	"github.com/jeeves-ci/pipeline-core/ports"
)

// Scheduler owns the live Run/Stage/Step state, the ready set, the lease
// table, and the agent registry. All mutating operations are funneled
// through a single goroutine (Start's loop) via enqueue or its tickers, so no additional locking is
// needed around runtimeRun/readySet/leaseTable/agentRegistry state.
type Scheduler struct {
	repo ports.Repository
	bus  ports.EventBus
	clock ports.Clock
	cfg  *config.EngineConfig
	log  observability.Logger

	leases *leaseTable
	ready  *readySet
	agents *agentRegistry
	limiter *dispatchLimiter

	runs map[string]*runtimeRun

	cmds chan func()

	runSeq struct {
		mu sync.Mutex
		n  map[string]int64
	}
}

// New constructs a Scheduler. Call Start to launch its event loop and
// background tickers.
func New(repo ports.Repository, bus ports.EventBus, clock ports.Clock, cfg *config.EngineConfig, log observability.Logger) *Scheduler {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = observability.NoopLogger{}
	}
	s := &Scheduler{
		repo:   repo,
		bus:    bus,
		clock:  clock,
		cfg:    cfg,
		log:    log,
		leases: newLeaseTable(),
		ready:  newReadySet(),
		agents: newAgentRegistry(),
		limiter: newDispatchLimiter(cfg.DispatchRateWindow, cfg.MaxDispatchPerAgentWindow),
		runs:   make(map[string]*runtimeRun),
		cmds:   make(chan func(), 256),
	}
	s.runSeq.n = make(map[string]int64)
	return s
}

// wireProtocol subscribes the Scheduler to the subjects an Agent Protocol
// client publishes on (registration, heartbeat, step reports), so an
// out-of-process agent never needs a direct reference to the Scheduler —
// only to the shared bus (§4.3: message-oriented, no direct RPC required).
// Subscriber callbacks run on the bus's own fan-out goroutines, so each one
// re-enters through enqueue to stay on the single-writer loop.
func (s *Scheduler) wireProtocol() {
	s.bus.Subscribe("agent.*.registered", func(e domain.Event) {
		agent := agentFromPayload(e)
		if agent == nil {
			return
		}
		s.enqueue(func() { s.agents.register(agent, s.clock.Now()) })
	})
	s.bus.Subscribe("agent.*.heartbeat", func(e domain.Event) {
		s.enqueue(func() {
			if s.agents.heartbeat(e.AgentID, s.clock.Now()) {
				observability.RecordAgentHeartbeat(e.AgentID)
			}
		})
	})
	s.bus.Subscribe("agent.*.deregistered", func(e domain.Event) {
		// The agent has already finished draining its own in-flight jobs
		// (agentproto.Client.drain); mark it so the registry stops
		// offering it to dispatch while its deregistration propagates.
		s.enqueue(func() { s.agents.drain(e.AgentID) })
	})
	s.bus.Subscribe("step.*.*.completed", func(e domain.Event) {
		s.enqueue(func() { s.handleStepReport(e, domain.StageSuccess) })
	})
	s.bus.Subscribe("step.*.*.failed", func(e domain.Event) {
		s.enqueue(func() { s.handleStepReport(e, domain.StageFailure) })
	})
	s.bus.Subscribe("cache.hit", func(e domain.Event) {
		s.enqueue(func() { s.recordCacheUsage(e.RunID, true) })
	})
	s.bus.Subscribe("cache.miss", func(e domain.Event) {
		s.enqueue(func() { s.recordCacheUsage(e.RunID, false) })
	})
	s.bus.Subscribe("step.*.*.output", func(e domain.Event) {
		s.persistStepLog(e)
	})
}

// persistStepLog durably records one streamed output line. Runs off the
// single-writer loop since it only appends to the repository, never
// touches in-memory run state (§4.4 step 5 durable-write side of the
// bounded live buffer).
func (s *Scheduler) persistStepLog(e domain.Event) {
	stream, _ := e.Payload["stream"].(domain.OutputStream)
	lineNo, _ := e.Payload["no"].(int)
	text, _ := e.Payload["text"].(string)
	if err := s.repo.AppendStepLog(context.Background(), e.RunID, e.StageName, e.StepName, stream, lineNo, text); err != nil {
		s.log.Warn("step_log_append_error", "run_id", e.RunID, "step", e.StepName, "err", err)
	}
}

// recordCacheUsage folds a cache.hit/cache.miss event into the Run's
// supplemental ResourceUsage counters (§3), surfaced as-is by Status.
func (s *Scheduler) recordCacheUsage(runID string, hit bool) {
	rr, ok := s.runs[runID]
	if !ok {
		return
	}
	if hit {
		rr.run.Usage.CacheHits++
	} else {
		rr.run.Usage.CacheMisses++
	}
}

// handleStepReport applies a step report received over the bus, dropping
// it if its lease is stale (§4.2 completion handling).
func (s *Scheduler) handleStepReport(e domain.Event, status domain.StageStatus) {
	key := e.RunID + "/" + e.StageName + "/" + e.StepName
	if s.leases.isStale(key, e.LeaseSeq) {
		observability.RecordStaleEventDropped("stale_lease")
		return
	}
	if lease := s.leases.current(key); lease != nil {
		s.agents.release(lease.AgentID)
	}
	var exitCode *int
	if v, ok := e.Payload["exit_code"].(int); ok {
		exitCode = &v
	}
	s.applyStepTransition(e.RunID, e.StageName, e.StepName, status, exitCode)
}

func agentFromPayload(e domain.Event) *domain.Agent {
	labels, _ := e.Payload["labels"].(map[string]bool)
	caps, _ := e.Payload["capabilities"].(map[string]string)
	maxJobs, _ := e.Payload["max_concurrent_jobs"].(int)
	version, _ := e.Payload["version"].(string)
	if maxJobs == 0 {
		maxJobs = 1
	}
	return &domain.Agent{
		ID:                e.AgentID,
		Labels:            labels,
		Capabilities:      caps,
		MaxConcurrentJobs: maxJobs,
		Version:           version,
		Status:            domain.AgentIdle,
	}
}

// Start launches the single-writer loop and the dispatch/timeout/stale-
// agent tickers. It blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.wireProtocol()

	dispatchTick := time.NewTicker(s.cfg.DispatchTick)
	defer dispatchTick.Stop()
	staleTick := time.NewTicker(s.cfg.HeartbeatInterval)
	defer staleTick.Stop()
	timeoutTick := time.NewTicker(s.cfg.DispatchTick)
	defer timeoutTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-s.cmds:
			fn()
		case <-dispatchTick.C:
			s.runDispatchPass(ctx)
		case <-staleTick.C:
			s.checkStaleAgents(ctx)
		case <-timeoutTick.C:
			s.checkTimeouts(ctx)
		}
	}
}

// enqueue runs fn on the single-writer loop and blocks until it completes.
func (s *Scheduler) enqueue(fn func()) {
	done := make(chan struct{})
	s.cmds <- func() {
		fn()
		close(done)
	}
	<-done
}

// publish hands an event to the bus asynchronously. It must never block the
// single-writer loop: a subscriber reacting to this very event (e.g.
// wireProtocol's own handlers) calls back into enqueue, and the bus fans
// out synchronously within Publish — publishing inline from the loop
// goroutine would deadlock against its own subscriber.
func (s *Scheduler) publish(ctx context.Context, event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = s.clock.Now()
	}
	go func() {
		if err := s.bus.Publish(ctx, event); err != nil {
			s.log.Warn("publish_failed", "kind", event.Kind, "run_id", event.RunID, "err", err)
		}
	}()
}

// Submit creates a Run from a frozen Plan, queues it, and returns once it
// is durable and its first dispatchable stage has been evaluated.
func (s *Scheduler) Submit(ctx context.Context, plan *domain.Plan) (*domain.Run, error) {
	s.runSeq.mu.Lock()
	s.runSeq.n[plan.PipelineName]++
	runNumber := s.runSeq.n[plan.PipelineName]
	s.runSeq.mu.Unlock()

	now := s.clock.Now()
	run := buildRunFromPlan(uuid.NewString(), runNumber, plan, now)

	if err := s.repo.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("persist run: %w", err)
	}
	for _, stage := range run.Stages {
		if err := s.repo.InsertStage(ctx, stage); err != nil {
			return nil, fmt.Errorf("persist stage %s: %w", stage.Name, err)
		}
		for _, step := range stage.Steps {
			if err := s.repo.InsertStep(ctx, step); err != nil {
				return nil, fmt.Errorf("persist step %s/%s: %w", stage.Name, step.Name, err)
			}
		}
	}

	s.enqueue(func() {
		s.runs[run.ID] = newRuntimeRun(run)
		s.transitionRun(run.ID, domain.RunRunning, domain.ReasonNone)
		s.advanceRun(run.ID)
	})

	s.publish(ctx, domain.Event{Kind: domain.EventRunQueued, RunID: run.ID, Timestamp: now})
	return run, nil
}

// Cancel requests cooperative cancellation of a run: ready, not-yet-
// dispatched steps are cancelled immediately; for each in-flight step an
// agent cancel event carrying its current lease is published. No grace
// period is applied here (CancelGracePeriod is not read); an in-flight step
// ends with whatever report its agent sends (§4.2 cancellation, §4.4 step 5).
func (s *Scheduler) Cancel(ctx context.Context, runID, reason string) error {
	var notFound bool
	s.enqueue(func() {
		rr, ok := s.runs[runID]
		if !ok {
			notFound = true
			return
		}
		if rr.run.Status.IsAbsorbing() {
			return
		}
		rr.cancelling = true
		rr.run.CancelMsg = reason

		now := s.clock.Now()
		for _, stage := range rr.run.Stages {
			for _, step := range stage.Steps {
				stepID := runID + "/" + stage.Name + "/" + step.Name
				switch {
				case step.Status == domain.StagePending && s.ready.contains(stepID):
					s.applyStepTransition(runID, stage.Name, step.Name, domain.StageCancelled, nil)
				case step.Status == domain.StageRunning:
					lease := s.leases.current(stepID)
					if lease == nil || lease.Revoked {
						continue
					}
					s.publish(ctx, domain.Event{
						Kind:      domain.EventAgentCancel,
						RunID:     runID,
						StageName: stage.Name,
						StepName:  step.Name,
						AgentID:   lease.AgentID,
						LeaseSeq:  lease.Sequence,
						Timestamp: now,
					})
				}
			}
		}
	})
	if notFound {
		return fmt.Errorf("run %s not found", runID)
	}
	return nil
}

// ReportStepResult applies a terminal or output event reported by an agent
// for a step it holds the current lease on. A report whose lease_seq is
// older than the current lease is dropped as stale (§4.2 completion
// handling, §8 lease monotonicity/idempotence).
func (s *Scheduler) ReportStepResult(ctx context.Context, runID, stageName, stepName string, leaseSeq uint64, status domain.StageStatus, exitCode *int) {
	s.enqueue(func() {
		if s.leases.isStale(runID+"/"+stageName+"/"+stepName, leaseSeq) {
			observability.RecordStaleEventDropped("stale_lease")
			return
		}
		lease := s.leases.current(runID + "/" + stageName + "/" + stepName)
		if lease != nil {
			s.agents.release(lease.AgentID)
		}
		s.applyStepTransition(runID, stageName, stepName, status, exitCode)

		kind := domain.EventStepCompleted
		if status == domain.StageFailure {
			kind = domain.EventStepFailed
		}
		s.publish(ctx, domain.Event{
			Kind: kind, RunID: runID, StageName: stageName, StepName: stepName,
			LeaseSeq: leaseSeq, Timestamp: s.clock.Now(),
		})
	})
}

// RegisterAgent admits or refreshes an agent into the registry.
func (s *Scheduler) RegisterAgent(ctx context.Context, agent *domain.Agent) {
	s.enqueue(func() {
		s.agents.register(agent, s.clock.Now())
		_ = s.repo.UpsertAgent(ctx, agent)
		s.publish(ctx, domain.Event{Kind: domain.EventAgentRegistered, AgentID: agent.ID, Timestamp: s.clock.Now()})
	})
}

// Heartbeat refreshes an agent's liveness. Returns false if the agent was
// never registered.
func (s *Scheduler) Heartbeat(ctx context.Context, agentID string) bool {
	var ok bool
	s.enqueue(func() {
		ok = s.agents.heartbeat(agentID, s.clock.Now())
		if ok {
			observability.RecordAgentHeartbeat(agentID)
		}
	})
	return ok
}

// checkStaleAgents demotes silent agents to Offline and re-queues any step
// whose lease they were holding (§4.3: silence beyond StaleThreshold).
// Called directly from the loop goroutine (Start) — already single-writer,
// must not go through enqueue or it would deadlock against itself.
func (s *Scheduler) checkStaleAgents(ctx context.Context) {
	now := s.clock.Now()
	for _, id := range s.agents.markStale(now, s.cfg.StaleThreshold) {
		for _, lease := range s.leases.forAgent(id) {
			s.requeueLeasedStep(ctx, lease)
		}
	}
}

// checkTimeouts revokes and re-evaluates every lease past its deadline
// (§4.2 timeout layering, §5). Called directly from the loop goroutine.
func (s *Scheduler) checkTimeouts(ctx context.Context) {
	now := s.clock.Now()
	for _, lease := range s.leases.expired(now) {
		s.leases.revoke(lease.StepID, lease.Sequence)
		s.agents.release(lease.AgentID)
		rr, ok := s.runs[lease.RunID]
		if !ok {
			continue
		}
		step := findStepByID(rr, lease.StepID)
		if step == nil || step.Status.IsAbsorbing() {
			continue
		}
		s.applyStepTransition(lease.RunID, step.StageName, step.Name, domain.StageFailure, nil)
		s.publish(ctx, domain.Event{
			Kind: domain.EventStepFailed, RunID: lease.RunID, StageName: step.StageName,
			StepName: step.Name, LeaseSeq: lease.Sequence, Timestamp: now,
			Payload: map[string]any{"error_kind": string(domain.ErrTimeout)},
		})
	}
}

// requeueLeasedStep returns a lease-holder's step to Pending and the ready
// set, so another agent can pick it up (used by both stale-agent detection
// and crash recovery).
func (s *Scheduler) requeueLeasedStep(ctx context.Context, lease *domain.JobLease) {
	rr, ok := s.runs[lease.RunID]
	if !ok {
		return
	}
	step := findStepByID(rr, lease.StepID)
	if step == nil || step.Status.IsAbsorbing() {
		return
	}
	planIdx := rr.run.Plan.StageIndex(step.StageName)
	if planIdx < 0 {
		return
	}
	var planStep *domain.PlanStep
	for i := range rr.run.Plan.Stages[planIdx].Steps {
		if rr.run.Plan.Stages[planIdx].Steps[i].Name == step.Name {
			planStep = &rr.run.Plan.Stages[planIdx].Steps[i]
			break
		}
	}
	if planStep == nil {
		return
	}
	step.Status = domain.StagePending
	step.StartedAt = nil
	s.ready.add(&readyItem{
		stepID:     lease.StepID,
		runID:      lease.RunID,
		stageName:  step.StageName,
		stepName:   step.Name,
		runQueued:  rr.run.QueuedAt,
		stageIndex: planIdx,
		labels:     planStep.RequiredLabels,
		timeout:    time.Duration(planStep.TimeoutMinutes) * time.Minute,
	})
}

func findStepByID(rr *runtimeRun, stepID string) *domain.Step {
	for key, st := range rr.stepByName {
		if rr.run.ID+"/"+key == stepID {
			return st
		}
	}
	return nil
}

// RunSnapshot is a point-in-time, read-only copy of a Run's status exposed
// through Status() without holding the scheduler's internal lock.
type RunSnapshot struct {
	Run *domain.Run
}

// Status returns a snapshot of a tracked run, or false if it isn't (or is
// no longer) resident in memory.
func (s *Scheduler) Status(runID string) (RunSnapshot, bool) {
	var snap RunSnapshot
	var ok bool
	s.enqueue(func() {
		rr, found := s.runs[runID]
		if !found {
			return
		}
		ok = true
		runCopy := *rr.run
		runCopy.Stages = make([]*domain.Stage, len(rr.run.Stages))
		for i, st := range rr.run.Stages {
			stageCopy := *st
			stageCopy.Steps = make([]*domain.Step, len(st.Steps))
			for j, sp := range st.Steps {
				stepCopy := *sp
				stageCopy.Steps[j] = &stepCopy
			}
			runCopy.Stages[i] = &stageCopy
		}
		snap = RunSnapshot{Run: &runCopy}
	})
	return snap, ok
}

// Recover reconstructs in-memory state from the repository on process
// restart: reloads every non-terminal run and re-queues every step that was
// Running, each under a freshly issued lease that is marked revoked at once.
// Leases are not loaded from the repository, so no deadline is checked
// (§4.2 crash recovery).
func (s *Scheduler) Recover(ctx context.Context) error {
	runs, err := s.repo.LoadActiveRuns(ctx)
	if err != nil {
		return fmt.Errorf("load active runs: %w", err)
	}
	s.enqueue(func() {
		now := s.clock.Now()
		for _, run := range runs {
			s.runs[run.ID] = newRuntimeRun(run)
			for _, stage := range run.Stages {
				for _, step := range stage.Steps {
					if step.Status != domain.StageRunning {
						continue
					}
					lease := s.leases.issue(run.ID+"/"+stage.Name+"/"+step.Name, run.ID, "", now, now)
					lease.Revoked = true
					s.requeueLeasedStep(ctx, lease)
				}
			}
			s.advanceRun(run.ID)
		}
	})
	return nil
}
