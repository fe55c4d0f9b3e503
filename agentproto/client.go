package agentproto

import (
	"context"
	"sync"
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
	"github.com/jeeves-ci/pipeline-core/observability"
	"github.com/jeeves-ci/pipeline-core/ports"
)

// Executor runs one Job to completion. Implemented by the runner package;
// agentproto depends only on this narrow interface to keep the protocol
// layer and the execution layer decoupled, the way coreengine/agents.Agent
// depends on a ToolExecutor interface rather than a concrete tool package.
type Executor interface {
	Execute(ctx context.Context, job Job) (status domain.StageStatus, exitCode *int, truncatedLines int, err error)
}

// Descriptor is the static identity an agent registers with.
type Descriptor struct {
	ID                string
	Labels            map[string]bool
	Capabilities      map[string]string
	MaxConcurrentJobs int
	Version           string
}

// Client is one agent process's handle onto the bus: it registers,
// heartbeats, accepts dispatched jobs up to its concurrency limit, executes
// them, reports results, and honors cancellation (§4.3).
type Client struct {
	desc   Descriptor
	bus    ports.EventBus
	clock  ports.Clock
	exec   Executor
	log    observability.Logger
	heartbeatInterval time.Duration

	mu       sync.Mutex
	active   map[string]context.CancelFunc // "<run>/<stage>/<step>" -> cancel
	draining bool
}

// NewClient constructs an agent protocol client. clock may be nil
// (defaults to ports.SystemClock).
func NewClient(desc Descriptor, bus ports.EventBus, clock ports.Clock, exec Executor, log observability.Logger, heartbeatInterval time.Duration) *Client {
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if log == nil {
		log = observability.NoopLogger{}
	}
	if desc.MaxConcurrentJobs <= 0 {
		desc.MaxConcurrentJobs = 1
	}
	return &Client{
		desc: desc, bus: bus, clock: clock, exec: exec, log: log,
		heartbeatInterval: heartbeatInterval,
		active:            make(map[string]context.CancelFunc),
	}
}

// Run registers the agent, starts its heartbeat, subscribes to its job and
// cancel subjects, and blocks until ctx is cancelled, at which point it
// drains (stops accepting new jobs and waits for in-flight ones) before
// deregistering.
func (c *Client) Run(ctx context.Context) error {
	c.register(ctx)

	unsubJob := c.bus.Subscribe("agent."+c.desc.ID+".job", func(e domain.Event) { c.handleJob(ctx, e) })
	defer unsubJob()
	unsubCancel := c.bus.Subscribe("agent."+c.desc.ID+".cancel", func(e domain.Event) { c.handleCancel(e) })
	defer unsubCancel()

	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain(context.Background())
			return nil
		case <-ticker.C:
			c.heartbeat(ctx)
		}
	}
}

func (c *Client) register(ctx context.Context) {
	_ = c.bus.Publish(ctx, domain.Event{
		Kind:      domain.EventAgentRegistered,
		AgentID:   c.desc.ID,
		Timestamp: c.clock.Now(),
		Payload: map[string]any{
			"labels":              c.desc.Labels,
			"capabilities":        c.desc.Capabilities,
			"max_concurrent_jobs": c.desc.MaxConcurrentJobs,
			"version":             c.desc.Version,
		},
	})
}

func (c *Client) heartbeat(ctx context.Context) {
	_ = c.bus.Publish(ctx, domain.Event{
		Kind: domain.EventAgentHeartbeat, AgentID: c.desc.ID, Timestamp: c.clock.Now(),
	})
}

// handleJob accepts a dispatched job (if the agent has spare concurrency
// and is not draining) and executes it asynchronously, reporting
// step.started immediately and step.completed/failed on exit.
func (c *Client) handleJob(ctx context.Context, e domain.Event) {
	job, ok := jobFromPayload(e)
	if !ok {
		return
	}
	key := job.RunID + "/" + job.StageName + "/" + job.StepName

	c.mu.Lock()
	if c.draining || len(c.active) >= c.desc.MaxConcurrentJobs {
		c.mu.Unlock()
		return // dropped: nothing is reported, so the step stays leased until its lease deadline passes
	}
	jobCtx, cancel := context.WithDeadline(context.Background(), job.Deadline)
	c.active[key] = cancel
	c.mu.Unlock()

	_ = c.bus.Publish(ctx, domain.Event{
		Kind: domain.EventStepStarted, RunID: job.RunID, StageName: job.StageName,
		StepName: job.StepName, AgentID: c.desc.ID, LeaseSeq: job.LeaseSeq, Timestamp: c.clock.Now(),
	})

	safeGo(c.log, "run_job:"+key, func() { c.runJob(jobCtx, cancel, key, job) }, func(recovered any) {
		cancel()
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
		c.log.Error("step_execution_panicked", "run_id", job.RunID, "step", job.StepName, "panic", recovered)
		_ = c.bus.Publish(context.Background(), domain.Event{
			Kind: domain.EventStepFailed, RunID: job.RunID, StageName: job.StageName,
			StepName: job.StepName, AgentID: c.desc.ID, LeaseSeq: job.LeaseSeq, Timestamp: c.clock.Now(),
		})
	})
}

func (c *Client) runJob(ctx context.Context, cancel context.CancelFunc, key string, job Job) {
	defer func() {
		cancel()
		c.mu.Lock()
		delete(c.active, key)
		c.mu.Unlock()
	}()

	status, exitCode, truncatedLines, err := c.exec.Execute(ctx, job)
	if err != nil {
		c.log.Warn("step_execution_error", "run_id", job.RunID, "step", job.StepName, "err", err)
		status = domain.StageFailure
	}

	kind := domain.EventStepCompleted
	if status == domain.StageFailure {
		kind = domain.EventStepFailed
	}
	payload := map[string]any{}
	if exitCode != nil {
		payload["exit_code"] = *exitCode
	}
	if truncatedLines > 0 {
		payload["truncated_lines"] = truncatedLines
	}
	_ = c.bus.Publish(context.Background(), domain.Event{
		Kind: kind, RunID: job.RunID, StageName: job.StageName, StepName: job.StepName,
		AgentID: c.desc.ID, LeaseSeq: job.LeaseSeq, Timestamp: c.clock.Now(), Payload: payload,
	})
}

// handleCancel propagates cancellation to an in-flight job's context. No
// grace period is applied: the host backend runs the command under
// exec.CommandContext, which kills the process as soon as the context is
// cancelled (§4.4 step 5, §5 cancellation).
func (c *Client) handleCancel(e domain.Event) {
	key := e.RunID + "/" + e.StageName + "/" + e.StepName
	c.mu.Lock()
	cancel, ok := c.active[key]
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// drain stops accepting new jobs and waits (briefly, cooperatively) for
// in-flight ones to finish before deregistering (§4.3 draining).
func (c *Client) drain(ctx context.Context) {
	c.mu.Lock()
	c.draining = true
	c.mu.Unlock()

	for {
		c.mu.Lock()
		n := len(c.active)
		c.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	_ = c.bus.Publish(ctx, domain.Event{
		Kind: domain.EventAgentDeregistered, AgentID: c.desc.ID, Timestamp: c.clock.Now(),
	})
}
