package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-ci/pipeline-core/config"
	"github.com/jeeves-ci/pipeline-core/domain"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// fakeClock is a mutable, test-controlled ports.Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRepo is an in-memory ports.Repository sufficient for scheduler tests.
type fakeRepo struct {
	mu    sync.Mutex
	runs  map[string]*domain.Run
	agents map[string]*domain.Agent
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{runs: make(map[string]*domain.Run), agents: make(map[string]*domain.Agent)}
}

func (r *fakeRepo) CreateRun(_ context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[run.ID] = run
	return nil
}
func (r *fakeRepo) GetRun(_ context.Context, runID string) (*domain.Run, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs[runID], nil
}
func (r *fakeRepo) UpdateRunStatus(_ context.Context, runID string, status domain.RunStatus, reason domain.FailureReason) error {
	return nil
}
func (r *fakeRepo) InsertStage(context.Context, *domain.Stage) error { return nil }
func (r *fakeRepo) UpdateStageStatus(context.Context, string, string, domain.StageStatus) error {
	return nil
}
func (r *fakeRepo) InsertStep(context.Context, *domain.Step) error { return nil }
func (r *fakeRepo) UpdateStepStatus(context.Context, string, string, string, domain.StageStatus, *int) error {
	return nil
}
func (r *fakeRepo) AppendStepLog(context.Context, string, string, string, domain.OutputStream, int, string) error {
	return nil
}
func (r *fakeRepo) UpsertAgent(_ context.Context, a *domain.Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[a.ID] = a
	return nil
}
func (r *fakeRepo) ListIdleAgents(context.Context) ([]*domain.Agent, error) { return nil, nil }
func (r *fakeRepo) InsertLease(context.Context, *domain.JobLease) error     { return nil }
func (r *fakeRepo) RevokeLease(context.Context, string, uint64) error       { return nil }
func (r *fakeRepo) LoadActiveRuns(context.Context) ([]*domain.Run, error)   { return nil, nil }

// fakeBus is a minimal synchronous ports.EventBus recording every publish.
type fakeBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *fakeBus) Publish(_ context.Context, e domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}
func (b *fakeBus) Subscribe(string, func(domain.Event)) func() { return func() {} }

// has polls briefly since Scheduler.publish hands events to the bus on a
// background goroutine rather than inline on the single-writer loop.
func (b *fakeBus) has(kind domain.EventKind) bool {
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.Lock()
		for _, e := range b.events {
			if e.Kind == kind {
				b.mu.Unlock()
				return true
			}
		}
		b.mu.Unlock()
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

func onePlan(name string) *domain.Plan {
	return &domain.Plan{
		PipelineName: name,
		ContentHash:  "deadbeef",
		Stages: []domain.PlanStage{
			{
				Name: "build",
				Steps: []domain.PlanStep{
					{Name: "compile", BaseName: "compile", Run: "make build"},
				},
			},
		},
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeRepo, *fakeBus, *fakeClock) {
	t.Helper()
	repo := newFakeRepo()
	bus := &fakeBus{}
	clock := newFakeClock()
	cfg := config.Default()
	cfg.DispatchTick = time.Hour // tests drive dispatch manually via enqueue
	s := New(repo, bus, clock, cfg, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)
	t.Cleanup(cancel)

	return s, repo, bus, clock
}

// =============================================================================
// TESTS
// =============================================================================

func TestSubmit_CreatesRunAndEntersRunning(t *testing.T) {
	s, _, bus, _ := newTestScheduler(t)
	run, err := s.Submit(context.Background(), onePlan("demo"))
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.True(t, bus.has(domain.EventRunQueued))
}

func TestDispatch_MatchesLabelCapableAgentAndIssuesLease(t *testing.T) {
	s, _, bus, _ := newTestScheduler(t)
	run, err := s.Submit(context.Background(), onePlan("demo"))
	require.NoError(t, err)

	s.RegisterAgent(context.Background(), &domain.Agent{
		ID: "agent-1", MaxConcurrentJobs: 1,
		Labels: map[string]bool{"linux": true},
	})

	s.enqueue(func() { s.runDispatchPass(context.Background()) })

	snap, ok := s.Status(run.ID)
	require.True(t, ok)
	step := snap.Run.Stages[0].Steps[0]
	assert.Equal(t, domain.StageRunning, step.Status)
	assert.Equal(t, uint64(1), step.CurrentLeaseSeq)
	assert.True(t, bus.has(domain.EventStepDispatched))
}

func TestDispatch_NoMatchLeavesStepReady(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	run, err := s.Submit(context.Background(), onePlan("demo"))
	require.NoError(t, err)

	s.enqueue(func() { s.runDispatchPass(context.Background()) })

	snap, _ := s.Status(run.ID)
	assert.Equal(t, domain.StagePending, snap.Run.Stages[0].Steps[0].Status)
}

func TestReportStepResult_StaleLeaseDropped(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	run, err := s.Submit(context.Background(), onePlan("demo"))
	require.NoError(t, err)
	s.RegisterAgent(context.Background(), &domain.Agent{ID: "agent-1", MaxConcurrentJobs: 1})
	s.enqueue(func() { s.runDispatchPass(context.Background()) })

	// A stale report (seq 0, before any lease) must not flip a running step.
	s.ReportStepResult(context.Background(), run.ID, "build", "compile", 0, domain.StageSuccess, nil)

	snap, _ := s.Status(run.ID)
	assert.Equal(t, domain.StageRunning, snap.Run.Stages[0].Steps[0].Status)
}

func TestReportStepResult_SuccessCompletesRun(t *testing.T) {
	s, _, bus, _ := newTestScheduler(t)
	run, err := s.Submit(context.Background(), onePlan("demo"))
	require.NoError(t, err)
	s.RegisterAgent(context.Background(), &domain.Agent{ID: "agent-1", MaxConcurrentJobs: 1})
	s.enqueue(func() { s.runDispatchPass(context.Background()) })

	snap, _ := s.Status(run.ID)
	seq := snap.Run.Stages[0].Steps[0].CurrentLeaseSeq
	zero := 0
	s.ReportStepResult(context.Background(), run.ID, "build", "compile", seq, domain.StageSuccess, &zero)

	snap, _ = s.Status(run.ID)
	assert.Equal(t, domain.RunSuccess, snap.Run.Status)
	assert.True(t, bus.has(domain.EventRunCompleted))
}

func TestCancel_CancelsPendingSteps(t *testing.T) {
	s, _, _, _ := newTestScheduler(t)
	plan := onePlan("demo")
	plan.Stages[0].Steps[0].RequiredLabels = []string{"never-registered"}
	run, err := s.Submit(context.Background(), plan)
	require.NoError(t, err)

	require.NoError(t, s.Cancel(context.Background(), run.ID, "user requested"))

	snap, _ := s.Status(run.ID)
	assert.Equal(t, domain.StageCancelled, snap.Run.Stages[0].Steps[0].Status)
}

func TestLeaseTable_MonotonicSequenceSupersedesPriorLease(t *testing.T) {
	lt := newLeaseTable()
	now := time.Now()
	l1 := lt.issue("step-1", "run-1", "agent-a", now, now.Add(time.Minute))
	l2 := lt.issue("step-1", "run-1", "agent-b", now, now.Add(time.Minute))

	assert.Equal(t, uint64(1), l1.Sequence)
	assert.Equal(t, uint64(2), l2.Sequence)
	assert.True(t, lt.isStale("step-1", l1.Sequence))
	assert.False(t, lt.isStale("step-1", l2.Sequence))
}

func TestReadySet_PriorityOrdersByRunAgeThenStageIndex(t *testing.T) {
	rs := newReadySet()
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	rs.add(&readyItem{stepID: "b", runQueued: newer, stageIndex: 0})
	rs.add(&readyItem{stepID: "a", runQueued: older, stageIndex: 1})

	items := rs.popAll()
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].stepID)
	assert.Equal(t, "b", items[1].stepID)
}
