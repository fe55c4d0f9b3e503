package eventbus

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeeves-ci/pipeline-core/domain"
)

func TestSubject_RunEvent(t *testing.T) {
	e := domain.Event{Kind: domain.EventRunCompleted, RunID: "r1"}
	assert.Equal(t, "run.r1.completed", Subject(e))
}

func TestSubject_StageEvent(t *testing.T) {
	e := domain.Event{Kind: domain.EventStageStarted, RunID: "r1", StageName: "build"}
	assert.Equal(t, "stage.r1.build.started", Subject(e))
}

func TestSubject_StepEvent(t *testing.T) {
	e := domain.Event{Kind: domain.EventStepCompleted, RunID: "r1", StepName: "compile"}
	assert.Equal(t, "step.r1.compile.completed", Subject(e))
}

func TestSubject_JobAcceptedUsesStepShape(t *testing.T) {
	e := domain.Event{Kind: domain.EventAgentJobAccepted, RunID: "r1", StepName: "compile"}
	assert.Equal(t, "step.r1.compile.accepted", Subject(e))
}

func TestSubject_AgentEvent(t *testing.T) {
	e := domain.Event{Kind: domain.EventAgentCancel, AgentID: "agent-1"}
	assert.Equal(t, "agent.agent-1.cancel", Subject(e))
}

func TestSubject_AgentEventWithEmptyAgentIDIsUnmatchable(t *testing.T) {
	e := domain.Event{Kind: domain.EventAgentCancel}
	assert.Equal(t, "agent..cancel", Subject(e), "an empty AgentID renders a subject no subscription pattern can match")
}

func TestSubject_CacheEvent(t *testing.T) {
	e := domain.Event{Kind: domain.EventCacheHit}
	assert.Equal(t, "cache.hit", Subject(e))
}

func TestBus_PublishMatchesWildcardSubscription(t *testing.T) {
	bus := New(NoopLogger())

	var mu sync.Mutex
	var got []domain.Event
	bus.Subscribe("step.*.*.completed", func(e domain.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})

	err := bus.Publish(context.Background(), domain.Event{Kind: domain.EventStepCompleted, RunID: "r1", StepName: "compile"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RunID)
}

func TestBus_PublishDoesNotMatchDifferentSuffix(t *testing.T) {
	bus := New(NoopLogger())

	var called bool
	bus.Subscribe("step.*.*.completed", func(domain.Event) { called = true })

	err := bus.Publish(context.Background(), domain.Event{Kind: domain.EventStepFailed, RunID: "r1", StepName: "compile"})
	require.NoError(t, err)
	assert.False(t, called)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(NoopLogger())

	var count int
	unsub := bus.Subscribe("run.*.completed", func(domain.Event) { count++ })
	_ = bus.Publish(context.Background(), domain.Event{Kind: domain.EventRunCompleted, RunID: "r1"})

	unsub()
	_ = bus.Publish(context.Background(), domain.Event{Kind: domain.EventRunCompleted, RunID: "r1"})

	assert.Equal(t, 1, count)
}

func TestBus_PublishFansOutToMultipleSubscribers(t *testing.T) {
	bus := New(NoopLogger())

	var mu sync.Mutex
	var a, b bool
	bus.Subscribe("run.*.completed", func(domain.Event) { mu.Lock(); a = true; mu.Unlock() })
	bus.Subscribe("run.*.*", func(domain.Event) { mu.Lock(); b = true; mu.Unlock() })

	err := bus.Publish(context.Background(), domain.Event{Kind: domain.EventRunCompleted, RunID: "r1"})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, a)
	assert.True(t, b)
}

func TestBus_PublishSurvivesPanickingSubscriber(t *testing.T) {
	bus := New(NoopLogger())

	var recovered bool
	bus.Subscribe("run.*.completed", func(domain.Event) { panic("boom") })
	bus.Subscribe("run.*.completed", func(domain.Event) { recovered = true })

	err := bus.Publish(context.Background(), domain.Event{Kind: domain.EventRunCompleted, RunID: "r1"})
	require.NoError(t, err)
	assert.True(t, recovered, "a panicking subscriber must not block delivery to others")
}
