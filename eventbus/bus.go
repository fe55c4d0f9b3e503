// Package eventbus implements ports.EventBus over an in-process pub/sub
// bus, adapted from commbus.InMemoryCommBus: fan-out Publish, idempotent
// Subscribe/unsubscribe, the same subscriber-entry-with-id removal scheme.
// Where the teacher bus dispatches on a static message type string, this
// bus dispatches on the subject grammar from EXTERNAL INTERFACES
// (run.{run_id}.*, stage.{run_id}.{stage_id}.*, step.{run_id}.{step_id}.*,
// agent.{agent_id}.*, cache.*), matched with simple "*" wildcard segments.
package eventbus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// Logger is the structured logger interface the bus reports through,
// matching the teacher's BusLogger shape.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// NoopLogger discards all bus log output.
func NoopLogger() Logger { return noopLogger{} }

type subscriberEntry struct {
	id      string
	pattern string
	handler func(domain.Event)
}

// Bus is an in-memory, at-least-once, fan-out event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriberEntry
	nextSubID   uint64
	logger      Logger
}

// New creates an empty Bus. Pass NoopLogger() to silence debug/warn output.
func New(logger Logger) *Bus {
	if logger == nil {
		logger = NoopLogger()
	}
	return &Bus{logger: logger}
}

// Publish fans the event out to every subscriber whose pattern matches the
// event's subject, concurrently, the way InMemoryCommBus.Publish does.
// Subscriber errors (panics recovered to a log line) don't stop others.
func (b *Bus) Publish(ctx context.Context, event domain.Event) error {
	subject := Subject(event)

	b.mu.RLock()
	var matched []subscriberEntry
	for _, e := range b.subscribers {
		if matches(e.pattern, subject) {
			matched = append(matched, e)
		}
	}
	b.mu.RUnlock()

	if len(matched) == 0 {
		b.logger.Debug("no_subscribers_for_subject", "subject", subject)
		return nil
	}

	var wg sync.WaitGroup
	for _, entry := range matched {
		wg.Add(1)
		go func(h func(domain.Event)) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Warn("subscriber_panicked", "subject", subject, "recover", r)
				}
			}()
			h(event)
		}(entry.handler)
	}
	wg.Wait()
	return nil
}

// Subscribe registers handler against a subject pattern using "*" as a
// single-segment wildcard (e.g. "step.*.*.completed"). Returns an
// idempotent unsubscribe function.
func (b *Bus) Subscribe(pattern string, handler func(domain.Event)) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	b.subscribers = append(b.subscribers, subscriberEntry{id: subID, pattern: pattern, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("subscribed", "pattern", pattern, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.subscribers {
			if e.id == subID {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				b.logger.Debug("unsubscribed", "sub_id", subID)
				return
			}
		}
	}
}

// Subject renders the transport-agnostic subject string for an event, per
// the grammar in EXTERNAL INTERFACES.
func Subject(e domain.Event) string {
	switch {
	case strings.HasPrefix(string(e.Kind), "run."):
		return fmt.Sprintf("run.%s.%s", e.RunID, strings.TrimPrefix(string(e.Kind), "run."))
	case strings.HasPrefix(string(e.Kind), "stage."):
		return fmt.Sprintf("stage.%s.%s.%s", e.RunID, e.StageName, strings.TrimPrefix(string(e.Kind), "stage."))
	case strings.HasPrefix(string(e.Kind), "step.") || e.Kind == domain.EventAgentJobAccepted:
		return fmt.Sprintf("step.%s.%s.%s", e.RunID, e.StepName, strings.TrimPrefix(string(e.Kind), "step."))
	case strings.HasPrefix(string(e.Kind), "agent."):
		return fmt.Sprintf("agent.%s.%s", e.AgentID, strings.TrimPrefix(string(e.Kind), "agent."))
	case strings.HasPrefix(string(e.Kind), "cache."):
		return string(e.Kind)
	default:
		return string(e.Kind)
	}
}

func matches(pattern, subject string) bool {
	pSegs := strings.Split(pattern, ".")
	sSegs := strings.Split(subject, ".")
	if len(pSegs) != len(sSegs) {
		return false
	}
	for i, p := range pSegs {
		if p == "*" {
			continue
		}
		if p != sSegs[i] {
			return false
		}
	}
	return true
}

var _ interface {
	Publish(context.Context, domain.Event) error
	Subscribe(string, func(domain.Event)) func()
} = (*Bus)(nil)
