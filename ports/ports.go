// Package ports declares the narrow capability interfaces the execution
// core depends on for everything outside its own walls: persistence, the
// event bus, secrets, plugins, caches, and artifact storage. Shapes follow
// commbus/protocols.go's small-interface, context-first, error-last
// convention.
package ports

import (
	"context"
	"time"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// Repository is the persistence port the Scheduler requires (§6).
type Repository interface {
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, reason domain.FailureReason) error

	InsertStage(ctx context.Context, stage *domain.Stage) error
	UpdateStageStatus(ctx context.Context, runID, stageName string, status domain.StageStatus) error

	InsertStep(ctx context.Context, step *domain.Step) error
	UpdateStepStatus(ctx context.Context, runID, stageName, stepName string, status domain.StageStatus, exitCode *int) error
	AppendStepLog(ctx context.Context, runID, stageName, stepName string, stream domain.OutputStream, lineNo int, content string) error

	UpsertAgent(ctx context.Context, agent *domain.Agent) error
	ListIdleAgents(ctx context.Context) ([]*domain.Agent, error)

	InsertLease(ctx context.Context, lease *domain.JobLease) error
	RevokeLease(ctx context.Context, stepID string, sequence uint64) error

	LoadActiveRuns(ctx context.Context) ([]*domain.Run, error)
}

// EventBus is the pub/sub port events are published and consumed through.
// Delivery is at-least-once; subscribers must be idempotent.
type EventBus interface {
	Publish(ctx context.Context, event domain.Event) error
	Subscribe(subjectPattern string, handler func(domain.Event)) (unsubscribe func())
}

// SecretResolver resolves a secret reference to its current value. Never
// cached beyond a single step's lifetime by callers.
type SecretResolver interface {
	Resolve(ctx context.Context, ref domain.SecretRef) (string, error)
}

// PluginHost is the opaque call interface for plugin-backed steps.
// Sandboxing is the host's responsibility, not the Runner's.
type PluginHost interface {
	Call(ctx context.Context, name string, input map[string]string) (map[string]string, error)
	// Known lists every plugin name this host can currently dispatch to,
	// so the Compiler can reject a referenced-but-unregistered plugin at
	// compile time instead of failing at dispatch.
	Known() []string
}

// Cache is a shared, concurrent key-value store with a single-writer-per-
// key invariant: Save under an existing key is a no-op.
type Cache interface {
	Restore(ctx context.Context, keys []string) (hitKey string, found bool, err error)
	Save(ctx context.Context, key string, paths []string) error
}

// ArtifactStore uploads step-declared artifacts under a retention policy.
type ArtifactStore interface {
	Publish(ctx context.Context, runID, stepID string, artifact domain.ArtifactDef) error
}

// Clock abstracts time.Now so the Scheduler's timeout/lease logic is
// deterministic under test, the way the teacher threads time through
// ResourceTracker rather than calling time.Now directly in the hot path.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
