// Package config holds ambient engine configuration: timeouts, rate
// limits, telemetry toggles. Grounded on coreengine/kernel's KernelConfig /
// DefaultKernelConfig defaulting-constructor idiom. No third-party config
// library is used (see DESIGN.md) — the teacher's own config layer is a
// plain struct over the standard library, and this follows suit.
package config

import "time"

// EngineConfig bounds the Scheduler's dispatch loop, timeouts, and rate
// limiting, and the heartbeat contract with agents.
type EngineConfig struct {
	// DefaultStepTimeout is used when a step descriptor omits its own
	// timeout_minutes.
	DefaultStepTimeout time.Duration
	// LeaseGrace is added to a step's timeout to compute its lease
	// deadline (§3 Job Lease, §5 timeouts).
	LeaseGrace time.Duration
	// CancelGracePeriod is not read by the Scheduler, the agent client or
	// the runner: a cancelled step's process is killed as soon as its
	// context is cancelled, with no grace period (§4.4 step 5, §5).
	CancelGracePeriod time.Duration

	// HeartbeatInterval is the agent's recommended publish cadence (§4.3).
	HeartbeatInterval time.Duration
	// StaleThreshold is how long an agent may stay silent before it is
	// marked Offline (recommended 3x HeartbeatInterval).
	StaleThreshold time.Duration

	// DispatchTick bounds how often the Scheduler re-runs its dispatch
	// pass even absent an explicit trigger, as a safety net.
	DispatchTick time.Duration

	// UnacceptedDispatchWindow is not read by the Scheduler: no
	// job.accepted is awaited, and a job that an agent drops stays leased
	// until its lease deadline passes, when the step is marked Failure
	// (§4.3).
	UnacceptedDispatchWindow time.Duration

	// PersistenceRetryBackoff and PersistenceRetryMax are not read: the
	// Scheduler's repository writes after Submit are best-effort, their
	// errors are discarded or only logged, and nothing is retried (§7).
	PersistenceRetryBackoff time.Duration
	PersistenceRetryMax     time.Duration

	// TelemetryEnabled toggles Prometheus/OTel instrumentation.
	TelemetryEnabled bool

	// MaxDispatchPerAgentWindow caps how many jobs the Scheduler will hand
	// to a single agent within DispatchRateWindow, independent of the
	// agent's own reported concurrency. Zero disables the cap.
	MaxDispatchPerAgentWindow int
	// DispatchRateWindow is the rolling window MaxDispatchPerAgentWindow
	// is measured over.
	DispatchRateWindow time.Duration
}

// Default returns the recommended configuration from the spec's own
// numbers (10s heartbeat, 3x stale threshold, etc).
func Default() *EngineConfig {
	return &EngineConfig{
		DefaultStepTimeout:       15 * time.Minute,
		LeaseGrace:               30 * time.Second,
		CancelGracePeriod:        20 * time.Second,
		HeartbeatInterval:        10 * time.Second,
		StaleThreshold:           30 * time.Second,
		DispatchTick:             2 * time.Second,
		UnacceptedDispatchWindow: 5 * time.Second,
		PersistenceRetryBackoff:  500 * time.Millisecond,
		PersistenceRetryMax:      30 * time.Second,
		TelemetryEnabled:         true,
		MaxDispatchPerAgentWindow: 20,
		DispatchRateWindow:        10 * time.Second,
	}
}
