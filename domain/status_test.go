package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunStatus_IsAbsorbing(t *testing.T) {
	absorbing := []RunStatus{RunSuccess, RunFailure, RunCancelled, RunTimeout}
	for _, s := range absorbing {
		assert.True(t, s.IsAbsorbing(), "%s should be absorbing", s)
	}

	nonAbsorbing := []RunStatus{RunQueued, RunRunning, RunStatus("")}
	for _, s := range nonAbsorbing {
		assert.False(t, s.IsAbsorbing(), "%s should not be absorbing", s)
	}
}

func TestRunStatus_ExitCode(t *testing.T) {
	assert.Equal(t, 0, RunSuccess.ExitCode())
	assert.Equal(t, 1, RunFailure.ExitCode())
	assert.Equal(t, 2, RunCancelled.ExitCode())
	assert.Equal(t, 3, RunTimeout.ExitCode())
	assert.Equal(t, -1, RunQueued.ExitCode())
}

func TestIsValidRunTransition(t *testing.T) {
	assert.True(t, IsValidRunTransition(RunQueued, RunRunning))
	assert.True(t, IsValidRunTransition(RunQueued, RunCancelled))
	assert.True(t, IsValidRunTransition(RunRunning, RunSuccess))
	assert.True(t, IsValidRunTransition(RunRunning, RunTimeout))

	assert.False(t, IsValidRunTransition(RunQueued, RunSuccess), "queued must pass through running")
	assert.False(t, IsValidRunTransition(RunSuccess, RunRunning), "terminal states never leave")
	assert.False(t, IsValidRunTransition(RunStatus("bogus"), RunRunning))
}

func TestStageStatus_IsAbsorbing(t *testing.T) {
	absorbing := []StageStatus{StageSuccess, StageFailure, StageSkipped, StageCancelled}
	for _, s := range absorbing {
		assert.True(t, s.IsAbsorbing(), "%s should be absorbing", s)
	}
	assert.False(t, StagePending.IsAbsorbing())
	assert.False(t, StageRunning.IsAbsorbing())
}

func TestIsValidStageTransition(t *testing.T) {
	assert.True(t, IsValidStageTransition(StagePending, StageRunning))
	assert.True(t, IsValidStageTransition(StagePending, StageSkipped))
	assert.True(t, IsValidStageTransition(StagePending, StageCancelled))
	assert.True(t, IsValidStageTransition(StageRunning, StageSuccess))
	assert.True(t, IsValidStageTransition(StageRunning, StageFailure))

	assert.False(t, IsValidStageTransition(StagePending, StageSuccess), "pending must pass through running")
	assert.False(t, IsValidStageTransition(StageFailure, StageRunning))
}
