package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRun_Duration(t *testing.T) {
	r := &Run{}
	assert.Zero(t, r.Duration(), "neither StartedAt nor CompletedAt set")

	start := time.Now()
	r.StartedAt = &start
	assert.Zero(t, r.Duration(), "CompletedAt still unset")

	end := start.Add(90 * time.Second)
	r.CompletedAt = &end
	assert.Equal(t, 90*time.Second, r.Duration())
}

func TestAgent_HasLabels(t *testing.T) {
	a := &Agent{Labels: map[string]bool{"linux": true, "docker": true}}

	assert.True(t, a.HasLabels(nil))
	assert.True(t, a.HasLabels([]string{"linux"}))
	assert.True(t, a.HasLabels([]string{"linux", "docker"}))
	assert.False(t, a.HasLabels([]string{"linux", "gpu"}))
}

func TestAgent_CanAccept(t *testing.T) {
	a := &Agent{Status: AgentIdle, AssignedJobs: 0, MaxConcurrentJobs: 2}
	assert.True(t, a.CanAccept())

	a.AssignedJobs = 2
	assert.False(t, a.CanAccept(), "no spare concurrency")

	a.AssignedJobs = 0
	a.Status = AgentBusy
	assert.False(t, a.CanAccept(), "not idle")
}

func TestJobLease_Expired(t *testing.T) {
	now := time.Now()
	lease := &JobLease{Deadline: now.Add(time.Minute)}

	assert.False(t, lease.Expired(now))
	assert.True(t, lease.Expired(now.Add(2*time.Minute)))
}
