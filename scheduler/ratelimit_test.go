package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatchLimiter_AllowsUpToLimitThenBlocks(t *testing.T) {
	l := newDispatchLimiter(10*time.Second, 2)
	now := time.Now()

	assert.True(t, l.allow("agent-1", now))
	assert.True(t, l.allow("agent-1", now))
	assert.False(t, l.allow("agent-1", now))
}

func TestDispatchLimiter_TracksAgentsIndependently(t *testing.T) {
	l := newDispatchLimiter(10*time.Second, 1)
	now := time.Now()

	assert.True(t, l.allow("agent-1", now))
	assert.True(t, l.allow("agent-2", now))
	assert.False(t, l.allow("agent-1", now))
}

func TestDispatchLimiter_ZeroLimitDisables(t *testing.T) {
	l := newDispatchLimiter(10*time.Second, 0)
	now := time.Now()

	for i := 0; i < 50; i++ {
		assert.True(t, l.allow("agent-1", now))
	}
}

func TestDispatchLimiter_WindowExpires(t *testing.T) {
	l := newDispatchLimiter(1*time.Second, 1)
	now := time.Now()

	assert.True(t, l.allow("agent-1", now))
	assert.False(t, l.allow("agent-1", now))
	assert.True(t, l.allow("agent-1", now.Add(2*time.Second)))
}
