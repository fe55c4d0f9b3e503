package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefault_StaleThresholdIsThreeHeartbeats(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 3*cfg.HeartbeatInterval, cfg.StaleThreshold)
}

func TestDefault_PositiveDurations(t *testing.T) {
	cfg := Default()
	durations := map[string]time.Duration{
		"DefaultStepTimeout":       cfg.DefaultStepTimeout,
		"LeaseGrace":               cfg.LeaseGrace,
		"CancelGracePeriod":        cfg.CancelGracePeriod,
		"HeartbeatInterval":        cfg.HeartbeatInterval,
		"StaleThreshold":           cfg.StaleThreshold,
		"DispatchTick":             cfg.DispatchTick,
		"UnacceptedDispatchWindow": cfg.UnacceptedDispatchWindow,
		"PersistenceRetryBackoff":  cfg.PersistenceRetryBackoff,
		"PersistenceRetryMax":      cfg.PersistenceRetryMax,
		"DispatchRateWindow":       cfg.DispatchRateWindow,
	}
	for name, d := range durations {
		assert.Greater(t, d, time.Duration(0), "%s must be positive", name)
	}
}

func TestDefault_TelemetryEnabledByDefault(t *testing.T) {
	assert.True(t, Default().TelemetryEnabled)
}

func TestDefault_DispatchRateLimitPositive(t *testing.T) {
	cfg := Default()
	assert.Greater(t, cfg.MaxDispatchPerAgentWindow, 0)
}

func TestDefault_ReturnsFreshInstanceEachCall(t *testing.T) {
	a := Default()
	b := Default()
	a.HeartbeatInterval = time.Hour
	assert.NotEqual(t, a.HeartbeatInterval, b.HeartbeatInterval, "callers must not share mutable state")
}
