package observability

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
)

func captureLog(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Writer()
	log.SetOutput(&buf)
	defer log.SetOutput(orig)

	fn()
	return buf.String()
}

func TestStdLogger_PrefixesEveryLine(t *testing.T) {
	l := &StdLogger{Prefix: "scheduler"}
	out := captureLog(t, func() { l.Info("run_started", "run_id", "r1") })

	assert.Contains(t, out, "[INFO]")
	assert.Contains(t, out, "scheduler")
	assert.Contains(t, out, "run_started")
	assert.Contains(t, out, "r1")
}

func TestStdLogger_NoPrefixStillLogs(t *testing.T) {
	l := &StdLogger{}
	out := captureLog(t, func() { l.Warn("stale_agent") })

	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "stale_agent")
}

func TestStdLogger_Bind_ChainsPrefixes(t *testing.T) {
	l := &StdLogger{Prefix: "scheduler"}
	child := l.Bind("dispatch")

	assert.Equal(t, "scheduler.dispatch", child.Prefix)
}

func TestStdLogger_Bind_FromEmptyPrefix(t *testing.T) {
	l := &StdLogger{}
	child := l.Bind("dispatch")

	assert.Equal(t, "dispatch", child.Prefix)
}

func TestNoopLogger_NeverPanics(t *testing.T) {
	var l NoopLogger
	assert.NotPanics(t, func() {
		l.Debug("x")
		l.Info("x")
		l.Warn("x")
		l.Error("x")
	})
}
