package runner

import (
	"strings"
	"sync"

	"github.com/jeeves-ci/pipeline-core/domain"
)

// Line is one captured line of step output.
type Line struct {
	Stream domain.OutputStream
	No     int
	Text   string
}

// logBuffer is a bounded, drop-oldest ring of output lines (§4.4: bounded
// log buffer with drop-oldest and a truncation counter rather than
// unbounded growth).
type logBuffer struct {
	mu        sync.Mutex
	lines     []Line
	cap       int
	nextNo    int
	truncated int

	onLine func(Line) // optional live-streaming hook, may be nil
}

func newLogBuffer(capacity int, onLine func(Line)) *logBuffer {
	if capacity <= 0 {
		capacity = 2000
	}
	return &logBuffer{cap: capacity, onLine: onLine}
}

// append records one line, masking any secret values present, and drops
// the oldest buffered line if at capacity.
func (b *logBuffer) append(stream domain.OutputStream, text string, secrets []string) {
	masked := mask(text, secrets)

	b.mu.Lock()
	b.nextNo++
	line := Line{Stream: stream, No: b.nextNo, Text: masked}
	if len(b.lines) >= b.cap {
		b.lines = b.lines[1:]
		b.truncated++
	}
	b.lines = append(b.lines, line)
	b.mu.Unlock()

	if b.onLine != nil {
		b.onLine(line)
	}
}

func (b *logBuffer) snapshot() ([]Line, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Line, len(b.lines))
	copy(out, b.lines)
	return out, b.truncated
}

// mask replaces every occurrence of a resolved secret value with a fixed
// placeholder, so a leaked secret can never reach persisted logs (§4.4 step
// 4, §7 secret non-leakage).
func mask(text string, secrets []string) string {
	for _, s := range secrets {
		if s == "" {
			continue
		}
		text = strings.ReplaceAll(text, s, "***")
	}
	return text
}
