package scheduler

import (
	"sync"
	"time"
)

// dispatchLimiter caps how many jobs the Scheduler will hand to a single
// agent within a rolling window, so one agent's queue depth can't be
// driven far past what it reported it could hold. Adapted from
// coreengine/kernel/rate_limiter.go's SlidingWindow: the same bucketed
// counter idiom, keyed by agent ID instead of user ID and driven by the
// Scheduler's own clock instead of wall time directly.
type dispatchLimiter struct {
	mu          sync.Mutex
	window      time.Duration
	bucketCount int
	limit       int
	buckets     map[string]map[int64]int
}

func newDispatchLimiter(window time.Duration, limit int) *dispatchLimiter {
	return &dispatchLimiter{
		window:      window,
		bucketCount: 10,
		limit:       limit,
		buckets:     make(map[string]map[int64]int),
	}
}

// allow records a dispatch attempt for agentID at now and reports whether
// it falls within the configured window limit. A zero limit disables
// limiting entirely (every call is allowed).
func (l *dispatchLimiter) allow(agentID string, now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bucketSize := l.window / time.Duration(l.bucketCount)
	current := now.UnixNano() / int64(bucketSize)
	min := current - int64(l.bucketCount)

	b, ok := l.buckets[agentID]
	if !ok {
		b = make(map[int64]int)
		l.buckets[agentID] = b
	}
	for k := range b {
		if k < min {
			delete(b, k)
		}
	}

	count := 0
	for k, c := range b {
		if k >= min {
			count += c
		}
	}
	if count >= l.limit {
		return false
	}
	b[current]++
	return true
}
