package agentproto

import (
	"runtime/debug"

	"github.com/jeeves-ci/pipeline-core/observability"
)

// safeGo runs fn in its own goroutine with panic recovery, so a panicking
// Executor can't take the whole agent process down with it. Adapted from
// coreengine/kernel/recovery.go's SafeGo; onPanic lets the caller still
// report the job as failed instead of leaving it silently stuck in-flight.
func safeGo(log observability.Logger, operation string, fn func(), onPanic func(recovered any)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if log != nil {
					log.Error("goroutine_panic_recovered", "operation", operation, "panic", r, "stack", string(debug.Stack()))
				}
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}
