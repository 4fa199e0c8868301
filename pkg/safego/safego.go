// Package safego launches goroutines that recover from panics instead of
// crashing the process, for the orchestrator's fire-and-forget and
// suspension-point tasks (heartbeat lease renewal, parallel tool execution,
// memory-summarization jobs, WAL writers).
package safego

import (
	"context"

	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery.
// If the goroutine panics, the panic value is logged and the goroutine exits
// cleanly instead of crashing the process.
//
// Usage:
//
//	safego.Go(logger, "cleanup-loop", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer recoverAndLog(logger, name)
		fn()
	}()
}

// GoCtx launches a panic-safe goroutine that also logs which session/request
// context it was running under, via fields extracted from ctx if present.
// Used for per-request suspension-point tasks (§5) where a bare name isn't
// enough to locate the failure in logs from concurrent sessions.
func GoCtx(ctx context.Context, logger *zap.Logger, name string, fn func(context.Context)) {
	go func() {
		defer recoverAndLog(logger, name)
		fn(ctx)
	}()
}

func recoverAndLog(logger *zap.Logger, name string) {
	if r := recover(); r != nil {
		logger.Error("Goroutine panicked",
			zap.String("goroutine", name),
			zap.Any("panic", r),
			zap.Stack("stack"),
		)
	}
}
