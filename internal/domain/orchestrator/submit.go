package orchestrator

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/orcherr"
)

// RequestContext carries the identity of whichever request is currently
// driving a Loop down through tool execution, so a tool that itself spawns
// a nested session (spawn_agent) can build a correctly-scoped
// PreparedRequest from ctx without the orchestrator core depending on any
// specific tool implementation.
type RequestContext struct {
	UserID          string
	AgentID         string
	SessionID       string
	ParentSessionID string
	Depth           int
}

type requestContextKey struct{}

func WithRequestContext(ctx context.Context, rc RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

func RequestContextFrom(ctx context.Context) RequestContext {
	if rc, ok := ctx.Value(requestContextKey{}).(RequestContext); ok {
		return rc
	}
	return RequestContext{}
}

// Submit is the one admission path every transport (HTTP, WebSocket,
// Telegram, CLI REPL, the spawn_agent tool) shares: it acquires req's session under limiter's
// per-user/agent concurrency cap, registers a fresh monitor.Record for it,
// drives it through lp.Run, and retires the record once Run returns. Run
// itself assumes the caller already performed exactly this Acquire/Register
// pair, so nothing may call Run without going through Submit.
func Submit(ctx context.Context, lp *Loop, registry *monitor.Registry, limiter *scheduler.Limiter, req PreparedRequest, model ModelConfig) (RunResult, *monitor.Record, error) {
	lockKey := scheduler.LockKey(req.SessionID, req.UserID, req.AgentID, req.ParentSessionID, req.IsAdmin)
	if !limiter.Acquire(req.SessionID, lockKey, req.IsAdmin, false) {
		return RunResult{}, nil, orcherr.UserBusy("too many active sessions for this user or agent; try again shortly")
	}

	rec := monitor.NewRecord(session.Session{
		ID:              req.SessionID,
		UserID:          req.UserID,
		AgentID:         req.AgentID,
		ParentSessionID: req.ParentSessionID,
	})
	registry.Register(rec)
	defer registry.Delete(req.SessionID)

	result, err := lp.Run(ctx, rec, req, model)
	return result, rec, err
}
