// Package approval is the Approval Gate (spec §2 row H): it suspends a
// session in the awaiting_approval status while a mutating tool call
// waits for a user decision, and resolves that decision into one of the
// spec's three scopes (approve_once, approve_session, deny).
package approval

import (
	"context"
	"fmt"
	"sync"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"go.uber.org/zap"
)

// Gate tracks pending approval requests across sessions and resolves
// Respond calls (arriving from an HTTP/WS/Telegram adapter) back to the
// goroutine blocked in Request.
//
// Grounded on the teacher's SecurityHook.BeforeToolCall: a blocking
// approvalFunc callback gating a tool call. The teacher's callback is
// binary (approved bool); this Gate is widened to the spec's three-way
// scope and to tracking the awaiting_approval session-status transition
// the teacher has no equivalent of (its SecurityHook has no concept of
// session state at all — approval there is a side call, not a state
// machine transition).
type Gate struct {
	mu      sync.Mutex
	pending map[string]*session.ApprovalRequest // requestID -> request
	logger  *zap.Logger
}

func NewGate(logger *zap.Logger) *Gate {
	return &Gate{pending: make(map[string]*session.ApprovalRequest), logger: logger}
}

// Request transitions rec to awaiting_approval, registers req as pending,
// and blocks until Respond is called with a matching request ID or ctx is
// cancelled. On return the session is transitioned back to running
// (regardless of scope — a denial stops that one tool call, not the
// session) unless the transition is rejected because the session already
// moved to a terminal state (e.g. the user cancelled the whole session
// while the approval was pending).
func (g *Gate) Request(ctx context.Context, rec *monitor.Record, req session.ApprovalRequest) (session.ApprovalScope, error) {
	if req.RespondTo == nil {
		req.RespondTo = make(chan session.ApprovalScope, 1)
	}

	g.mu.Lock()
	g.pending[req.ID] = &req
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, req.ID)
		g.mu.Unlock()
	}()

	if !rec.Transition(session.StatusAwaitingApproval) {
		return session.ApprovalDeny, fmt.Errorf("session %s cannot enter awaiting_approval from %s", rec.Session.ID, rec.Status())
	}

	var scope session.ApprovalScope
	select {
	case scope = <-req.RespondTo:
	case <-ctx.Done():
		scope = session.ApprovalDeny
		g.logger.Warn("Approval wait cancelled, treating as deny",
			zap.String("session_id", rec.Session.ID), zap.String("tool", req.Tool))
	}

	if rec.Status() == session.StatusAwaitingApproval {
		rec.Transition(session.StatusRunning)
	}

	return scope, nil
}

// Respond resolves a pending approval request by ID. Returns false if no
// such request is pending (already resolved, timed out, or never
// existed) so the caller (an HTTP handler) can report 404 rather than
// silently succeeding.
func (g *Gate) Respond(requestID string, scope session.ApprovalScope) bool {
	g.mu.Lock()
	req, ok := g.pending[requestID]
	g.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case req.RespondTo <- scope:
	default:
	}
	return true
}

// Pending returns a snapshot of currently outstanding requests, for a
// monitor/admin surface to list what's awaiting a decision.
func (g *Gate) Pending() []session.ApprovalRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]session.ApprovalRequest, 0, len(g.pending))
	for _, r := range g.pending {
		out = append(out, *r)
	}
	return out
}
