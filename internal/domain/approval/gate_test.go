package approval

import (
	"context"
	"testing"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"go.uber.org/zap"
)

func newTestRecord() *monitor.Record {
	return monitor.NewRecord(session.Session{ID: "sess-1"})
}

func TestGate_RequestResolvedByRespond(t *testing.T) {
	g := NewGate(zap.NewNop())
	rec := newTestRecord()

	type outcome struct {
		scope session.ApprovalScope
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		scope, err := g.Request(context.Background(), rec, session.ApprovalRequest{ID: "req-1", Tool: "shell"})
		done <- outcome{scope, err}
	}()

	// Wait for the request to register and flip the session to awaiting_approval.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.Status() == session.StatusAwaitingApproval {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if rec.Status() != session.StatusAwaitingApproval {
		t.Fatalf("expected session to enter awaiting_approval, got %s", rec.Status())
	}

	if !g.Respond("req-1", session.ApprovalSession) {
		t.Fatalf("expected Respond to find the pending request")
	}

	select {
	case o := <-done:
		if o.err != nil {
			t.Fatalf("unexpected error: %v", o.err)
		}
		if o.scope != session.ApprovalSession {
			t.Fatalf("expected ApprovalSession, got %v", o.scope)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Request to return")
	}

	if rec.Status() != session.StatusRunning {
		t.Fatalf("expected session back to running, got %s", rec.Status())
	}
}

func TestGate_ContextCancelDuringWaitDefaultsToDeny(t *testing.T) {
	g := NewGate(zap.NewNop())
	rec := newTestRecord()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan session.ApprovalScope, 1)
	go func() {
		scope, _ := g.Request(ctx, rec, session.ApprovalRequest{ID: "req-2", Tool: "write_file"})
		done <- scope
	}()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if rec.Status() == session.StatusAwaitingApproval {
			break
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case scope := <-done:
		if scope != session.ApprovalDeny {
			t.Fatalf("expected ApprovalDeny on cancellation, got %v", scope)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Request to return after cancel")
	}
}

func TestGate_RespondUnknownRequestReturnsFalse(t *testing.T) {
	g := NewGate(zap.NewNop())
	if g.Respond("does-not-exist", session.ApprovalOnce) {
		t.Fatalf("expected Respond against unknown request id to return false")
	}
}

func TestGate_PendingListsOutstandingRequests(t *testing.T) {
	g := NewGate(zap.NewNop())
	rec := newTestRecord()

	go g.Request(context.Background(), rec, session.ApprovalRequest{ID: "req-3", Tool: "shell"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(g.Pending()) == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	pending := g.Pending()
	if len(pending) != 1 || pending[0].ID != "req-3" {
		t.Fatalf("expected one pending request req-3, got %+v", pending)
	}

	g.Respond("req-3", session.ApprovalOnce)
}
