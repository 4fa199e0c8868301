package eventstream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"go.uber.org/zap"
)

// fakeStore is an in-memory repository.StreamEventStore for testing the
// Emitter without a real database.
type fakeStore struct {
	mu     sync.Mutex
	nextID map[string]int64
	events map[string][]session.StreamEvent
}

func newFakeStore() *fakeStore {
	return &fakeStore{nextID: make(map[string]int64), events: make(map[string][]session.StreamEvent)}
}

func (s *fakeStore) AppendStreamEvent(ctx context.Context, sessionID string, event session.EventName, data map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID[sessionID]++
	id := s.nextID[sessionID]
	s.events[sessionID] = append(s.events[sessionID], session.StreamEvent{
		EventID: id, Event: event, Data: data, Timestamp: time.Now(),
	})
	return id, nil
}

func (s *fakeStore) LoadStreamEvents(ctx context.Context, sessionID string, afterID int64, limit int) ([]session.StreamEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []session.StreamEvent
	for _, ev := range s.events[sessionID] {
		if ev.EventID > afterID {
			out = append(out, ev)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) MaxStreamEventID(ctx context.Context, sessionID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID[sessionID], nil
}

func (s *fakeStore) DeleteStreamEventsBySession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, sessionID)
	delete(s.nextID, sessionID)
	return nil
}

func TestEmitter_MonotonicEventIDs(t *testing.T) {
	store := newFakeStore()
	e := NewEmitter(store, zap.NewNop())
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		ev, err := e.Emit(ctx, "s1", session.EventProgress, nil, session.UserOnly(1))
		if err != nil {
			t.Fatalf("emit: %v", err)
		}
		if ev.EventID <= last {
			t.Fatalf("expected strictly increasing event ids, got %d after %d", ev.EventID, last)
		}
		last = ev.EventID
	}
}

func TestEmitter_LiveSubscriberReceivesEvent(t *testing.T) {
	store := newFakeStore()
	e := NewEmitter(store, zap.NewNop())
	ctx := context.Background()

	live, cancel := e.Subscribe("s1")
	defer cancel()

	if _, err := e.Emit(ctx, "s1", session.EventToolCall, map[string]any{"tool": "shell"}, session.UserOnly(1)); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case ev := <-live:
		if ev.Event != session.EventToolCall {
			t.Fatalf("expected tool_call event, got %v", ev.Event)
		}
		if ev.Data["user_round"] != 1 {
			t.Fatalf("expected user_round stamped, got %+v", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live event")
	}
}

func TestEmitter_ResumeReplaysBacklogThenLiveTail(t *testing.T) {
	store := newFakeStore()
	e := NewEmitter(store, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 3; i++ {
		if _, err := e.Emit(ctx, "s1", session.EventProgress, nil, session.UserOnly(1)); err != nil {
			t.Fatalf("emit: %v", err)
		}
	}

	status := session.StatusRunning
	statusFn := func() session.Status { return status }

	out := e.Resume(ctx, "s1", 1, statusFn)

	var got []session.StreamEvent
	for i := 0; i < 2; i++ {
		select {
		case ev := <-out:
			got = append(got, ev)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for backlog replay")
		}
	}
	if len(got) != 2 || got[0].EventID != 2 || got[1].EventID != 3 {
		t.Fatalf("expected backlog events 2,3 after afterID=1, got %+v", got)
	}

	if _, err := e.Emit(ctx, "s1", session.EventFinal, nil, session.UserOnly(1)); err != nil {
		t.Fatalf("emit: %v", err)
	}
	select {
	case ev := <-out:
		if ev.EventID != 4 {
			t.Fatalf("expected live event id 4, got %d", ev.EventID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for live-tail event")
	}

	status = session.StatusFinished
	select {
	case _, ok := <-out:
		if ok {
			t.Fatal("expected resume channel to close once terminal and idle")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for resume channel to close after going terminal")
	}
}
