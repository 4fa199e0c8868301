package orchestrator

import (
	"context"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/toolexec"
)

// fakeLLM drives a sequence of scripted responses, one per Complete call,
// repeating the last entry once the script is exhausted.
type fakeLLM struct {
	mu        sync.Mutex
	responses []*llmclient.Response
	calls     int
}

func (f *fakeLLM) Complete(ctx context.Context, req *llmclient.Request) (*llmclient.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	return f.responses[idx], nil
}

func (f *fakeLLM) StreamComplete(ctx context.Context, req *llmclient.Request, onDelta func(llmclient.StreamChunk)) (*llmclient.Response, error) {
	return f.Complete(ctx, req)
}

// fakeHistory is an in-memory repository.HistoryStore.
type fakeHistory struct {
	mu   sync.Mutex
	logs []session.Message
}

func (f *fakeHistory) AppendChat(ctx context.Context, userID, sessionID string, msg session.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, msg)
	return nil
}
func (f *fakeHistory) LoadHistory(ctx context.Context, userID, sessionID string, limit int) ([]session.Message, error) {
	return nil, nil
}
func (f *fakeHistory) ReplaceHistory(ctx context.Context, userID, sessionID string, messages []session.Message) error {
	return nil
}
func (f *fakeHistory) AppendToolLog(ctx context.Context, sessionID string, call session.ToolCall, result session.ToolResultPayload) error {
	return nil
}

// fakeStreamStore is an in-memory repository.StreamEventStore.
type fakeStreamStore struct {
	mu     sync.Mutex
	nextID map[string]int64
	events map[string][]session.StreamEvent
}

func newFakeStreamStore() *fakeStreamStore {
	return &fakeStreamStore{nextID: make(map[string]int64), events: make(map[string][]session.StreamEvent)}
}

func (s *fakeStreamStore) AppendStreamEvent(ctx context.Context, sessionID string, event session.EventName, data map[string]any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID[sessionID]++
	id := s.nextID[sessionID]
	s.events[sessionID] = append(s.events[sessionID], session.StreamEvent{EventID: id, Event: event, Data: data})
	return id, nil
}
func (s *fakeStreamStore) LoadStreamEvents(ctx context.Context, sessionID string, afterID int64, limit int) ([]session.StreamEvent, error) {
	return nil, nil
}
func (s *fakeStreamStore) MaxStreamEventID(ctx context.Context, sessionID string) (int64, error) {
	return s.nextID[sessionID], nil
}
func (s *fakeStreamStore) DeleteStreamEventsBySession(ctx context.Context, sessionID string) error {
	return nil
}

// alwaysFailTool always returns a failed Result with a fixed error string.
type alwaysFailTool struct{}

func (alwaysFailTool) Name() string                   { return "flaky" }
func (alwaysFailTool) Description() string            { return "always fails" }
func (alwaysFailTool) Kind() toolexec.Kind             { return toolexec.KindRead }
func (alwaysFailTool) Schema() map[string]interface{}  { return map[string]interface{}{} }
func (alwaysFailTool) Execute(ctx context.Context, args map[string]interface{}) (*toolexec.Result, error) {
	return &toolexec.Result{Success: false, Error: "boom"}, nil
}

// echoTool always succeeds, echoing its "text" argument.
type echoTool struct{}

func (echoTool) Name() string                  { return "echo" }
func (echoTool) Description() string           { return "echoes input" }
func (echoTool) Kind() toolexec.Kind            { return toolexec.KindRead }
func (echoTool) Schema() map[string]interface{} { return map[string]interface{}{} }
func (echoTool) Execute(ctx context.Context, args map[string]interface{}) (*toolexec.Result, error) {
	return &toolexec.Result{Success: true, Output: "ok"}, nil
}

func newTestLoop(t *testing.T, llm llmclient.Client, tools ...toolexec.Tool) (*Loop, *monitor.Record) {
	t.Helper()
	logger := zap.NewNop()
	registry := toolexec.NewInMemoryRegistry()
	for _, tool := range tools {
		if err := registry.Register(tool); err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}
	emitter := eventstream.NewEmitter(newFakeStreamStore(), logger)
	limiter := scheduler.NewLimiter(10)
	executor := toolexec.NewExecutor(registry, 4, logger)

	lp := NewLoop(llm, &fakeHistory{}, emitter, limiter, registry, executor, toolexec.Policy{}, nil, nil, nil, nil, 0, logger)
	rec := monitor.NewRecord(session.Session{ID: "sess-1", UserID: "user-1"})
	return lp, rec
}

func baseModel() ModelConfig {
	return ModelConfig{Name: "test-model", MaxContext: 100000, HistoryCompactionRatio: 0.8}
}

func TestLoop_SingleShotNoTools(t *testing.T) {
	llm := &fakeLLM{responses: []*llmclient.Response{{Content: "hello there"}}}
	lp, rec := newTestLoop(t, llm)

	result, err := lp.Run(context.Background(), rec, PreparedRequest{UserID: "u", SessionID: "sess-1", Question: "hi"}, baseModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopModelResponse {
		t.Fatalf("expected model_response, got %s", result.StopReason)
	}
	if result.Answer != "hello there" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
	if rec.Status() != session.StatusFinished {
		t.Fatalf("expected finished status, got %s", rec.Status())
	}
}

func TestLoop_FinalResponseToolTerminates(t *testing.T) {
	llm := &fakeLLM{responses: []*llmclient.Response{
		{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: "final_response", Arguments: map[string]any{"content": "the answer"}}}},
	}}
	lp, rec := newTestLoop(t, llm)

	result, err := lp.Run(context.Background(), rec, PreparedRequest{UserID: "u", SessionID: "sess-1", Question: "hi"}, baseModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopFinalTool {
		t.Fatalf("expected final_tool, got %s", result.StopReason)
	}
	if result.Answer != "the answer" {
		t.Fatalf("unexpected answer: %q", result.Answer)
	}
}

func TestLoop_RoundCapStopsLoop(t *testing.T) {
	resp := &llmclient.Response{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: "echo", Arguments: map[string]any{"text": "go"}}}}
	llm := &fakeLLM{responses: []*llmclient.Response{resp}}
	lp, rec := newTestLoop(t, llm, echoTool{})

	model := baseModel()
	model.MaxRounds = 1 // bumped up to the skip_tool_calls floor of 2 below
	req := PreparedRequest{UserID: "u", SessionID: "sess-1", Question: "hi", SkipToolCalls: true}

	result, err := lp.Run(context.Background(), rec, req, model)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopMaxRounds {
		t.Fatalf("expected max_rounds, got %s", result.StopReason)
	}
	if llm.calls != 2 {
		t.Fatalf("expected exactly 2 rounds (the skip_tool_calls floor), got %d", llm.calls)
	}
}

func TestLoop_RepeatedToolFailureGuardTrips(t *testing.T) {
	resp := &llmclient.Response{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: "flaky", Arguments: map[string]any{}}}}
	llm := &fakeLLM{responses: []*llmclient.Response{resp}}
	lp, rec := newTestLoop(t, llm, alwaysFailTool{})

	result, err := lp.Run(context.Background(), rec, PreparedRequest{UserID: "u", SessionID: "sess-1", Question: "hi"}, baseModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopToolFailureGuard {
		t.Fatalf("expected tool_failure_guard, got %s", result.StopReason)
	}
	if llm.calls != MaxRepeatedToolFailures {
		t.Fatalf("expected the guard to trip after %d rounds, got %d calls", MaxRepeatedToolFailures, llm.calls)
	}
}

func TestLoop_UnknownToolSynthesizesError(t *testing.T) {
	llm := &fakeLLM{responses: []*llmclient.Response{
		{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: "does_not_exist", Arguments: map[string]any{}}}},
		{ToolCalls: []llmclient.ToolCall{{ID: "2", Name: "final_response", Arguments: map[string]any{"content": "done"}}}},
	}}
	lp, rec := newTestLoop(t, llm)

	result, err := lp.Run(context.Background(), rec, PreparedRequest{UserID: "u", SessionID: "sess-1", Question: "hi"}, baseModel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.StopReason != StopFinalTool {
		t.Fatalf("expected final_tool after the unknown-tool round, got %s", result.StopReason)
	}
}
