package contextmgr

import (
	"context"
	"reflect"
	"testing"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

type fakeSummarizer struct {
	out string
	err error
}

func (f fakeSummarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	return f.out, f.err
}

func buildLongHistory(n int) []session.Message {
	out := []session.Message{{Role: session.RoleSystem, Content: "system prompt"}}
	for i := 0; i < n; i++ {
		out = append(out, session.Message{Role: session.RoleUser, Content: "question"})
		out = append(out, session.Message{Role: session.RoleAssistant, Content: "answer"})
	}
	return out
}

func TestCompact_PreservesSystemAndTail(t *testing.T) {
	messages := buildLongHistory(20)
	out, err := Compact(context.Background(), fakeSummarizer{out: "summary text"}, messages, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out[0].Role != session.RoleSystem {
		t.Fatalf("expected leading system message preserved")
	}
	tail := messages[len(messages)-4:]
	gotTail := out[len(out)-4:]
	for i := range tail {
		if !reflect.DeepEqual(tail[i], gotTail[i]) {
			t.Fatalf("expected tail preserved verbatim at index %d", i)
		}
	}
}

func TestCompact_Idempotent(t *testing.T) {
	messages := buildLongHistory(20)
	first, err := Compact(context.Background(), fakeSummarizer{out: "summary"}, messages, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Compact(context.Background(), fakeSummarizer{out: "summary"}, first, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != len(first) {
		t.Fatalf("expected idempotent compaction, got len %d then %d", len(first), len(second))
	}
}

func TestCompact_FallsBackToTruncationOnSummarizeError(t *testing.T) {
	messages := buildLongHistory(20)
	out, err := Compact(context.Background(), fakeSummarizer{err: context.DeadlineExceeded}, messages, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) == 0 {
		t.Fatalf("expected a non-empty fallback summary")
	}
}

func TestCompact_NoOpWhenHistoryShort(t *testing.T) {
	messages := buildLongHistory(1)
	out, err := Compact(context.Background(), fakeSummarizer{out: "x"}, messages, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != len(messages) {
		t.Fatalf("expected no-op compaction for short history")
	}
}
