package contextmgr

import (
	"testing"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

func TestNormalize_DropsEmptyNonToolCallTurns(t *testing.T) {
	in := []session.Message{
		{Role: session.RoleAssistant, Content: ""},
		{Role: session.RoleUser, Content: "hi"},
	}
	out := Normalize(in)
	if len(out) != 1 {
		t.Fatalf("expected empty assistant turn dropped, got %d messages", len(out))
	}
}

func TestNormalize_PreservesToolCallCarryingAssistant(t *testing.T) {
	in := []session.Message{
		{Role: session.RoleAssistant, Content: "", ToolCalls: []session.ToolCallRef{{ID: "1", Name: "read_file"}}},
	}
	out := Normalize(in)
	if len(out) != 1 {
		t.Fatalf("expected tool-call-carrying assistant message preserved")
	}
}

func TestNormalize_MergesAdjacentSameToolObservations(t *testing.T) {
	in := []session.Message{
		{Role: session.RoleTool, ToolCallID: "1", Content: "part1"},
		{Role: session.RoleTool, ToolCallID: "1", Content: "part2"},
	}
	out := Normalize(in)
	if len(out) != 1 {
		t.Fatalf("expected merged tool observation, got %d", len(out))
	}
	if out[0].Content != "part1\npart2" {
		t.Fatalf("unexpected merged content: %q", out[0].Content)
	}
}
