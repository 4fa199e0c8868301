package contextmgr

import (
	"testing"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

func TestEstimateText_MonotoneInLength(t *testing.T) {
	short := EstimateText("hello")
	long := EstimateText("hello hello hello hello")
	if long <= short {
		t.Fatalf("expected longer text to estimate more tokens: short=%d long=%d", short, long)
	}
}

func TestEstimateText_CJKWeightedHigher(t *testing.T) {
	ascii := EstimateText("aaaa")
	cjk := EstimateText("你好吗啊")
	if cjk <= ascii {
		t.Fatalf("expected CJK text of equal rune length to estimate more tokens: ascii=%d cjk=%d", ascii, cjk)
	}
}

func TestEstimateContextTokens_StableAcrossEquivalentReserialization(t *testing.T) {
	a := []session.Message{{Role: session.RoleUser, Content: "hi"}}
	b := []session.Message{{Role: session.RoleUser, Content: "hi"}}
	if EstimateContextTokens(a) != EstimateContextTokens(b) {
		t.Fatalf("expected stable estimate for identical content")
	}
}

func TestNeedsCompaction(t *testing.T) {
	messages := []session.Message{
		{Role: session.RoleSystem, Content: "sys"},
		{Role: session.RoleUser, Content: "a fairly long question about many things"},
	}
	if NeedsCompaction(messages, 1000000, 0.8) {
		t.Fatalf("expected no compaction needed with huge max context")
	}
	if !NeedsCompaction(messages, 1, 0.8) {
		t.Fatalf("expected compaction needed with tiny max context")
	}
}
