package promptcomposer

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeComponent(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".md"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAssemble_FixedSectionOrder(t *testing.T) {
	sys := t.TempDir()
	e := NewEngine(sys, "", zap.NewNop())
	if err := e.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}

	out := e.Assemble(Context{Channel: "cli", Model: "bailian/qwen3-max", Workspace: "/tmp/work"})

	order := []string{"## Role", "## Safety", "## Product", "## Programming", "## Runtime", "## Engineer System Info"}
	lastIdx := -1
	for _, marker := range order {
		idx := indexOf(out, marker)
		if idx < 0 {
			t.Fatalf("missing section %q", marker)
		}
		if idx <= lastIdx {
			t.Fatalf("section %q out of order", marker)
		}
		lastIdx = idx
	}
}

func TestAssemble_CachesByFingerprint(t *testing.T) {
	sys := t.TempDir()
	e := NewEngine(sys, "", zap.NewNop())
	if err := e.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}
	ctx := Context{Channel: "cli", Model: "m"}
	first := e.Assemble(ctx)
	second := e.Assemble(ctx)
	if first != second {
		t.Fatalf("expected cached assembly to be identical")
	}
	if len(e.cache) != 1 {
		t.Fatalf("expected exactly one cache entry, got %d", len(e.cache))
	}
}

func TestAssemble_RequirementsFilterSkill(t *testing.T) {
	sys := t.TempDir()
	writeComponent(t, filepath.Join(sys, "prompts"), "browser_rules", "---\nname: browser_rules\npriority: 10\nrequires:\n  tools: [browser_navigate]\n---\nUse the browser carefully.")
	e := NewEngine(sys, "", zap.NewNop())
	if err := e.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}

	withoutTool := e.Assemble(Context{Channel: "cli"})
	if indexOf(withoutTool, "Use the browser carefully.") >= 0 {
		t.Fatalf("expected component gated on missing tool to be excluded")
	}

	withTool := e.Assemble(Context{Channel: "cli", RegisteredTools: []string{"browser_navigate"}})
	if indexOf(withTool, "Use the browser carefully.") < 0 {
		t.Fatalf("expected component to load once its required tool is registered")
	}
}

func TestAssemble_ChannelOverridesSharedByName(t *testing.T) {
	sys := t.TempDir()
	writeComponent(t, filepath.Join(sys, "prompts"), "greeting", "Shared greeting.")
	writeComponent(t, filepath.Join(sys, "cli", "prompts"), "greeting", "CLI-specific greeting.")
	e := NewEngine(sys, "", zap.NewNop())
	if err := e.Discover(); err != nil {
		t.Fatalf("discover: %v", err)
	}

	out := e.Assemble(Context{Channel: "cli"})
	if indexOf(out, "CLI-specific greeting.") < 0 {
		t.Fatalf("expected channel component to be present")
	}
	if indexOf(out, "Shared greeting.") >= 0 {
		t.Fatalf("expected shared component to be overridden by same-named channel component")
	}
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
