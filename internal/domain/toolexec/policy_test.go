package toolexec

import "testing"

func TestEvaluate_DenyListWins(t *testing.T) {
	p := Policy{DenyList: []string{"shell"}}
	d := Evaluate(p, "shell", KindExecute, nil)
	if d.Allowed {
		t.Fatalf("expected denied tool to be disallowed")
	}
}

func TestEvaluate_AskModeRequiresApprovalForMutators(t *testing.T) {
	p := Policy{AskMode: true}
	d := Evaluate(p, "write_file", KindEdit, nil)
	if !d.Allowed || !d.RequiresApproval {
		t.Fatalf("expected mutating tool under ask mode to require approval, got %+v", d)
	}
}

func TestEvaluate_SafeKindsBypassAskMode(t *testing.T) {
	p := Policy{AskMode: true}
	d := Evaluate(p, "read_file", KindRead, nil)
	if !d.Allowed || d.RequiresApproval {
		t.Fatalf("expected safe kind to bypass approval, got %+v", d)
	}
}

func TestEvaluate_SessionGrantSkipsReapproval(t *testing.T) {
	p := Policy{AskMode: true}
	grants := map[string]any{"shell": string(ScopeSession)}
	d := Evaluate(p, "shell", KindExecute, grants)
	if !d.Allowed || d.RequiresApproval {
		t.Fatalf("expected session-scoped grant to skip re-approval, got %+v", d)
	}
}

func TestEvaluate_SessionDenyPersists(t *testing.T) {
	p := Policy{AskMode: true}
	grants := map[string]any{"shell": string(ScopeDenied)}
	d := Evaluate(p, "shell", KindExecute, grants)
	if d.Allowed {
		t.Fatalf("expected persisted denial to block subsequent calls")
	}
}

func TestEvaluate_AllowListExcludesUnlisted(t *testing.T) {
	p := Policy{AllowList: []string{"read_file"}}
	d := Evaluate(p, "shell", KindExecute, nil)
	if d.Allowed {
		t.Fatalf("expected tool outside allow list to be disallowed")
	}
}
