package toolexec

// Policy is the static per-session tool policy, adapted from the
// teacher's domain/tool.Policy.
type Policy struct {
	Profile     string // "minimal", "coding", "messaging", "full"
	AllowList   []string
	DenyList    []string
	AskMode     bool
	MaxExecTime int // seconds
}

// ApprovalScope mirrors session.ApprovalScope without importing the
// session package (this package stays decoupled so the Approval Gate,
// not the policy, owns the session-scoped grant lifecycle).
type ApprovalScope string

const (
	ScopeNone    ApprovalScope = ""
	ScopeOnce    ApprovalScope = "approve_once"
	ScopeSession ApprovalScope = "approve_session"
	ScopeDenied  ApprovalScope = "deny"
)

// Decision is the outcome of evaluating one tool call against a Policy.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
	Reason           string
	Meta             map[string]any
}

// Evaluate is a pure function deciding whether toolName/kind may execute
// this round, given the static Policy and any session-scoped grants
// already recorded in sessionGrants (tool name -> ApprovalScope, the
// shape of session.Session.ToolOverrides once a prior approve_session
// response has been recorded). It has no side effects and does not block
// — the Approval Gate owns the asynchronous wait when RequiresApproval is
// true.
func Evaluate(policy Policy, toolName string, kind Kind, sessionGrants map[string]any) Decision {
	for _, denied := range policy.DenyList {
		if denied == toolName {
			return Decision{Allowed: false, Reason: "tool is on the policy deny list"}
		}
	}

	if len(policy.AllowList) > 0 {
		allowed := false
		for _, a := range policy.AllowList {
			if a == toolName {
				allowed = true
				break
			}
		}
		if !allowed {
			return Decision{Allowed: false, Reason: "tool is not on the policy allow list"}
		}
	}

	if grant, ok := sessionGrants[toolName]; ok {
		if scope, ok := grant.(string); ok {
			switch ApprovalScope(scope) {
			case ScopeDenied:
				return Decision{Allowed: false, Reason: "tool was previously denied for this session"}
			case ScopeSession:
				return Decision{Allowed: true, RequiresApproval: false, Reason: "session-scoped approval already granted"}
			}
		}
	}

	if !policy.AskMode {
		return Decision{Allowed: true}
	}
	if SafeKinds[kind] {
		return Decision{Allowed: true}
	}
	if MutatorKinds[kind] {
		return Decision{Allowed: true, RequiresApproval: true, Reason: "mutating tool requires approval under ask mode"}
	}
	return Decision{Allowed: true}
}

// FilteredDefinitions returns the subset of defs whose names pass the
// allow/deny lists, for building the tool-protocol prompt section and the
// wire-level tool list sent to the model.
func FilteredDefinitions(policy Policy, defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		allowed := true
		for _, denied := range policy.DenyList {
			if denied == d.Name {
				allowed = false
				break
			}
		}
		if allowed && len(policy.AllowList) > 0 {
			allowed = false
			for _, a := range policy.AllowList {
				if a == d.Name {
					allowed = true
					break
				}
			}
		}
		if allowed {
			out = append(out, d)
		}
	}
	return out
}
