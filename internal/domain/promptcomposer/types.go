// Package promptcomposer is the Prompt Composer (spec §2 row F): it
// assembles the per-round system prompt from a fixed section order —
// role, safety, product, programming, runtime, engineer system info,
// tool-protocol block, skill block, agent prompt, A2UI block, and the
// plan/question-panel module — caching the assembled string by a
// fingerprint of everything that can change it, so an unchanged round
// doesn't re-walk the filesystem or re-render.
package promptcomposer

// Context carries everything Assemble needs to decide which optional
// sections apply and what goes in them, mirroring the teacher's
// PromptContext but widened to the spec's fixed section list.
type Context struct {
	Channel   string // "cli", "telegram", "http", "ws", "grpc"
	Model     string
	Workspace string

	RegisteredTools []string
	ToolSummaries   map[string]string // tool name -> one-line description

	SkillNames []string // names of loaded skills/components eligible this round

	AgentPrompt string // the caller-supplied agent persona/system text (subagent or top-level)

	A2UIEnabled  bool
	PlanMode     bool // question-panel / plan module active
	QuestionText string

	UserRules    string
	FocusContext string
}

func (c Context) hasTool(name string) bool {
	for _, t := range c.RegisteredTools {
		if t == name {
			return true
		}
	}
	return false
}
