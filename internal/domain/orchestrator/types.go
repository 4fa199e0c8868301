// Package orchestrator is the Orchestrator Loop (spec §2 row J, §4.4): the
// per-request reason-act driver that ties every other core collaborator
// together — Context Manager, LLM Client, Prompt Composer, Tool Executor,
// Approval Gate, Event Emitter, Session Monitor and Request Limiter.
//
// Grounded on the teacher's domain/service/agent_loop.go AgentLoop.Run/
// runLoop, which already has the right shape (retry-wrapped streaming LLM
// call, parallel tool execution with a semaphore, context compaction,
// consecutive-failure tracking) but a materially different contract: no
// round cap (OpenClaw/Continue-style "run until the model stops"), a soft
// reflection-prompt loop detector instead of a hard abort, 3 overflow-
// compaction attempts instead of the spec's 4, and no terminal-tool /
// approval-gate / monotonic-event-id concepts at all. This package keeps
// the teacher's control-flow shape (retry wrapper, semaphore fan-out,
// compact-then-retry) and replaces the policy embedded in it with the
// spec's: a hard max_rounds ceiling, a hard tool_failure_guard abort at
// exactly 3 identical consecutive failures, MAX_CONTEXT_OVERFLOW_RECOVERY_
// ATTEMPTS=4, and three terminal tools (final_response/a2ui/question_panel)
// the teacher has no equivalent of.
package orchestrator

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// WorkspaceVersioner is the minimal slice of the Workspace collaborator
// (spec §6 "External collaborators... Workspace") the loop needs for its
// step-11 workspace_update check: a monotonic per-workspace version that
// bumps whenever a tool call mutates workspace state. Declared here,
// satisfied by whatever concrete Workspace adapter is wired in, so the
// orchestrator never depends on the full Workspace contract (scoped user
// id resolution, display paths, session-context persistence) it doesn't
// need for this one check. A nil WorkspaceVersioner simply disables
// workspace_update emission.
type WorkspaceVersioner interface {
	TreeVersion(ctx context.Context, workspaceID string) (int64, error)
	Bump(workspaceID string) int64
}

// StopReason is the closed set of ways a request's round loop can end
// (spec §6 WunderResponse.stop_reason).
type StopReason string

const (
	StopModelResponse    StopReason = "model_response"
	StopFinalTool        StopReason = "final_tool"
	StopA2UI             StopReason = "a2ui"
	StopQuestionPanel    StopReason = "question_panel"
	StopMaxRounds        StopReason = "max_rounds"
	StopEmptyResponse    StopReason = "empty_response"
	StopToolFailureGuard StopReason = "tool_failure_guard"
	StopCancelled        StopReason = "cancelled"
)

// ModelConfig is the resolved, per-model slice of the merged Config
// collaborator (spec §6 "External collaborators... Config").
type ModelConfig struct {
	Name                   string
	Temperature            float64
	TimeoutS               int
	MaxContext             int
	MaxOutput              int
	MaxRounds              int // 0 = unset, falls back to the spec floor
	HistoryCompactionRatio float64
	ToolCallMode           string // "function" or "tag"
	Stop                   []string
	StreamIncludeUsage     bool
}

// Attachment is a caller-supplied input artifact (spec §6 WunderRequest).
type Attachment struct {
	Name     string
	Content  string
	MimeType string
}

// PreparedRequest bundles one WunderRequest's resolved fields (spec §4.4
// "Inputs").
type PreparedRequest struct {
	UserID          string
	SessionID       string
	AgentID         string
	ParentSessionID string
	WorkspaceID     string
	Question        string
	Attachments     []Attachment
	ToolNames       []string
	SkipToolCalls   bool
	IsAdmin         bool
	Stream          bool
	AgentPrompt     string
	ConfigOverrides map[string]any
	Language        string // BCP-47-ish hint for the loop's localized fallback answers; "" = default (English)
	UserRound       int
}

// NoToolsSentinel forces an empty tool set even if ToolNames is non-empty
// (spec §6 WunderRequest.tool_names "__no_tools__ sentinel").
const NoToolsSentinel = "__no_tools__"

// EffectiveToolNames applies the sentinel rule.
func (r PreparedRequest) EffectiveToolNames() []string {
	for _, n := range r.ToolNames {
		if n == NoToolsSentinel {
			return nil
		}
	}
	return r.ToolNames
}

// RunResult is the finalized outcome of one Run call (spec §6
// WunderResponse, minus the wire-level envelope).
type RunResult struct {
	SessionID  string
	Answer     string
	Usage      session.TokenUsage
	RoundUsage session.TokenUsage
	StopReason StopReason
	UID        string
	A2UIData   []map[string]any
}

// roundState is the mutable bookkeeping threaded through one request's
// round loop — kept as a struct instead of a pile of runLoop locals so
// finalize() can read it without a dozen parameters.
type roundState struct {
	messages            []session.Message
	overflowCompactions int
	assistantTexts      []string
	roundUsage          session.TokenUsage
	totalUsage          session.TokenUsage
}
