// Package session holds the orchestrator core's data model (spec §3):
// Session, MonitorRecord, RoundInfo, Message, ToolCall, ToolResultPayload,
// StreamEvent, ApprovalRequest and TokenUsage. These are plain value types —
// behavior (state transitions, event allocation) lives in the owning
// packages (monitor, eventstream, orchestrator) so this package stays a
// leaf with no dependency on the rest of the core.
package session

import "time"

// Session is the durable record created on the first request carrying a
// session id.
type Session struct {
	ID              string
	UserID          string
	AgentID         string
	ParentSessionID string
	Title           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastMessageAt   time.Time
	ToolOverrides   map[string]any
}

// IsSubagent reports whether this session was spawned by a parent session,
// per spec §4.1's distinct "subagent:<session_id>" lock-key rule.
func (s *Session) IsSubagent() bool {
	return s.ParentSessionID != ""
}

// Status is the closed set of MonitorRecord lifecycle states (spec §4.4).
type Status string

const (
	StatusRunning          Status = "running"
	StatusCancelling       Status = "cancelling"
	StatusAwaitingApproval Status = "awaiting_approval"
	StatusQuestionPanel    Status = "question_panel"
	StatusFinished         Status = "finished"
	StatusCancelled        Status = "cancelled"
	StatusError            Status = "error"
)

// Terminal reports whether status has no outgoing transitions (finished,
// cancelled, error are absorbing per spec §3).
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// RoundInfo tags every emitted event so clients can group by round (spec §3,
// Testable Property 4).
type RoundInfo struct {
	UserRound  int
	ModelRound int // 0 when not yet inside the reason-act loop
}

// UserOnly builds a RoundInfo for request-level events that precede any LLM
// call (progress{stage:"start"}, round_usage, final, error).
func UserOnly(userRound int) RoundInfo {
	return RoundInfo{UserRound: userRound}
}

// Role is the closed set of message roles.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCallRef is a planned or emitted tool invocation attached to an
// assistant Message.
type ToolCallRef struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is one turn in the conversation sent to / received from the LLM.
type Message struct {
	Role             Role
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCallRef
	ToolCallID       string // set when Role == RoleTool
}

// HasToolCalls reports whether this message carries tool call payloads —
// such assistant messages must be preserved verbatim by normalization (spec
// §4.5) even when Content is empty.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// TextContent returns the text the token estimator should weigh: content
// plus reasoning, since both occupy context window budget.
func (m Message) TextContent() string {
	if m.ReasoningContent == "" {
		return m.Content
	}
	if m.Content == "" {
		return m.ReasoningContent
	}
	return m.Content + "\n" + m.ReasoningContent
}

// ToolCallCount reports how many tool calls this message carries, for the
// token estimator's per-tool-call overhead.
func (m Message) ToolCallCount() int { return len(m.ToolCalls) }

// ToolCall is a planned invocation after name resolution and argument
// normalization (spec §3): arguments is always an object; non-object
// payloads are wrapped under "raw".
type ToolCall struct {
	ID        string
	Name      string // canonical, alias-resolved
	Arguments map[string]any
}

// ToolResultPayload is the normalized shape of every tool execution outcome
// (spec §3 / §4.8).
type ToolResultPayload struct {
	OK        bool           `json:"ok"`
	Data      any            `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
	Sandbox   bool           `json:"sandbox"`
	Timestamp time.Time      `json:"timestamp"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ErrorResult builds a failed ToolResultPayload, the shape every tool
// execution failure (timeout, disallowed, denied) is converted to.
func ErrorResult(message string) ToolResultPayload {
	return ToolResultPayload{OK: false, Error: message, Timestamp: time.Now()}
}

// EventName is the closed set of stream event names (spec §3).
type EventName string

const (
	EventProgress       EventName = "progress"
	EventLLMRequest     EventName = "llm_request"
	EventLLMResponse    EventName = "llm_response"
	EventLLMOutputDelta EventName = "llm_output_delta"
	EventLLMOutput      EventName = "llm_output"
	EventKnowledgeReq   EventName = "knowledge_request"
	EventCompaction     EventName = "compaction"
	EventToolCall       EventName = "tool_call"
	EventToolResult     EventName = "tool_result"
	EventPlanUpdate     EventName = "plan_update"
	EventQuestionPanel  EventName = "question_panel"
	EventContextUsage   EventName = "context_usage"
	EventQuotaUsage     EventName = "quota_usage"
	EventRoundUsage     EventName = "round_usage"
	EventWorkspaceUpd   EventName = "workspace_update"
	EventApprovalReq    EventName = "approval_request"
	EventApprovalResult EventName = "approval_result"
	EventA2UI           EventName = "a2ui"
	EventFinal          EventName = "final"
	EventError          EventName = "error"
)

// StreamEvent is one persisted/live envelope (spec §3).
type StreamEvent struct {
	EventID   int64
	Event     EventName
	Data      map[string]any
	Timestamp time.Time
}

// ApprovalScope is the closed set of approval response scopes (spec §3/§4.7).
type ApprovalScope string

const (
	ApprovalOnce    ApprovalScope = "approve_once"
	ApprovalSession ApprovalScope = "approve_session"
	ApprovalDeny    ApprovalScope = "deny"
)

// ApprovalKind distinguishes the two approval-summary renderings (spec §4.7).
type ApprovalKind string

const (
	ApprovalKindExec  ApprovalKind = "exec"
	ApprovalKindPatch ApprovalKind = "patch"
)

// ApprovalRequest is sent on the request's shared approval channel and
// answered exactly once (spec §3/§4.7).
type ApprovalRequest struct {
	ID        string
	SessionID string
	Kind      ApprovalKind
	Tool      string
	Args      map[string]any
	Summary   string
	Detail    string
	RespondTo chan ApprovalScope // one-shot; buffered size 1
}

// TokenUsage is normalized usage accounting (spec §3).
type TokenUsage struct {
	Input  int
	Output int
	Total  int
}

// Normalize enforces Total >= max(Input+Output, reported Total).
func (u TokenUsage) Normalize() TokenUsage {
	sum := u.Input + u.Output
	if u.Total < sum {
		u.Total = sum
	}
	return u
}

// Add returns the sum of two usage records.
func (u TokenUsage) Add(o TokenUsage) TokenUsage {
	return TokenUsage{Input: u.Input + o.Input, Output: u.Output + o.Output, Total: u.Total + o.Total}.Normalize()
}
