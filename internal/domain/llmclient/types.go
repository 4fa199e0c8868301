// Package llmclient is the LLM Client contract (spec §2 row E, §4.2):
// OpenAI-compatible chat, blocking and streaming, usage normalization, and
// the error classification the Orchestrator Loop needs for overflow
// recovery and retry decisions. The concrete OpenAI-compatible transport is
// in internal/infrastructure/llm/openai; this package defines the contract
// and provider-agnostic pieces so the orchestrator never imports a
// concrete provider package directly.
package llmclient

import "context"

// ToolDefinition is the JSON-schema tool spec sent to the model (rendered by
// the Prompt Composer's tool block, but also passed structurally to
// function-call-mode providers).
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToolCall is a tool invocation as reported by the model (pre name
// resolution — see session.ToolCall for the canonical post-resolution
// shape).
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Message is the wire-level chat message, mirroring session.Message but
// kept distinct so llmclient has no dependency on the session package
// (the orchestrator converts between the two at its boundary).
type Message struct {
	Role             string
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	ToolCallID       string
	Name             string
}

// Request is one chat-completions call.
type Request struct {
	Model          string
	Messages       []Message
	Tools          []ToolDefinition
	Temperature    float64
	MaxTokens      int
	Stop           []string
	IncludeUsage   bool
}

// Usage is normalized token accounting (spec §4.2 "Usage normalization").
type Usage struct {
	Input  int
	Output int
	Total  int
}

// IsZero reports whether no usage was reported by the provider at all.
func (u Usage) IsZero() bool { return u.Input == 0 && u.Output == 0 && u.Total == 0 }

// Response is the result of a completed (blocking or fully-drained
// streaming) chat call.
type Response struct {
	Content          string
	ReasoningContent string
	ToolCalls        []ToolCall
	ModelUsed        string
	Usage            Usage
	FinishReason     string
}

// StreamChunk is one delta emitted during GenerateStream, forwarded to the
// caller's OnDelta callback as it's accumulated (spec §4.2).
type StreamChunk struct {
	DeltaContent   string
	DeltaReasoning string
	DeltaToolCall  *ToolCall // only set on a finalized tool call (end of stream)
	FinishReason   string
}

// Client is the two-operation contract spec §4.2 names: complete and
// stream_complete.
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	StreamComplete(ctx context.Context, req *Request, onDelta func(StreamChunk)) (*Response, error)
}
