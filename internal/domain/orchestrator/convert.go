package orchestrator

import (
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// toLLMMessages converts the domain's session.Message list to the wire-level
// llmclient.Message list the Client contract speaks, at the one boundary
// where the orchestrator talks to a concrete provider.
func toLLMMessages(messages []session.Message) []llmclient.Message {
	out := make([]llmclient.Message, len(messages))
	for i, m := range messages {
		out[i] = llmclient.Message{
			Role:             string(m.Role),
			Content:          m.Content,
			ReasoningContent: m.ReasoningContent,
			ToolCalls:        toLLMToolCalls(m.ToolCalls),
			ToolCallID:       m.ToolCallID,
		}
	}
	return out
}

func toLLMToolCalls(refs []session.ToolCallRef) []llmclient.ToolCall {
	if len(refs) == 0 {
		return nil
	}
	out := make([]llmclient.ToolCall, len(refs))
	for i, r := range refs {
		out[i] = llmclient.ToolCall{ID: r.ID, Name: r.Name, Arguments: r.Arguments}
	}
	return out
}

// toSessionToolCallRefs converts parsed LLM tool calls into the
// assistant-message-attached shape persisted in history.
func toSessionToolCallRefs(calls []llmclient.ToolCall) []session.ToolCallRef {
	if len(calls) == 0 {
		return nil
	}
	out := make([]session.ToolCallRef, len(calls))
	for i, c := range calls {
		out[i] = session.ToolCallRef{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}

// toSessionToolCall converts one parsed LLM tool call into the
// post-resolution shape the Tool Executor and repeated-failure guard key
// against. Arguments are always an object (spec §3): a call whose parsed
// arguments came back nil is normalized to an empty object.
func toSessionToolCall(c llmclient.ToolCall) session.ToolCall {
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return session.ToolCall{ID: c.ID, Name: c.Name, Arguments: args}
}
