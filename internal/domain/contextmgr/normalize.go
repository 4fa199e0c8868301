package contextmgr

import "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"

// Normalize merges adjacent tool observations belonging to the same
// assistant turn, drops empty-content turns that are not tool-call
// carriers, and preserves assistant messages whose only content is a
// tool_calls field (spec §4.5). Grounded on the teacher's
// DanglingToolCallMiddleware hygiene pass and domain/context.Pruner's
// system-message-aware traversal, generalized to the spec's exact rule.
func Normalize(messages []session.Message) []session.Message {
	out := make([]session.Message, 0, len(messages))
	for _, m := range messages {
		if m.Content == "" && m.ReasoningContent == "" && !m.HasToolCalls() && m.Role != session.RoleTool {
			// empty, non-tool-call-carrying turn: drop
			continue
		}

		if m.Role == session.RoleTool && len(out) > 0 {
			prev := &out[len(out)-1]
			if prev.Role == session.RoleTool && prev.ToolCallID == m.ToolCallID {
				prev.Content += "\n" + m.Content
				continue
			}
		}

		out = append(out, m)
	}
	return out
}

// toMessageLikes adapts a []session.Message slice to []MessageLike for the
// estimator, without the estimator importing session (see tokens.go).
func toMessageLikes(messages []session.Message) []MessageLike {
	out := make([]MessageLike, len(messages))
	for i, m := range messages {
		out[i] = m
	}
	return out
}

// EstimateContextTokens is the spec §4.5 estimate_context_tokens operation.
func EstimateContextTokens(messages []session.Message) int {
	return EstimateMessages(toMessageLikes(messages))
}

// NeedsCompaction reports whether the estimated token count has crossed
// maxContext * compactionRatio (default 0.8 per spec §4.5).
func NeedsCompaction(messages []session.Message, maxContext int, compactionRatio float64) bool {
	if compactionRatio <= 0 {
		compactionRatio = 0.8
	}
	threshold := int(float64(maxContext) * compactionRatio)
	return EstimateContextTokens(messages) >= threshold
}
