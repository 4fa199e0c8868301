package repository

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// HistoryStore is the History/Artifact Store (spec §2 row B, §6
// "Storage"): durable per-session chat history and tool-invocation log.
// Grounded on the teacher's domain/repository.MessageRepository port
// (`Save`/`FindByConversationID`) generalized from a single conversation
// thread to the spec's user+session-scoped append/load/replace contract,
// and widened with a parallel tool-invocation log the teacher has no
// equivalent of (its MessageRepository persists chat turns only; tool
// calls there are transient AgentEvent stream data, never durably logged
// on their own).
type HistoryStore interface {
	// AppendChat appends one turn to a session's durable chat history.
	AppendChat(ctx context.Context, userID, sessionID string, msg session.Message) error

	// LoadHistory returns up to limit of the most recent messages for a
	// session (0 = no cap), oldest first.
	LoadHistory(ctx context.Context, userID, sessionID string, limit int) ([]session.Message, error)

	// ReplaceHistory overwrites a session's full history with messages,
	// used after compaction so the durable record matches the in-memory
	// post-compaction list rather than growing unbounded.
	ReplaceHistory(ctx context.Context, userID, sessionID string, messages []session.Message) error

	// AppendToolLog records one resolved tool invocation and its result,
	// independent of the chat history (an audit trail, not replayed back
	// into the LLM's message list).
	AppendToolLog(ctx context.Context, sessionID string, call session.ToolCall, result session.ToolResultPayload) error
}
