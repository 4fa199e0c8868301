package models

import "time"

// ChatMessageModel is the durable per-session chat turn row backing
// repository.HistoryStore, generalized from MessageModel's single
// conversation-scoped shape to the spec's user+session-scoped history with
// an explicit ordinal (sequence) so ReplaceHistory can rewrite a session's
// full history atomically without relying on CreatedAt tie-breaks.
type ChatMessageModel struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	UserID           string `gorm:"index:idx_chat_session;size:64;not null"`
	SessionID        string `gorm:"index:idx_chat_session;size:64;not null"`
	Sequence         int    `gorm:"index:idx_chat_session;not null"`
	Role             string `gorm:"size:16;not null"`
	Content          string `gorm:"type:text"`
	ReasoningContent string `gorm:"type:text"`
	ToolCalls        string `gorm:"type:text"` // JSON encoded []session.ToolCallRef
	ToolCallID       string `gorm:"size:64"`
	CreatedAt        time.Time
}

func (ChatMessageModel) TableName() string { return "chat_messages" }

// ToolLogModel is the durable, never-replayed tool-invocation audit trail
// backing repository.HistoryStore.AppendToolLog — the teacher has no
// equivalent table at all (its tool calls live only as transient
// AgentEvent stream data).
type ToolLogModel struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	SessionID    string `gorm:"index;size:64;not null"`
	ToolCallID   string `gorm:"size:64"`
	ToolName     string `gorm:"size:128;not null"`
	Arguments    string `gorm:"type:text"` // JSON encoded map[string]any
	OK           bool
	ResultData   string `gorm:"type:text"`
	ResultError  string `gorm:"type:text"`
	ResultMeta   string `gorm:"type:text"`
	Timestamp    time.Time
	CreatedAt    time.Time
}

func (ToolLogModel) TableName() string { return "tool_logs" }

// StreamEventModel is the durable side of the Event Emitter backing
// repository.StreamEventStore. EventID is session-scoped, not a global
// autoincrement — assigned explicitly by the emitter under a per-session
// lock so it stays strictly monotonic per session even across process
// restarts (spec §4.8 "linearizable per session id").
type StreamEventModel struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"uniqueIndex:idx_stream_session_event;size:64;not null"`
	EventID   int64  `gorm:"uniqueIndex:idx_stream_session_event;not null"`
	Event     string `gorm:"size:32;not null"`
	Data      string `gorm:"type:text"` // JSON encoded map[string]any
	CreatedAt time.Time
}

func (StreamEventModel) TableName() string { return "stream_events" }
