package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/interfaces/telegram"
)

// telegramMessageHandler drives every Telegram chat's turn through the
// shared orchestrator.Loop via orchestrator.Submit, the same admission
// path the HTTP and CLI entrypoints use and the spawn_agent tool uses
// internally — replacing the teacher's direct service.AgentLoop.Run call.
// One session id is held per chat for the lifetime of the process (reset
// on /clear or /new), matching the teacher's one-AgentLoop-per-chat model
// but backed by durable per-session history instead of an in-memory slice.
type telegramMessageHandler struct {
	loop           *orchestrator.Loop
	limiter        *scheduler.Limiter
	registry       *monitor.Registry
	emitter        *eventstream.Emitter
	model          orchestrator.ModelConfig
	app            *App
	tgAdapter      *telegram.Adapter
	logger         *zap.Logger
	sessionManager telegram.SessionManager

	chatSessions sessionMap
}

// sessionMap is a tiny concurrency-safe chatID -> orchestrator session id
// table; Telegram chats are long-lived so this never needs LRU eviction.
type sessionMap struct {
	mu  sync.Mutex
	ids map[int64]string
}

func chatSessionID(h *telegramMessageHandler, chatID int64) string {
	h.chatSessions.mu.Lock()
	defer h.chatSessions.mu.Unlock()
	if h.chatSessions.ids == nil {
		h.chatSessions.ids = make(map[int64]string)
	}
	if id, ok := h.chatSessions.ids[chatID]; ok {
		return id
	}
	id := fmt.Sprintf("tg:%d:%s", chatID, uuid.NewString())
	h.chatSessions.ids[chatID] = id
	return id
}

// HandleMessage implements telegram.MessageHandler.
func (h *telegramMessageHandler) HandleMessage(ctx context.Context, msg *telegram.IncomingMessage) (*telegram.OutgoingMessage, error) {
	sessionID := chatSessionID(h, msg.ChatID)
	userID := fmt.Sprintf("tg:%d", msg.UserID)
	agentID := "default"

	runCtx := WithChatID(ctx, msg.ChatID)
	runCtx = orchestrator.WithRequestContext(runCtx, orchestrator.RequestContext{
		UserID: userID, AgentID: agentID, SessionID: sessionID,
	})

	req := orchestrator.PreparedRequest{
		UserID:    userID,
		SessionID: sessionID,
		AgentID:   agentID,
		Question:  msg.Text,
	}

	result, _, err := orchestrator.Submit(runCtx, h.loop, h.registry, h.limiter, req, h.model)
	if err != nil {
		return &telegram.OutgoingMessage{ChatID: msg.ChatID, Text: "⚠️ " + err.Error()}, nil
	}

	return &telegram.OutgoingMessage{
		ChatID:    msg.ChatID,
		Text:      result.Answer,
		ParseMode: "Markdown",
	}, nil
}

// ClearHistory implements telegram.HistoryClearer — dropping the chat's
// session id forces HandleMessage to mint a fresh one (and therefore a
// fresh history) on the chat's next turn.
func (h *telegramMessageHandler) ClearHistory(chatID int64) {
	h.chatSessions.mu.Lock()
	defer h.chatSessions.mu.Unlock()
	if h.chatSessions.ids != nil {
		delete(h.chatSessions.ids, chatID)
	}
}

// AbortRun implements telegram.RunController.
func (h *telegramMessageHandler) AbortRun(chatID int64) bool {
	h.chatSessions.mu.Lock()
	defer h.chatSessions.mu.Unlock()
	if h.chatSessions.ids == nil {
		return false
	}
	sessionID, ok := h.chatSessions.ids[chatID]
	if !ok {
		return false
	}
	rec, ok := h.registry.Get(sessionID)
	if !ok {
		return false
	}
	return rec.Transition(session.StatusCancelling)
}

// IsRunActive implements telegram.RunController.
func (h *telegramMessageHandler) IsRunActive(chatID int64) bool {
	h.chatSessions.mu.Lock()
	defer h.chatSessions.mu.Unlock()
	if h.chatSessions.ids == nil {
		return false
	}
	sessionID, ok := h.chatSessions.ids[chatID]
	if !ok {
		return false
	}
	rec, ok := h.registry.Get(sessionID)
	return ok && !rec.Status().Terminal()
}

// GetRunState implements telegram.RunController.
func (h *telegramMessageHandler) GetRunState(chatID int64) string {
	h.chatSessions.mu.Lock()
	defer h.chatSessions.mu.Unlock()
	if h.chatSessions.ids == nil {
		return ""
	}
	sessionID, ok := h.chatSessions.ids[chatID]
	if !ok {
		return ""
	}
	rec, ok := h.registry.Get(sessionID)
	if !ok {
		return ""
	}
	return string(rec.Status())
}
