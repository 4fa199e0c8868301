package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/approval"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	domaintool "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/tool"
	"go.uber.org/zap"
)

// AgentHandler is the primary endpoint for driving the shared
// orchestrator.Loop over HTTP: it admits a request through
// orchestrator.Submit and streams the session's events back via SSE from
// the Emitter (spec §4.6), rather than the teacher's single in-process
// event channel.
type AgentHandler struct {
	loop         *orchestrator.Loop
	limiter      *scheduler.Limiter
	registry     *monitor.Registry
	emitter      *eventstream.Emitter
	gate         *approval.Gate
	toolRegistry domaintool.Registry
	defaultModel orchestrator.ModelConfig
	logger       *zap.Logger
}

// NewAgentHandler creates a handler for orchestrator-backed SSE streaming.
func NewAgentHandler(
	loop *orchestrator.Loop,
	limiter *scheduler.Limiter,
	registry *monitor.Registry,
	emitter *eventstream.Emitter,
	gate *approval.Gate,
	toolRegistry domaintool.Registry,
	defaultModel orchestrator.ModelConfig,
	logger *zap.Logger,
) *AgentHandler {
	return &AgentHandler{
		loop:         loop,
		limiter:      limiter,
		registry:     registry,
		emitter:      emitter,
		gate:         gate,
		toolRegistry: toolRegistry,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("handler", "agent")),
	}
}

// AgentRequest is the JSON body for POST /api/v1/agent
type AgentRequest struct {
	Message      string   `json:"message" binding:"required"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	SessionID    string   `json:"session_id,omitempty"`
	AgentID      string   `json:"agent_id,omitempty"`
	UserID       string   `json:"user_id,omitempty"`
	ToolNames    []string `json:"tool_names,omitempty"`
}

// SSEEvent represents a single Server-Sent Event
type SSEEvent struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// RunAgent handles POST /api/v1/agent — admits the session through
// orchestrator.Submit, streaming its events over SSE as they are emitted.
func (h *AgentHandler) RunAgent(c *gin.Context) {
	var req AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	userID := req.UserID
	if userID == "" {
		userID = "http-anonymous"
	}
	agentID := req.AgentID
	if agentID == "" {
		agentID = "default"
	}

	model := h.defaultModel
	if req.Model != "" {
		model.Name = req.Model
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	ctx := c.Request.Context()
	live, cancel := h.emitter.Subscribe(sessionID)
	defer cancel()

	h.logger.Info("Agent request received",
		zap.String("session", sessionID),
		zap.String("model", model.Name),
	)

	prepared := orchestrator.PreparedRequest{
		UserID:      userID,
		SessionID:   sessionID,
		AgentID:     agentID,
		Question:    req.Message,
		AgentPrompt: req.SystemPrompt,
		ToolNames:   req.ToolNames,
	}

	resultCh := make(chan orchestrator.RunResult, 1)
	errCh := make(chan error, 1)
	runCtx := orchestrator.WithRequestContext(ctx, orchestrator.RequestContext{
		UserID: userID, AgentID: agentID, SessionID: sessionID,
	})
	go func() {
		result, _, err := orchestrator.Submit(runCtx, h.loop, h.registry, h.limiter, prepared, model)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	for {
		select {
		case ev := <-live:
			data, _ := json.Marshal(ev.Data)
			fmt.Fprintf(c.Writer, "event: %s\nid: %d\ndata: %s\n\n", ev.Event, ev.EventID, data)
			if flusher != nil {
				flusher.Flush()
			}
		case result := <-resultCh:
			finalData, _ := json.Marshal(map[string]interface{}{
				"content":     result.Answer,
				"stop_reason": string(result.StopReason),
				"tokens":      result.Usage.Total,
				"session_id":  result.SessionID,
			})
			fmt.Fprintf(c.Writer, "event: done\ndata: %s\n\n", finalData)
			if flusher != nil {
				flusher.Flush()
			}
			return
		case err := <-errCh:
			errData, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(c.Writer, "event: error\ndata: %s\n\n", errData)
			if flusher != nil {
				flusher.Flush()
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// StreamResume handles GET /api/v1/agent/stream/:session_id?after_event_id=N
// — resumes an in-progress or recently finished session's event stream
// (spec §4.6 resume path), for a client that dropped its SSE connection.
func (h *AgentHandler) StreamResume(c *gin.Context) {
	sessionID := c.Param("session_id")
	afterID, _ := strconv.ParseInt(c.Query("after_event_id"), 10, 64)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	statusFn := func() session.Status {
		if rec, ok := h.registry.Get(sessionID); ok {
			return rec.Status()
		}
		return session.StatusFinished
	}

	ch := h.emitter.Resume(c.Request.Context(), sessionID, afterID, statusFn)
	for ev := range ch {
		data, _ := json.Marshal(ev.Data)
		fmt.Fprintf(c.Writer, "event: %s\nid: %d\ndata: %s\n\n", ev.Event, ev.EventID, data)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// Cancel handles POST /api/v1/agent/cancel/:session_id — requests the
// session's Record transition to cancelling (spec §3 status state machine).
func (h *AgentHandler) Cancel(c *gin.Context) {
	sessionID := c.Param("session_id")
	rec, ok := h.registry.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found or already finished"})
		return
	}
	if !rec.Transition(session.StatusCancelling) {
		c.JSON(http.StatusConflict, gin.H{"error": "session cannot be cancelled from its current status"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(rec.Status())})
}

// ApproveRequest is the JSON body for POST /api/v1/agent/approve/:request_id
type ApproveRequest struct {
	Scope string `json:"scope" binding:"required"` // "approve_once", "approve_session", "deny"
}

// Approve handles POST /api/v1/agent/approve/:request_id — resolves a
// pending tool-call approval with the caller's three-way scoped response
// (spec §4.5 approval gate).
func (h *AgentHandler) Approve(c *gin.Context) {
	requestID := c.Param("request_id")
	var req ApproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scope := session.ApprovalScope(req.Scope)
	if !h.gate.Respond(requestID, scope) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending approval with that request id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "scope": req.Scope})
}

// GetTools handles GET /api/v1/agent/tools — lists available tools
func (h *AgentHandler) GetTools(c *gin.Context) {
	defs := h.toolRegistry.List()
	tools := make([]map[string]interface{}, 0, len(defs))
	for _, d := range defs {
		tools = append(tools, map[string]interface{}{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.Parameters,
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}
