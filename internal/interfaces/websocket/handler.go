package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/approval"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EnvelopeType is the control-surface message discriminant (spec §6).
type EnvelopeType string

const (
	EnvelopeStart    EnvelopeType = "start"
	EnvelopeResume   EnvelopeType = "resume"
	EnvelopeCancel   EnvelopeType = "cancel"
	EnvelopeApprove  EnvelopeType = "approve"
	EnvelopePing     EnvelopeType = "ping"
	EnvelopePong     EnvelopeType = "pong"
	EnvelopeEvent    EnvelopeType = "event"
	EnvelopeDone     EnvelopeType = "done"
	EnvelopeError    EnvelopeType = "error"
)

// Envelope is the single wire message shape for the WebSocket control
// surface: every inbound client command and every outbound event is one of
// these, discriminated by Type.
type Envelope struct {
	Type      EnvelopeType           `json:"type"`
	RequestID string                 `json:"request_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// Client is one connected WebSocket peer.
type Client struct {
	ID     string
	UserID string
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	logger *zap.Logger
}

// Hub tracks connected clients so server-pushed events can be routed to the
// right socket without each session handler holding its own connection.
type Hub struct {
	clients map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
}

// NewHub creates a connection registry.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]*Client), logger: logger}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	h.logger.Info("ws client connected", zap.String("client_id", c.ID))
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; ok {
		delete(h.clients, c.ID)
		close(c.send)
	}
	h.mu.Unlock()
	h.logger.Info("ws client disconnected", zap.String("client_id", c.ID))
}

// GetClientCount reports the number of live connections.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handler upgrades HTTP connections to WebSocket and drives the shared
// orchestrator.Loop exactly the way handlers.AgentHandler drives it over
// SSE (spec §4.6/§6) — submit, stream, cancel, approve — just framed as
// envelopes over one bidirectional socket instead of a POST + separate
// SSE GET.
type Handler struct {
	hub          *Hub
	loop         *orchestrator.Loop
	limiter      *scheduler.Limiter
	registry     *monitor.Registry
	emitter      *eventstream.Emitter
	gate         *approval.Gate
	defaultModel orchestrator.ModelConfig
	logger       *zap.Logger
}

// NewHandler builds the WS control-surface adapter.
func NewHandler(
	hub *Hub,
	loop *orchestrator.Loop,
	limiter *scheduler.Limiter,
	registry *monitor.Registry,
	emitter *eventstream.Emitter,
	gate *approval.Gate,
	defaultModel orchestrator.ModelConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		hub:          hub,
		loop:         loop,
		limiter:      limiter,
		registry:     registry,
		emitter:      emitter,
		gate:         gate,
		defaultModel: defaultModel,
		logger:       logger.With(zap.String("handler", "ws")),
	}
}

// ServeWS upgrades the connection and starts the read/write pumps.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "ws-anonymous"
	}
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	client := &Client{
		ID:     clientID,
		UserID: userID,
		conn:   conn,
		send:   make(chan []byte, 256),
		hub:    h.hub,
		logger: h.logger,
	}
	h.hub.add(client)

	go client.writePump()
	go h.readPump(client)
}

func (h *Handler) readPump(c *Client) {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512 * 1024)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("ws read error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.sendEnvelope(Envelope{Type: EnvelopeError, Payload: map[string]interface{}{"error": "invalid envelope"}})
			continue
		}

		switch env.Type {
		case EnvelopePing:
			c.sendEnvelope(Envelope{Type: EnvelopePong})
		case EnvelopeStart:
			go h.handleStart(c, env)
		case EnvelopeResume:
			go h.handleResume(c, env)
		case EnvelopeCancel:
			h.handleCancel(c, env)
		case EnvelopeApprove:
			h.handleApprove(c, env)
		default:
			c.sendEnvelope(Envelope{Type: EnvelopeError, RequestID: env.RequestID, Payload: map[string]interface{}{"error": "unknown envelope type"}})
		}
	}
}

func (h *Handler) handleStart(c *Client, env Envelope) {
	sessionID := env.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	message, _ := env.Payload["message"].(string)
	agentID, _ := env.Payload["agent_id"].(string)
	if agentID == "" {
		agentID = "default"
	}
	model := h.defaultModel
	if m, ok := env.Payload["model"].(string); ok && m != "" {
		model.Name = m
	}

	live, cancel := h.emitter.Subscribe(sessionID)
	defer cancel()

	prepared := orchestrator.PreparedRequest{
		UserID:    c.UserID,
		SessionID: sessionID,
		AgentID:   agentID,
		Question:  message,
	}
	ctx := orchestrator.WithRequestContext(context.Background(), orchestrator.RequestContext{
		UserID: c.UserID, AgentID: agentID, SessionID: sessionID,
	})

	resultCh := make(chan orchestrator.RunResult, 1)
	errCh := make(chan error, 1)
	go func() {
		result, _, err := orchestrator.Submit(ctx, h.loop, h.registry, h.limiter, prepared, model)
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- result
	}()

	for {
		select {
		case ev := <-live:
			c.sendEnvelope(Envelope{
				Type:      EnvelopeEvent,
				RequestID: env.RequestID,
				SessionID: sessionID,
				Payload:   map[string]interface{}{"event": ev.Event, "event_id": ev.EventID, "data": ev.Data},
			})
		case result := <-resultCh:
			c.sendEnvelope(Envelope{
				Type:      EnvelopeDone,
				RequestID: env.RequestID,
				SessionID: sessionID,
				Payload: map[string]interface{}{
					"content":     result.Answer,
					"stop_reason": string(result.StopReason),
					"tokens":      result.Usage.Total,
				},
			})
			return
		case err := <-errCh:
			c.sendEnvelope(Envelope{Type: EnvelopeError, RequestID: env.RequestID, SessionID: sessionID, Payload: map[string]interface{}{"error": err.Error()}})
			return
		}
	}
}

func (h *Handler) handleResume(c *Client, env Envelope) {
	statusFn := func() session.Status {
		if rec, ok := h.registry.Get(env.SessionID); ok {
			return rec.Status()
		}
		return session.StatusFinished
	}
	var afterID int64
	if v, ok := env.Payload["after_event_id"].(float64); ok {
		afterID = int64(v)
	}
	ch := h.emitter.Resume(context.Background(), env.SessionID, afterID, statusFn)
	for ev := range ch {
		c.sendEnvelope(Envelope{
			Type:      EnvelopeEvent,
			RequestID: env.RequestID,
			SessionID: env.SessionID,
			Payload:   map[string]interface{}{"event": ev.Event, "event_id": ev.EventID, "data": ev.Data},
		})
	}
}

func (h *Handler) handleCancel(c *Client, env Envelope) {
	rec, ok := h.registry.Get(env.SessionID)
	if !ok {
		c.sendEnvelope(Envelope{Type: EnvelopeError, RequestID: env.RequestID, SessionID: env.SessionID, Payload: map[string]interface{}{"error": "session not found"}})
		return
	}
	ok = rec.Transition(session.StatusCancelling)
	c.sendEnvelope(Envelope{Type: EnvelopeDone, RequestID: env.RequestID, SessionID: env.SessionID, Payload: map[string]interface{}{"cancelled": ok, "status": string(rec.Status())}})
}

func (h *Handler) handleApprove(c *Client, env Envelope) {
	scopeStr, _ := env.Payload["scope"].(string)
	if !h.gate.Respond(env.RequestID, session.ApprovalScope(scopeStr)) {
		c.sendEnvelope(Envelope{Type: EnvelopeError, RequestID: env.RequestID, Payload: map[string]interface{}{"error": "no pending approval with that request id"}})
		return
	}
	c.sendEnvelope(Envelope{Type: EnvelopeDone, RequestID: env.RequestID, Payload: map[string]interface{}{"scope": scopeStr}})
}

func (c *Client) sendEnvelope(env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
