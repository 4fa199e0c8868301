package monitor

import (
	"sync"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// defaultRingCapacity bounds the in-memory event ring buffer kept per
// session for cheap "recent events" reads; the durable log lives in the
// event store (eventstream package), not here.
const defaultRingCapacity = 256

// Record mirrors a Session plus its live status, event ring-buffer, token
// usage and stage (spec §3 MonitorRecord). It lives in memory only: NewRecord
// starts it from the given Session and does not load anything from the
// Storage collaborator. It is the single place that owns status/events
// mutation for a session — readers may list concurrently (spec §5 "Shared
// resource policy").
type Record struct {
	mu sync.RWMutex

	Session session.Session
	sm      *StateMachine

	ring     []session.StreamEvent
	ringHead int
	ringLen  int

	usage session.TokenUsage
	stage string

	userID  string
	agentID string
}

// NewRecord creates a MonitorRecord for a freshly-admitted session.
func NewRecord(s session.Session) *Record {
	return &Record{
		Session: s,
		sm:      NewStateMachine(),
		ring:    make([]session.StreamEvent, defaultRingCapacity),
		userID:  s.UserID,
		agentID: s.AgentID,
	}
}

// Status returns the current lifecycle status.
func (r *Record) Status() session.Status { return r.sm.Current() }

// Transition attempts a status change, validated against the state machine.
func (r *Record) Transition(to session.Status) bool { return r.sm.Transition(to) }

// OnTransition registers a status-change listener (e.g. to log, or to
// release the approval wait when cancelled).
func (r *Record) OnTransition(l Listener) { r.sm.OnTransition(l) }

// RecordEvent appends an event to the in-memory ring buffer. The durable,
// monotonic-id append lives in eventstream.Emitter; this is purely the
// Monitor's cheap "recent events" cache (spec §2 row C).
func (r *Record) RecordEvent(ev session.StreamEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := (r.ringHead + r.ringLen) % len(r.ring)
	r.ring[idx] = ev
	if r.ringLen < len(r.ring) {
		r.ringLen++
	} else {
		r.ringHead = (r.ringHead + 1) % len(r.ring)
	}
}

// RecentEvents returns a copy of the ring buffer contents in chronological
// order.
func (r *Record) RecentEvents() []session.StreamEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]session.StreamEvent, r.ringLen)
	for i := 0; i < r.ringLen; i++ {
		out[i] = r.ring[(r.ringHead+i)%len(r.ring)]
	}
	return out
}

// AddUsage accumulates token usage onto the record's running total.
func (r *Record) AddUsage(u session.TokenUsage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.usage = r.usage.Add(u)
}

// Usage returns the accumulated token usage.
func (r *Record) Usage() session.TokenUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.usage
}

// SetStage records the current human-readable progress stage (e.g.
// "start", "compacting", "tool_failure_guard").
func (r *Record) SetStage(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stage = stage
}

// Stage returns the current stage.
func (r *Record) Stage() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

// UserID/AgentID expose ownership for the Request Limiter's lock-key
// derivation (spec §4.1).
func (r *Record) UserID() string  { return r.userID }
func (r *Record) AgentID() string { return r.agentID }

// GrantToolOverride persists an approve_session/deny decision onto the
// session so later calls to the same tool short-circuit re-approval for
// the rest of the session's lifetime (spec §4.4 step 11 "approve_session").
// Safe to call only from the session's own driver task — per spec §5's
// "Shared-resource policy", the record's fields are written by exactly one
// task at a time.
func (r *Record) GrantToolOverride(tool string, scope string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Session.ToolOverrides == nil {
		r.Session.ToolOverrides = make(map[string]any)
	}
	r.Session.ToolOverrides[tool] = scope
}

// ToolOverrides returns a snapshot of the session's persisted tool-approval
// grants, for the Exec Policy's session-scoped-grant check.
func (r *Record) ToolOverrides() map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]any, len(r.Session.ToolOverrides))
	for k, v := range r.Session.ToolOverrides {
		out[k] = v
	}
	return out
}
