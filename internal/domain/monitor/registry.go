package monitor

import (
	"sync"
)

// Registry is the Session Monitor (spec §2 row C): it tracks every active
// session's Record in memory; a session that is not resident is simply
// absent (Get reports false) and is not loaded from the Storage
// collaborator. This is process-wide state per spec §9 "Global state" —
// modeled as an explicit component, not a package-level variable, so it can
// be owned by an AppState and passed by reference.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewRegistry creates an empty Session Monitor.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register adds a freshly admitted session's Record, replacing the session's
// prior record if the same session id is resubmitted (e.g. a new user_round
// resuming after question_panel).
func (reg *Registry) Register(rec *Record) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.records[rec.Session.ID] = rec
}

// Get returns the Record for sessionID, if resident.
func (reg *Registry) Get(sessionID string) (*Record, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	rec, ok := reg.records[sessionID]
	return rec, ok
}

// Delete purges a session's Record (used alongside Storage deletion of
// history/stream events/memory per spec §3 Session lifecycle).
func (reg *Registry) Delete(sessionID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	delete(reg.records, sessionID)
}

// ListActive returns every non-terminal session's Record.
func (reg *Registry) ListActive() []*Record {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	out := make([]*Record, 0, len(reg.records))
	for _, rec := range reg.records {
		if !rec.Status().Terminal() {
			out = append(out, rec)
		}
	}
	return out
}

// CountActiveForUser counts non-terminal sessions owned by userID+agentID.
// The Request Limiter does not use it; it keeps its own per-lock-key counts.
func (reg *Registry) CountActiveForUser(userID, agentID string) int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	n := 0
	for _, rec := range reg.records {
		if rec.UserID() == userID && rec.AgentID() == agentID && !rec.Status().Terminal() {
			n++
		}
	}
	return n
}
