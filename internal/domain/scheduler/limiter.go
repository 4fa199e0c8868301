// Package scheduler implements the Session Scheduler & Request Limiter
// (spec §4.1): per-user/per-agent admission, heartbeat lease renewal, and
// unconditional release. Grounded on the teacher's lock/lease shape seen in
// domain/service/guardrails.go's CostGuard (atomic counters, explicit
// Check/Add methods) generalized from a token budget to an admission count,
// since the teacher repo has no standalone request-admission limiter of its
// own.
package scheduler

import (
	"sync"
	"time"
)

// DefaultHeartbeatInterval is SESSION_LOCK_HEARTBEAT_S (spec §4.1).
const DefaultHeartbeatInterval = 10 * time.Second

// leaseExpiryMultiple is the "3x heartbeat" reclaim threshold from spec §4.1.
const leaseExpiryMultiple = 3

type lease struct {
	lockKey   string
	touchedAt time.Time
}

// Limiter enforces per-user/per-agent session admission and lease tracking.
type Limiter struct {
	mu               sync.Mutex
	maxActiveSess    int // max_active_sessions; 0 means unbounded (admin/desktop)
	heartbeatSeconds time.Duration

	// active counts per lock key ("<user>@<agent>" or "subagent:<session_id>")
	active map[string]int
	// leases per session id, for heartbeat/reclaim bookkeeping
	leases map[string]*lease
}

// NewLimiter creates a Limiter with the given per-user/per-agent cap.
// maxActiveSessions <= 0 means unbounded.
func NewLimiter(maxActiveSessions int) *Limiter {
	return &Limiter{
		maxActiveSess:    maxActiveSessions,
		heartbeatSeconds: DefaultHeartbeatInterval,
		active:           make(map[string]int),
		leases:           make(map[string]*lease),
	}
}

// LockKey derives the admission lock key for a request per spec §4.1: a
// subagent session (parent present, not admin) gets its own
// "subagent:<session_id>" key so parent and subagent run concurrently;
// otherwise the key is "<user_id>@<agent_id>".
func LockKey(sessionID, userID, agentID, parentSessionID string, isAdmin bool) string {
	if parentSessionID != "" && !isAdmin {
		return "subagent:" + sessionID
	}
	return userID + "@" + agentID
}

// Acquire attempts to admit sessionID under lockKey. isAdmin requests are
// always admitted (unbounded). allowQueue is accepted for contract symmetry
// with spec §4.1 but this Limiter never queues — it returns false
// immediately on denial, leaving queueing (if desired) to the caller.
func (l *Limiter) Acquire(sessionID, lockKey string, isAdmin bool, allowQueue bool) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !isAdmin && l.maxActiveSess > 0 && l.active[lockKey] >= l.maxActiveSess {
		return false
	}

	l.active[lockKey]++
	l.leases[sessionID] = &lease{lockKey: lockKey, touchedAt: time.Now()}
	return true
}

// Touch refreshes a session's lease timestamp (called by the heartbeat
// task every heartbeatSeconds).
func (l *Limiter) Touch(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ls, ok := l.leases[sessionID]; ok {
		ls.touchedAt = time.Now()
	}
}

// Release unconditionally releases sessionID's admission slot, on both
// success and failure paths (spec §4.1).
func (l *Limiter) Release(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ls, ok := l.leases[sessionID]
	if !ok {
		return
	}
	delete(l.leases, sessionID)
	if l.active[ls.lockKey] > 0 {
		l.active[ls.lockKey]--
	}
	if l.active[ls.lockKey] == 0 {
		delete(l.active, ls.lockKey)
	}
}

// ReclaimExpired releases any lease whose last touch is older than
// 3x the heartbeat interval, returning the reclaimed session ids. Intended
// to be called periodically by a supervisory task.
func (l *Limiter) ReclaimExpired() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := time.Now().Add(-leaseExpiryMultiple * l.heartbeatSeconds)
	var reclaimed []string
	for sessionID, ls := range l.leases {
		if ls.touchedAt.Before(cutoff) {
			reclaimed = append(reclaimed, sessionID)
			delete(l.leases, sessionID)
			if l.active[ls.lockKey] > 0 {
				l.active[ls.lockKey]--
			}
			if l.active[ls.lockKey] == 0 {
				delete(l.active, ls.lockKey)
			}
		}
	}
	return reclaimed
}

// ActiveCount returns the current admitted count for a lock key (test/debug
// helper).
func (l *Limiter) ActiveCount(lockKey string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active[lockKey]
}
