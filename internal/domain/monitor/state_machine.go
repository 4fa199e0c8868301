package monitor

import (
	"sync"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// validTransitions is the explicit allowed-transition table for a
// MonitorRecord's status (spec §4.4 state diagram). Modeled directly on the
// teacher's domain/service/state_machine.go AgentState transition map, but
// with the session package's own closed status set (running / cancelling /
// awaiting_approval / question_panel / finished / cancelled / error) instead
// of the teacher's narrower idle/streaming/tool_exec/... set.
var validTransitions = map[session.Status]map[session.Status]bool{
	session.StatusRunning: {
		session.StatusAwaitingApproval: true,
		session.StatusCancelling:       true,
		session.StatusQuestionPanel:    true,
		session.StatusFinished:         true,
		session.StatusError:            true,
	},
	session.StatusAwaitingApproval: {
		session.StatusRunning:   true,
		session.StatusCancelled: true,
	},
	session.StatusCancelling: {
		session.StatusCancelled: true,
	},
	session.StatusQuestionPanel: {
		session.StatusRunning: true, // resumed with a new user round
	},
	session.StatusFinished:  {},
	session.StatusCancelled: {},
	session.StatusError:     {},
}

// Listener is invoked after a successful transition, outside the state
// machine's lock.
type Listener func(from, to session.Status)

// StateMachine guards a MonitorRecord's status against the transition table
// above. Thread-safe; mirrors the teacher's RWMutex + listener-after-unlock
// pattern.
type StateMachine struct {
	mu        sync.RWMutex
	current   session.Status
	listeners []Listener
}

// NewStateMachine creates a state machine starting in StatusRunning, the
// only entry state per spec §4.4 (a session is registered with the Monitor
// once admission succeeds and immediately starts its first round).
func NewStateMachine() *StateMachine {
	return &StateMachine{current: session.StatusRunning}
}

// Current returns the current status.
func (m *StateMachine) Current() session.Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsTerminal reports whether the current state is absorbing.
func (m *StateMachine) IsTerminal() bool {
	return m.Current().Terminal()
}

// OnTransition registers a listener invoked after every successful
// transition.
func (m *StateMachine) OnTransition(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Transition attempts to move to "to", validating against the transition
// table. Returns false if the transition is not allowed (including any
// transition out of a terminal state).
func (m *StateMachine) Transition(to session.Status) bool {
	m.mu.Lock()
	from := m.current
	allowed := validTransitions[from][to]
	if !allowed {
		m.mu.Unlock()
		return false
	}
	m.current = to
	listeners := append([]Listener(nil), m.listeners...)
	m.mu.Unlock()

	for _, l := range listeners {
		l(from, to)
	}
	return true
}
