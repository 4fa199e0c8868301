package orchestrator

import "encoding/json"

// MaxRepeatedToolFailures is the spec's hard abort threshold (spec §4.4
// step 13): three consecutive tool failures with the same normalized
// signature stop the round loop rather than letting the model retry the
// same broken call forever. Grounded on the teacher's guardrails.go
// LoopDetector, but widened from a soft reflection-prompt nudge to a hard
// abort, since the spec treats this as a terminal guard rather than a
// retry hint.
const MaxRepeatedToolFailures = 3

// failureGuard tracks the most recent tool failure's signature and how
// many times in a row it has repeated. A success of any kind resets it.
type failureGuard struct {
	lastSignature string
	streak        int
}

// Observe records one tool outcome and reports whether the guard has now
// tripped (streak has reached MaxRepeatedToolFailures). Success always
// resets the streak, since the guard only cares about runs of identical
// failures.
func (g *failureGuard) Observe(toolName string, ok bool, errMsg string, data any) bool {
	if ok {
		g.lastSignature = ""
		g.streak = 0
		return false
	}
	sig := failureSignature(toolName, errMsg, data)
	if sig == g.lastSignature {
		g.streak++
	} else {
		g.lastSignature = sig
		g.streak = 1
	}
	return g.streak >= MaxRepeatedToolFailures
}

// failureSignature normalizes a (tool_name, error|data_signature) pair
// (spec §4.4 step 13) so two failures that look the same to the user
// collapse to the same key, regardless of whether the failure carries an
// error string or merely a repeated data payload.
func failureSignature(toolName, errMsg string, data any) string {
	if errMsg != "" {
		return toolName + "|err:" + errMsg
	}
	b, err := json.Marshal(data)
	if err != nil {
		return toolName + "|data:<unmarshalable>"
	}
	return toolName + "|data:" + string(b)
}
