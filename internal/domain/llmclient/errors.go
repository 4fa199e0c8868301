package llmclient

import (
	"errors"
	"strings"

	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/orcherr"
)

// Error is a structured error from an LLM operation, classified into the
// orchestrator's closed orcherr.Code set so the Orchestrator Loop's retry
// and overflow-recovery decisions (spec §4.4 step 5, §7) operate on one
// taxonomy instead of re-pattern-matching error strings at every call site.
//
// Grounded on the teacher's domain/service/llm_errors.go LLMError/
// ClassifyError, whose six-way LLMErrorKind enum (transient/auth/
// bad_request/content_filter/budget/cancelled) is mapped onto orcherr.Code:
// transient/content_filter -> internal (non-overflow transport errors are
// fatal for the request per spec §7 "Otherwise surface verbatim"), auth/
// bad_request -> invalid_request, budget -> user_quota_exceeded,
// cancelled -> cancelled. Context-overflow is detected separately (see
// overflow.go) and takes priority over this classification per spec §4.4
// step 5.
type Error struct {
	Code       orcherr.Code
	Message    string
	StatusCode int
	Provider   string
	Model      string
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return string(e.Code) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Classify examines err and returns a structured Error. If err is already
// an *Error, it is returned unchanged.
func Classify(err error, provider, model string) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context canceled") || strings.Contains(msg, "context deadline exceeded"):
		return &Error{Code: orcherr.CodeCancelled, Message: "request cancelled", Provider: provider, Model: model, Cause: err}

	case containsAny(msg, "unauthorized", "invalid api key", "403", "authentication", "permission denied"):
		return &Error{Code: orcherr.CodeInvalidRequest, Message: "authentication failed", StatusCode: extractStatusCode(msg), Provider: provider, Model: model, Cause: err}

	case containsAny(msg, "bad request", "invalid argument", "model not found", "400", "invalid_request"):
		return &Error{Code: orcherr.CodeInvalidRequest, Message: "invalid request", StatusCode: extractStatusCode(msg), Provider: provider, Model: model, Cause: err}

	case containsAny(msg, "budget", "quota", "insufficient", "billing"):
		return &Error{Code: orcherr.CodeUserQuotaExceeded, Message: "budget or quota exceeded", Provider: provider, Model: model, Cause: err}

	case containsAny(msg, "timeout", "deadline exceeded", "connection reset", "connection refused", "eof",
		"502", "503", "504", "529", "rate limit", "too many requests", "overloaded", "temporarily unavailable"):
		return &Error{Code: orcherr.CodeInternal, Message: "transient transport error", StatusCode: extractStatusCode(msg), Provider: provider, Model: model, Retryable: true, Cause: err}

	default:
		// Conservative default: treat unrecognized errors as retryable
		// transient transport failures, matching the teacher's default
		// classification — avoids classifying novel provider error text as
		// fatal on first sight.
		return &Error{Code: orcherr.CodeInternal, Message: "transient error", StatusCode: extractStatusCode(msg), Provider: provider, Model: model, Retryable: true, Cause: err}
	}
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func extractStatusCode(errStr string) int {
	codes := []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529}
	for _, code := range codes {
		if strings.Contains(errStr, itoa(code)) {
			return code
		}
	}
	return 0
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}
