// Package orcherr is the orchestrator core's single tagged error sum.
//
// Every branch in the orchestrator's error-handling design maps to exactly
// one Code here; callers at the interface boundary (HTTP/WS adapters)
// surface Code verbatim to clients instead of translating ad hoc strings.
package orcherr

import (
	"errors"
	"fmt"
)

// Code is the closed set of error codes the orchestrator core can produce.
type Code string

const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeUserBusy              Code = "USER_BUSY"
	CodeUserQuotaExceeded     Code = "USER_QUOTA_EXCEEDED"
	CodeCancelled             Code = "CANCELLED"
	CodeContextWindowExceeded Code = "CONTEXT_WINDOW_EXCEEDED"
	CodeSessionNotFound       Code = "SESSION_NOT_FOUND"
	CodePermissionDenied      Code = "PERMISSION_DENIED"
	CodeAfterEventIDRequired  Code = "AFTER_EVENT_ID_REQUIRED"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is the orchestrator's tagged error sum (spec §9 "Error propagation").
type Error struct {
	Kind    Code
	Message string
	Extras  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithExtra returns a copy of e with an extra key/value attached. Used to
// carry structured detail (e.g. attempt counts, tool name) alongside the
// terse Message.
func (e *Error) WithExtra(key string, value any) *Error {
	extras := make(map[string]any, len(e.Extras)+1)
	for k, v := range e.Extras {
		extras[k] = v
	}
	extras[key] = value
	return &Error{Kind: e.Kind, Message: e.Message, Extras: extras, Err: e.Err}
}

func newErr(kind Code, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func InvalidRequest(message string) *Error        { return newErr(CodeInvalidRequest, message) }
func UserBusy(message string) *Error               { return newErr(CodeUserBusy, message) }
func UserQuotaExceeded(message string) *Error       { return newErr(CodeUserQuotaExceeded, message) }
func Cancelled(message string) *Error               { return newErr(CodeCancelled, message) }
func ContextWindowExceeded(message string) *Error   { return newErr(CodeContextWindowExceeded, message) }
func SessionNotFound(message string) *Error         { return newErr(CodeSessionNotFound, message) }
func PermissionDenied(message string) *Error        { return newErr(CodePermissionDenied, message) }
func AfterEventIDRequired(message string) *Error    { return newErr(CodeAfterEventIDRequired, message) }

func Internal(message string) *Error {
	return newErr(CodeInternal, message)
}

func InternalWithCause(message string, cause error) *Error {
	return &Error{Kind: CodeInternal, Message: message, Err: cause}
}

func is(err error, kind Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func IsCancelled(err error) bool             { return is(err, CodeCancelled) }
func IsUserBusy(err error) bool              { return is(err, CodeUserBusy) }
func IsContextWindowExceeded(err error) bool { return is(err, CodeContextWindowExceeded) }
func IsSessionNotFound(err error) bool       { return is(err, CodeSessionNotFound) }
func IsInvalidRequest(err error) bool        { return is(err, CodeInvalidRequest) }

// CodeOf extracts the Code from err, defaulting to CodeInternal for
// unrecognized errors so callers always have a closed-set value to surface.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return CodeInternal
}
