package llmclient

import (
	"errors"
	"strings"

	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/orcherr"
)

// overflowFingerprints merges the fingerprints the specification requires
// verbatim with the teacher's broader pattern list (domain/service/
// overflow_detect.go IsContextOverflowError), so a provider that phrases the
// same condition differently from either source is still recognized.
var overflowFingerprints = []string{
	// Spec-required fingerprints.
	"context length exceeded",
	"context_length_exceeded",
	"context window",
	"maximum context length",
	// Teacher's broader fingerprint list.
	"request_too_large",
	"request exceeds the maximum size",
	"prompt is too long",
	"exceeds model context window",
	"context overflow",
}

// IsContextOverflowError reports whether err indicates the model's context
// window was exceeded (spec §4.4 step 5: "recognized by code
// CONTEXT_WINDOW_EXCEEDED or message fingerprints"). An *orcherr.Error
// already carrying CodeContextWindowExceeded is recognized without
// inspecting its text; any other error is matched against
// overflowFingerprints plus the compound "request size exceeds" + "context
// window" and "413" + "too large" pairs the teacher requires together.
func IsContextOverflowError(err error) bool {
	if err == nil {
		return false
	}

	var oe *orcherr.Error
	if errors.As(err, &oe) && oe.Kind == orcherr.CodeContextWindowExceeded {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, fp := range overflowFingerprints {
		if strings.Contains(msg, fp) {
			return true
		}
	}
	if strings.Contains(msg, "request size exceeds") && strings.Contains(msg, "context window") {
		return true
	}
	if strings.Contains(msg, "413") && strings.Contains(msg, "too large") {
		return true
	}
	return false
}
