package contextmgr

import (
	"context"
	"fmt"
	"strings"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
)

// DefaultKeepLast is the number of most-recent messages compaction always
// preserves verbatim, regardless of token pressure — matching the teacher's
// AgentLoop.compactMessages CompactKeepLast constant but named for the
// contextmgr package's own config rather than borrowed from AgentLoopConfig.
const DefaultKeepLast = 6

// Summarizer produces a natural-language summary of the given text. The
// orchestrator wires this to an LLM call; contextmgr stays decoupled from
// llmclient to avoid an import cycle (grounded on the teacher's
// domain/context.ModelClient narrow interface, and
// domain/service.AgentLoop.tryLLMSummarize's XML state-snapshot prompt,
// reproduced here as the default prompt template).
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

const summaryPromptTemplate = `Summarize the conversation so far into a compact state snapshot. Preserve:
- task_description: what the user originally asked for
- progress: what has been done
- key_decisions: notable choices made
- modified_files: files touched, if any
- current_context: what's in flight right now

Keep it terse. Conversation:
%s`

// Compact replaces the middle of messages (between the preserved leading
// system message and the preserved trailing keepLast messages) with a
// single synthetic summary message, per spec §4.5. If there is no middle to
// summarize (len(messages) <= keepLast, plus any leading system message),
// or the middle is only a summary left by an earlier Compact, messages is
// returned unchanged — this is what gives compaction its idempotence
// property (spec §8 Testable Property 9): a second call over an
// already-compacted list with the same keepLast is a no-op.
func Compact(ctx context.Context, summarizer Summarizer, messages []session.Message, keepLast int) ([]session.Message, error) {
	if keepLast <= 0 {
		keepLast = DefaultKeepLast
	}
	if len(messages) == 0 {
		return messages, nil
	}

	leadingSystem := -1
	if messages[0].Role == session.RoleSystem {
		leadingSystem = 0
	}

	tailStart := len(messages) - keepLast
	if leadingSystem >= 0 {
		if tailStart <= leadingSystem+1 {
			return messages, nil // nothing to compact
		}
	} else if tailStart <= 0 {
		return messages, nil
	}

	middleStart := 0
	if leadingSystem >= 0 {
		middleStart = 1
	}
	middle := messages[middleStart:tailStart]
	if len(middle) == 0 {
		return messages, nil
	}
	if len(middle) == 1 && strings.HasPrefix(middle[0].Content, "[conversation summary") {
		return messages, nil // already compacted
	}

	summary, err := summarizeMiddle(ctx, summarizer, middle)
	if err != nil {
		summary = truncationSummary(middle)
	}

	out := make([]session.Message, 0, keepLast+2)
	if leadingSystem >= 0 {
		out = append(out, messages[0])
	}
	out = append(out, session.Message{Role: session.RoleUser, Content: summary})
	out = append(out, messages[tailStart:]...)
	return out, nil
}

func summarizeMiddle(ctx context.Context, summarizer Summarizer, middle []session.Message) (string, error) {
	if summarizer == nil {
		return "", fmt.Errorf("no summarizer configured")
	}
	var sb strings.Builder
	for _, m := range middle {
		fmt.Fprintf(&sb, "[%s]: %s\n", m.Role, m.TextContent())
	}
	prompt := fmt.Sprintf(summaryPromptTemplate, sb.String())
	summary, err := summarizer.Summarize(ctx, prompt)
	if err != nil || strings.TrimSpace(summary) == "" {
		if err == nil {
			err = fmt.Errorf("empty summary")
		}
		return "", err
	}
	return "[conversation summary]\n" + summary, nil
}

// truncationSummary is the fallback used when LLM summarization fails or
// returns empty — a lossy but always-available compaction path, grounded on
// the teacher's AgentLoop.compactMessages truncationSummary fallback.
func truncationSummary(middle []session.Message) string {
	var sb strings.Builder
	sb.WriteString("[conversation summary unavailable; truncated history]\n")
	for _, m := range middle {
		text := m.TextContent()
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		if text == "" {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", m.Role, text)
	}
	return sb.String()
}
