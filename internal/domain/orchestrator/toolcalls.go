package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
)

// terminalToolNames are the canonical names the round loop treats as
// batch-terminating (spec §4.4 step 10): final_response and a2ui both
// finalize the answer (first one wins), question_panel stops the current
// batch after executing as a normal call.
const (
	toolFinalResponse = "final_response"
	toolA2UI          = "a2ui"
	toolQuestionPanel = "question_panel"
)

var tagToolCallRe = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// tagCallPayload is the lenient shape §4.2/§4.4 requires for tool-call-tag
// mode: any JSON object with at least name and arguments, extra fields
// ignored.
type tagCallPayload struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseTagToolCalls extracts <tool_call>{json}</tool_call> blocks from
// content (or reasoning content) in tool-call-tag mode. Blocks with an
// empty or unparsable name are dropped rather than erroring the whole
// response (spec §4.4 step 8 "unknown/empty names are dropped").
func ParseTagToolCalls(text string) []llmclient.ToolCall {
	matches := tagToolCallRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	calls := make([]llmclient.ToolCall, 0, len(matches))
	for i, m := range matches {
		var payload tagCallPayload
		if err := json.Unmarshal([]byte(m[1]), &payload); err != nil {
			continue
		}
		name := strings.TrimSpace(payload.Name)
		if name == "" {
			continue
		}
		args := payload.Arguments
		if args == nil {
			args = map[string]any{}
		}
		calls = append(calls, llmclient.ToolCall{ID: syntheticCallID(i, name), Name: name, Arguments: args})
	}
	return calls
}

// syntheticCallID gives tag-mode calls a stable ID, since the tag format
// carries none — function-call mode providers supply their own.
func syntheticCallID(index int, name string) string {
	return "tag_" + name + "_" + itoa(index)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	buf := make([]byte, 0, 4)
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	return string(buf)
}

// plan is the spec §4.4 step 10 split of one round's parsed tool calls.
type plan struct {
	Pre           []llmclient.ToolCall // executed first, bounded parallelism
	Terminal      *llmclient.ToolCall  // final_response or a2ui, whichever appears first
	QuestionPanel *llmclient.ToolCall  // executed as a normal call, then the batch stops
}

// buildPlan splits calls per spec §4.4 step 10: pre-terminal normal calls,
// at most one terminal call (first final_response/a2ui wins and truncates
// the batch), and a question_panel call that stops the batch immediately
// after it executes.
func buildPlan(calls []llmclient.ToolCall) plan {
	var p plan
	for i := range calls {
		c := calls[i]
		switch c.Name {
		case toolFinalResponse, toolA2UI:
			if p.Terminal == nil {
				p.Terminal = &c
			}
			return p // terminal call truncates the batch right here
		case toolQuestionPanel:
			p.QuestionPanel = &c
			return p // question_panel stops the batch immediately after it runs
		default:
			p.Pre = append(p.Pre, c)
		}
	}
	return p
}
