// Package openai is an OpenAI-compatible chat-completions transport
// implementing the llmclient.Client contract (spec §4.2). Compatible with
// OpenAI, Bailian (Qwen), MiniMax, DeepSeek, Ollama, vLLM and similar
// /v1/chat/completions-shaped backends.
package openai

import (
	"encoding/json"
	"strconv"
)

type apiRequest struct {
	Model         string                 `json:"model"`
	Messages      []apiMessage           `json:"messages"`
	MaxTokens     int                    `json:"max_tokens,omitempty"`
	Temperature   float64                `json:"temperature,omitempty"`
	Tools         []apiTool              `json:"tools,omitempty"`
	ToolChoice    string                 `json:"tool_choice,omitempty"`
	Stop          []string               `json:"stop,omitempty"`
	Stream        bool                   `json:"stream,omitempty"`
	StreamOptions map[string]interface{} `json:"stream_options,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type apiTool struct {
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type apiToolCall struct {
	Index    int             `json:"index"`
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function apiToolCallFunc `json:"function"`
}

type apiToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string, possibly a fragment while streaming
}

type apiResponse struct {
	ID      string      `json:"id"`
	Choices []apiChoice `json:"choices"`
	Usage   *apiUsage   `json:"usage"`
	Model   string      `json:"model"`
}

type apiChoice struct {
	Message      apiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// apiUsage accepts every field-name variant the spec requires (§4.2 "Usage
// normalization"): input_tokens|prompt_tokens, output_tokens|
// completion_tokens, total_tokens — any of which may arrive as a JSON
// string instead of a number on some backends, hence flexNumber.
type apiUsage struct {
	TotalTokens      flexNumber `json:"total_tokens"`
	PromptTokens     flexNumber `json:"prompt_tokens"`
	CompletionTokens flexNumber `json:"completion_tokens"`
	InputTokens      flexNumber `json:"input_tokens"`
	OutputTokens     flexNumber `json:"output_tokens"`
}

// normalize reduces whichever fields are present into (input, output,
// total), preferring explicit input/output names, falling back to prompt/
// completion, and deriving total when absent. Returns all-zero when the
// provider reported no usage at all, so the caller can treat it as "none".
func (u *apiUsage) normalize() (input, output, total int) {
	if u == nil {
		return 0, 0, 0
	}
	input = int(u.InputTokens)
	if input == 0 {
		input = int(u.PromptTokens)
	}
	output = int(u.OutputTokens)
	if output == 0 {
		output = int(u.CompletionTokens)
	}
	total = int(u.TotalTokens)
	if total == 0 {
		total = input + output
	}
	return input, output, total
}

// flexNumber unmarshals either a JSON number or a JSON string-encoded
// number, since some OpenAI-compatible backends stringify usage fields.
type flexNumber int

func (f *flexNumber) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexNumber(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexNumber(n)
	return nil
}

type streamChunk struct {
	ID      string            `json:"id"`
	Choices []streamChunkItem `json:"choices"`
	Usage   *apiUsage         `json:"usage,omitempty"`
	Model   string            `json:"model"`
}

type streamChunkItem struct {
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamDelta struct {
	Role             string        `json:"role,omitempty"`
	Content          string        `json:"content,omitempty"`
	ReasoningContent string        `json:"reasoning_content,omitempty"`
	ToolCalls        []apiToolCall `json:"tool_calls,omitempty"`
}

func convertSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}
	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

func marshalArgs(args map[string]interface{}) string {
	if args == nil {
		return "{}"
	}
	b, _ := json.Marshal(args)
	return string(b)
}

// roundTemperature matches the spec's 6-decimal-place rounding so
// repeated requests with the same logical temperature produce byte-
// identical wire payloads (stable for caching/dedup on some gateways).
func roundTemperature(t float64) float64 {
	scaled := t * 1e6
	if scaled >= 0 {
		scaled += 0.5
	} else {
		scaled -= 0.5
	}
	return float64(int64(scaled)) / 1e6
}
