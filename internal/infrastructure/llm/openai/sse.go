package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"go.uber.org/zap"
)

// toolCallAccumulator accumulates one tool call's fragments across SSE
// chunks, using the longest-ending-wins merge spec §4.2 requires instead of
// naive append-all (some backends resend the whole argument string so far
// on every chunk rather than an incremental delta).
type toolCallAccumulator struct {
	id   string
	name string
	args string
}

// mergeToolCallArgs folds one more argument fragment into the accumulated
// string: drop the fragment if it's already contained as a suffix of (or
// equal to) what's accumulated, replace if the accumulated string is a
// prefix of the fragment (the backend resent a longer version), otherwise
// append it as an incremental delta.
func mergeToolCallArgs(current, fragment string) string {
	if fragment == "" {
		return current
	}
	if current == "" {
		return fragment
	}
	if strings.HasSuffix(current, fragment) {
		return current
	}
	if strings.HasPrefix(fragment, current) {
		return fragment
	}
	return current + fragment
}

// parseResult is what a drained SSE stream produces.
type parseResult struct {
	Content          string
	ReasoningContent string
	ToolCalls        []llmclient.ToolCall
	ModelUsed        string
	Usage            llmclient.Usage
	FinishReason     string
	SawDone          bool
}

var errIdleTimeout = fmt.Errorf("SSE read idle timeout")

// timedReader wraps an io.Reader and applies a per-Read idle deadline, so a
// backend that stops sending bytes mid-stream doesn't hang the caller
// forever.
type timedReader struct {
	r       io.Reader
	timeout time.Duration
}

func (t *timedReader) Read(p []byte) (int, error) {
	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := t.r.Read(p)
		ch <- result{n, err}
	}()
	select {
	case res := <-ch:
		return res.n, res.err
	case <-time.After(t.timeout):
		return 0, errIdleTimeout
	}
}

func isIdleTimeoutErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SSE read idle timeout")
}

// parseSSEStream reads a text/event-stream response per spec §4.2's wire
// contract:
//   - events terminate on a blank line ("\n\n" or "\r\n\r\n")
//   - within one event, multiple "data:" lines are concatenated and parsed
//     as a single JSON object when that concatenation is itself valid JSON;
//     otherwise each data line is parsed as its own independent chunk
//   - "data: [DONE]" terminates the stream
//   - a line that is valid JSON on its own, without a "data:" prefix, is
//     also accepted as a chunk (some backends omit the prefix)
//
// Tool call argument fragments are merged with the longest-ending-wins
// rule (mergeToolCallArgs) rather than naive concatenation.
func parseSSEStream(ctx context.Context, reader io.Reader, onDelta func(llmclient.StreamChunk), logger *zap.Logger) (*parseResult, error) {
	idleTimeout := 60 * time.Second
	tReader := &timedReader{r: reader, timeout: idleTimeout}

	scanner := bufio.NewScanner(tReader)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var contentBuilder strings.Builder
	var reasoningBuilder strings.Builder
	toolCallOrder := []int{}
	toolCallMap := make(map[int]*toolCallAccumulator)
	var modelUsed string
	var usage llmclient.Usage
	var finishReason string
	sawDone := false

	var dataLines []string
	flushEvent := func() (stop bool, err error) {
		if len(dataLines) == 0 {
			return false, nil
		}
		lines := dataLines
		dataLines = nil

		chunks, ok := parseEventChunks(lines)
		if !ok {
			logger.Debug("Skip unparseable SSE event", zap.Strings("lines", lines))
			return false, nil
		}

		for _, chunk := range chunks {
			if chunk.Model != "" {
				modelUsed = chunk.Model
			}
			if chunk.Usage != nil {
				input, output, total := chunk.Usage.normalize()
				if input != 0 || output != 0 || total != 0 {
					usage = llmclient.Usage{Input: input, Output: output, Total: total}
				}
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]
			delta := choice.Delta

			if choice.FinishReason != nil {
				finishReason = *choice.FinishReason
			}
			if delta.Content != "" {
				contentBuilder.WriteString(delta.Content)
				onDelta(llmclient.StreamChunk{DeltaContent: delta.Content})
			}
			if delta.ReasoningContent != "" {
				reasoningBuilder.WriteString(delta.ReasoningContent)
				onDelta(llmclient.StreamChunk{DeltaReasoning: delta.ReasoningContent})
			}
			for _, tc := range delta.ToolCalls {
				idx := tc.Index
				acc, ok := toolCallMap[idx]
				if !ok {
					acc = &toolCallAccumulator{}
					toolCallMap[idx] = acc
					toolCallOrder = append(toolCallOrder, idx)
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args = mergeToolCallArgs(acc.args, tc.Function.Arguments)
			}
			if finishReason != "" {
				onDelta(llmclient.StreamChunk{FinishReason: finishReason})
				return true, nil
			}
		}
		return false, nil
	}

scan:
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		line := scanner.Text()
		trimmed := strings.TrimRight(line, "\r")

		if trimmed == "" {
			stop, err := flushEvent()
			if err != nil {
				return nil, err
			}
			if stop {
				break scan
			}
			continue
		}

		if strings.HasPrefix(trimmed, "data:") {
			data := strings.TrimPrefix(trimmed, "data:")
			data = strings.TrimPrefix(data, " ")
			if data == "[DONE]" {
				sawDone = true
				break scan
			}
			dataLines = append(dataLines, data)
			continue
		}

		// Raw JSON line without a "data:" prefix: accept it as its own event.
		if looksLikeJSON(trimmed) {
			dataLines = append(dataLines, trimmed)
			stop, err := flushEvent()
			if err != nil {
				return nil, err
			}
			if stop {
				break scan
			}
		}
		// Other SSE fields (event:, id:, retry:, comments) are ignored.
	}
	// Flush a trailing event that wasn't followed by a blank line.
	if _, err := flushEvent(); err != nil {
		return nil, err
	}

	if err := scanner.Err(); err != nil {
		if isIdleTimeoutErr(err) {
			logger.Warn("SSE stream idle timeout", zap.Duration("idle_timeout", idleTimeout))
			if contentBuilder.Len() == 0 && len(toolCallMap) == 0 {
				return nil, fmt.Errorf("SSE stream stalled: no data for %v", idleTimeout)
			}
		} else {
			return nil, fmt.Errorf("SSE scan error: %w", err)
		}
	}

	result := &parseResult{
		Content:          contentBuilder.String(),
		ReasoningContent: reasoningBuilder.String(),
		ModelUsed:        modelUsed,
		Usage:            usage,
		FinishReason:     finishReason,
		SawDone:          sawDone,
	}

	for _, idx := range toolCallOrder {
		acc := toolCallMap[idx]
		var args map[string]interface{}
		if acc.args != "" {
			if err := json.Unmarshal([]byte(acc.args), &args); err != nil {
				logger.Warn("Failed to parse streamed tool call args", zap.String("tool", acc.name), zap.Error(err))
				continue
			}
		}
		tc := llmclient.ToolCall{ID: acc.id, Name: acc.name, Arguments: args}
		result.ToolCalls = append(result.ToolCalls, tc)
		onDelta(llmclient.StreamChunk{DeltaToolCall: &tc})
	}

	return result, nil
}

// parseEventChunks turns the "data:" lines of one SSE event into one or
// more streamChunk values. If concatenating all lines parses as a single
// JSON object, that's the one chunk (a backend split one JSON object
// across multiple data: lines). Otherwise each line is parsed
// independently — a backend emitting several distinct JSON objects as
// separate data: lines within the same event.
func parseEventChunks(lines []string) ([]*streamChunk, bool) {
	joined := strings.Join(lines, "\n")
	var combined streamChunk
	if err := json.Unmarshal([]byte(joined), &combined); err == nil {
		return []*streamChunk{&combined}, true
	}

	var chunks []*streamChunk
	anyParsed := false
	for _, line := range lines {
		var c streamChunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue
		}
		anyParsed = true
		chunks = append(chunks, &c)
	}
	return chunks, anyParsed
}

func looksLikeJSON(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}
