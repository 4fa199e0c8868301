package openai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"go.uber.org/zap"
)

// Config is the static configuration for one OpenAI-compatible backend.
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	Models  []string
}

// Provider is an OpenAI-compatible HTTP client implementing
// llmclient.Client. Compatible with OpenAI, Bailian (Qwen), MiniMax,
// DeepSeek, Ollama, vLLM and similar backends.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

var _ llmclient.Client = (*Provider)(nil)

// New creates an OpenAI-compatible provider with the teacher's connection
// tuning (generous dial/TLS/idle timeouts suited to long-lived LLM
// connections, small idle-connection pool).
func New(cfg Config, logger *zap.Logger) *Provider {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &Provider{
		name:    cfg.Name,
		baseURL: normalizeBaseURL(cfg.BaseURL),
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name), zap.String("transport", "openai")),
	}
}

var versionSuffixRe = regexp.MustCompile(`/v[0-9]+$`)

// normalizeBaseURL implements spec §4.2's base URL rules: append "/v1"
// unless the URL is already version-suffixed, and strip a caller-supplied
// trailing endpoint path so the provider can append its own.
func normalizeBaseURL(raw string) string {
	base := strings.TrimRight(raw, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
		return base
	}
	for _, suffix := range []string{"/chat/completions", "/embeddings", "/models"} {
		if strings.HasSuffix(base, suffix) {
			base = strings.TrimSuffix(base, suffix)
			base = strings.TrimRight(base, "/")
			break
		}
	}
	if !versionSuffixRe.MatchString(base) {
		base += "/v1"
	}
	return base
}

func (p *Provider) Name() string     { return p.name }
func (p *Provider) Models() []string { return p.models }

func (p *Provider) SupportsModel(model string) bool {
	if len(p.models) == 0 {
		return true
	}
	for _, m := range p.models {
		if m == model {
			return true
		}
	}
	return false
}

// Complete issues a blocking chat-completions request.
func (p *Provider) Complete(ctx context.Context, req *llmclient.Request) (*llmclient.Response, error) {
	apiReq := p.buildAPIRequest(req, false, false)

	resp, err := p.doJSON(ctx, apiReq)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// StreamComplete issues a streaming chat-completions request, forwarding
// each delta to onDelta as it's parsed. If the stream ends without a
// terminal [DONE]/finish_reason and nothing useful was accumulated, it
// falls back to a single non-streaming request per spec §4.2.
func (p *Provider) StreamComplete(ctx context.Context, req *llmclient.Request, onDelta func(llmclient.StreamChunk)) (*llmclient.Response, error) {
	apiReq := p.buildAPIRequest(req, true, req.IncludeUsage)

	result, err := p.doStream(ctx, apiReq, onDelta)
	if err != nil && isIncludeUsageRejected(err) {
		// Retry once without stream_options.include_usage — some
		// OpenAI-compatible backends reject that field with 400/422.
		p.logger.Debug("Retrying stream without include_usage", zap.Error(err))
		apiReq = p.buildAPIRequest(req, true, false)
		result, err = p.doStream(ctx, apiReq, onDelta)
	}
	if err != nil {
		return nil, err
	}

	if !result.SawDone && result.Content == "" && result.ReasoningContent == "" && len(result.ToolCalls) == 0 {
		p.logger.Warn("Stream ended without [DONE] and no content; falling back to non-streaming request")
		blocking := p.buildAPIRequest(req, false, false)
		resp, err := p.doJSON(ctx, blocking)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	return &llmclient.Response{
		Content:          result.Content,
		ReasoningContent: result.ReasoningContent,
		ToolCalls:        result.ToolCalls,
		ModelUsed:        result.ModelUsed,
		Usage:            result.Usage,
		FinishReason:     result.FinishReason,
	}, nil
}

func (p *Provider) doJSON(ctx context.Context, apiReq *apiRequest) (*llmclient.Response, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}
	return p.parseAPIResponse(respBody)
}

func (p *Provider) doStream(ctx context.Context, apiReq *apiRequest, onDelta func(llmclient.StreamChunk)) (*parseResult, error) {
	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, &httpStatusError{status: resp.StatusCode, body: string(respBody)}
	}

	streamDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-streamDone:
		}
	}()

	if onDelta == nil {
		onDelta = func(llmclient.StreamChunk) {}
	}
	result, err := parseSSEStream(ctx, resp.Body, onDelta, p.logger)
	close(streamDone)
	return result, err
}

// httpStatusError carries the HTTP status so isIncludeUsageRejected and
// IsContextOverflowError-style callers can inspect it without parsing text.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.status, e.body)
}

func isIncludeUsageRejected(err error) bool {
	var hse *httpStatusError
	if !asHTTPStatusError(err, &hse) {
		return false
	}
	if hse.status != http.StatusBadRequest && hse.status != http.StatusUnprocessableEntity {
		return false
	}
	msg := strings.ToLower(hse.body)
	return strings.Contains(msg, "stream_options") || strings.Contains(msg, "include_usage")
}

func asHTTPStatusError(err error, target **httpStatusError) bool {
	hse, ok := err.(*httpStatusError)
	if !ok {
		return false
	}
	*target = hse
	return true
}

func (p *Provider) buildAPIRequest(req *llmclient.Request, stream, includeUsage bool) *apiRequest {
	model := req.Model
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	apiReq := &apiRequest{
		Model:       model,
		Temperature: roundTemperature(req.Temperature),
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
		Stream:      stream,
	}

	for _, msg := range req.Messages {
		apiMsg := apiMessage{Role: msg.Role, Content: msg.Content, ToolCallID: msg.ToolCallID, Name: msg.Name}
		for _, tc := range msg.ToolCalls {
			apiMsg.ToolCalls = append(apiMsg.ToolCalls, apiToolCall{
				ID:       tc.ID,
				Type:     "function",
				Function: apiToolCallFunc{Name: tc.Name, Arguments: marshalArgs(tc.Arguments)},
			})
		}
		apiReq.Messages = append(apiReq.Messages, apiMsg)
	}

	for _, td := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Type:     "function",
			Function: apiToolFunction{Name: td.Name, Description: td.Description, Parameters: convertSchema(td.Parameters)},
		})
	}
	if len(apiReq.Tools) > 0 {
		apiReq.ToolChoice = "auto"
	}
	if stream && includeUsage {
		apiReq.StreamOptions = map[string]interface{}{"include_usage": true}
	}

	return apiReq
}

func (p *Provider) parseAPIResponse(body []byte) (*llmclient.Response, error) {
	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response: no choices")
	}

	choice := apiResp.Choices[0]
	input, output, total := apiResp.Usage.normalize()
	resp := &llmclient.Response{
		Content:      choice.Message.Content,
		ModelUsed:    apiResp.Model,
		Usage:        llmclient.Usage{Input: input, Output: output, Total: total},
		FinishReason: choice.FinishReason,
	}

	for _, tc := range choice.Message.ToolCalls {
		var args map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("parse tool call arguments for %s: %w", tc.Function.Name, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, llmclient.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: args})
	}

	return resp, nil
}

// contextWindowKeys is the priority-ordered list of JSON keys searched for
// a model's context window size (spec §4.2 context-window probe).
var contextWindowKeys = []string{
	"context_length", "context_window", "max_context", "max_context_length",
	"context_tokens", "max_model_len", "max_seq_len", "max_sequence_length",
	"max_input_tokens",
	"max_total_tokens", "max_tokens", "n_ctx", "n_ctx_train",
}

// ProbeContextWindow queries a sequence of endpoint shapes
// ("/models/<id>", "/models", "/props", "/v2/models/<id>/config",
// "/config") in order; each one that responds has its decoded JSON searched
// recursively for a key in contextWindowKeys, and the first value found is
// returned.
func (p *Provider) ProbeContextWindow(ctx context.Context, model string) (int, bool) {
	paths := []string{
		"/models/" + model,
		"/models",
		"/props",
		"/v2/models/" + model + "/config",
		"/config",
	}

	for _, path := range paths {
		body, ok := p.fetchJSON(ctx, path)
		if !ok {
			continue
		}
		if n, found := searchContextWindow(body, model); found {
			return n, true
		}
	}
	return 0, false
}

func (p *Provider) fetchJSON(ctx context.Context, path string) (map[string]interface{}, bool) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return nil, false
	}
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false
	}
	return body, true
}

// searchContextWindow recursively walks a decoded JSON document looking
// for the highest-priority matching key, optionally scoped to an entry
// whose "id" matches model when the top level is a list (the "/models"
// shape).
func searchContextWindow(doc map[string]interface{}, model string) (int, bool) {
	if data, ok := doc["data"].([]interface{}); ok {
		for _, item := range data {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			if id, _ := entry["id"].(string); id != "" && id != model {
				continue
			}
			if n, found := findKey(entry, contextWindowKeys); found {
				return n, true
			}
		}
	}
	return findKey(doc, contextWindowKeys)
}

func findKey(doc map[string]interface{}, keys []string) (int, bool) {
	for _, key := range keys {
		if v, ok := doc[key]; ok {
			if n, ok := toInt(v); ok {
				return n, true
			}
		}
	}
	for _, v := range doc {
		if nested, ok := v.(map[string]interface{}); ok {
			if n, found := findKey(nested, keys); found {
				return n, true
			}
		}
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case string:
		var parsed int
		if _, err := fmt.Sscanf(n, "%d", &parsed); err == nil {
			return parsed, true
		}
	}
	return 0, false
}
