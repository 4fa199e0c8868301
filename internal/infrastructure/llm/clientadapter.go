package llm

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/entity"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/service"
	domaintool "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/tool"
)

// ClientAdapter implements llmclient.Client over the Router's
// service.LLMClient contract (Generate/GenerateStream), so the orchestrator
// core never depends on the teacher's LLMRequest/LLMResponse shape
// directly. One boundary conversion, mirroring how orchestrator/convert.go
// is the one boundary between session.Message and llmclient.Message.
type ClientAdapter struct {
	Router *Router
}

func NewClientAdapter(router *Router) *ClientAdapter {
	return &ClientAdapter{Router: router}
}

func (a *ClientAdapter) Complete(ctx context.Context, req *llmclient.Request) (*llmclient.Response, error) {
	resp, err := a.Router.Generate(ctx, toServiceRequest(req))
	if err != nil {
		return nil, err
	}
	return toClientResponse(resp), nil
}

func (a *ClientAdapter) StreamComplete(ctx context.Context, req *llmclient.Request, onDelta func(llmclient.StreamChunk)) (*llmclient.Response, error) {
	deltaCh := make(chan service.StreamChunk, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range deltaCh {
			if onDelta != nil {
				onDelta(llmclient.StreamChunk{DeltaText: chunk.DeltaText, FinishReason: chunk.FinishReason})
			}
		}
	}()

	resp, err := a.Router.GenerateStream(ctx, toServiceRequest(req), deltaCh)
	<-done
	if err != nil {
		return nil, err
	}
	return toClientResponse(resp), nil
}

func toServiceRequest(req *llmclient.Request) *service.LLMRequest {
	messages := make([]service.LLMMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = service.LLMMessage{
			Role: m.Role, Content: m.Content,
			ToolCalls: toEntityToolCalls(m.ToolCalls), ToolCallID: m.ToolCallID,
		}
	}
	tools := make([]domaintool.Definition, len(req.Tools))
	for i, d := range req.Tools {
		tools[i] = domaintool.Definition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return &service.LLMRequest{
		Messages: messages, Tools: tools,
		Model: req.Model, MaxTokens: req.MaxTokens, Temperature: req.Temperature,
	}
}

func toClientResponse(resp *service.LLMResponse) *llmclient.Response {
	if resp == nil {
		return &llmclient.Response{}
	}
	calls := make([]llmclient.ToolCall, len(resp.ToolCalls))
	for i, c := range resp.ToolCalls {
		calls[i] = llmclient.ToolCall{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return &llmclient.Response{
		Content: resp.Content, ToolCalls: calls, ModelUsed: resp.ModelUsed,
		Usage: llmclient.Usage{Output: resp.TokensUsed, Total: resp.TokensUsed},
	}
}

func toEntityToolCalls(calls []llmclient.ToolCall) []entity.ToolCallInfo {
	if len(calls) == 0 {
		return nil
	}
	out := make([]entity.ToolCallInfo, len(calls))
	for i, c := range calls {
		out[i] = entity.ToolCallInfo{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
	}
	return out
}
