package llm

import (
	"context"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
)

// Summarizer implements contextmgr.Summarizer over an llmclient.Client,
// grounded on the teacher's AgentLoop.tryLLMSummarize (a single-shot user
// message asking the configured model for a compact state snapshot).
type Summarizer struct {
	Client llmclient.Client
	Model  string
}

func NewSummarizer(client llmclient.Client, model string) *Summarizer {
	return &Summarizer{Client: client, Model: model}
}

func (s *Summarizer) Summarize(ctx context.Context, prompt string) (string, error) {
	resp, err := s.Client.Complete(ctx, &llmclient.Request{
		Model:       s.Model,
		Messages:    []llmclient.Message{{Role: "user", Content: prompt}},
		Temperature: 0.2,
		MaxTokens:   512,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
