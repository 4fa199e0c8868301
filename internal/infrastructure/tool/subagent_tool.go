package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/orchestrator"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	domaintool "github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/tool"
)

// maxSubAgentDepth bounds spawn_agent -> spawn_agent -> spawn_agent
// recursion: a sub-agent may itself spawn one further sub-agent, no more.
const maxSubAgentDepth = 2

// SubAgentTool is the spawn_agent tool. It admits a nested session under
// the same scheduler.Limiter/monitor.Registry the top-level request came
// through and drives it with the shared orchestrator.Loop, so a sub-agent
// gets the exact same reason-act semantics (compaction, approval gating,
// tool policy, event emission) as its parent instead of a second,
// disconnected engine instance.
type SubAgentTool struct {
	loop     *orchestrator.Loop
	limiter  *scheduler.Limiter
	registry *monitor.Registry
	model    orchestrator.ModelConfig
	timeout  time.Duration
	logger   *zap.Logger
}

func NewSubAgentTool(loop *orchestrator.Loop, limiter *scheduler.Limiter, registry *monitor.Registry, model orchestrator.ModelConfig, timeout time.Duration, logger *zap.Logger) *SubAgentTool {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SubAgentTool{loop: loop, limiter: limiter, registry: registry, model: model, timeout: timeout, logger: logger}
}

func (t *SubAgentTool) Name() string          { return "spawn_agent" }
func (t *SubAgentTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *SubAgentTool) Description() string {
	return "Delegate a sub-task to an independent agent that has access to all the same tools. " +
		"Use this for complex tasks that benefit from focused, isolated execution. " +
		"The sub-agent runs its own reason-act loop under the same orchestrator and returns the final result. " +
		"Example: spawning an agent to audit a codebase, research a topic, or execute a multi-step procedure."
}

func (t *SubAgentTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"task": map[string]interface{}{
				"type":        "string",
				"description": "A clear description of the sub-task for the agent to complete",
			},
			"system_prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional additional instructions to give the sub-agent a specific role or context",
			},
		},
		"required": []string{"task"},
	}
}

func (t *SubAgentTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	task, _ := args["task"].(string)
	task = strings.TrimSpace(task)
	if task == "" {
		return &domaintool.Result{Success: false, Error: "task is required"}, nil
	}

	parent := orchestrator.RequestContextFrom(ctx)
	if parent.Depth >= maxSubAgentDepth {
		return &domaintool.Result{Success: false, Error: "sub-agent nesting depth limit reached (max 2 levels)"}, nil
	}

	agentPrompt := ""
	if sp, ok := args["system_prompt"].(string); ok {
		agentPrompt = sp
	}

	sessionID := uuid.NewString()
	req := orchestrator.PreparedRequest{
		UserID:          parent.UserID,
		SessionID:       sessionID,
		AgentID:         parent.AgentID,
		ParentSessionID: parent.SessionID,
		Question:        task,
		AgentPrompt:     agentPrompt,
		IsAdmin:         false,
	}

	t.logger.Info("Spawning sub-agent",
		zap.String("task_preview", truncateStr(task, 100)),
		zap.Int("depth", parent.Depth+1),
		zap.String("parent_session", parent.SessionID),
		zap.String("sub_session", sessionID),
	)

	subCtx := orchestrator.WithRequestContext(ctx, orchestrator.RequestContext{
		UserID: parent.UserID, AgentID: parent.AgentID, SessionID: sessionID,
		ParentSessionID: parent.SessionID, Depth: parent.Depth + 1,
	})
	subCtx, cancel := context.WithTimeout(subCtx, t.timeout)
	defer cancel()

	result, _, err := orchestrator.Submit(subCtx, t.loop, t.registry, t.limiter, req, t.model)
	if err != nil {
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}

	t.logger.Info("Sub-agent completed",
		zap.String("sub_session", sessionID),
		zap.String("stop_reason", string(result.StopReason)),
	)

	var sb strings.Builder
	sb.WriteString("=== Sub-Agent Result ===\n\n")
	sb.WriteString(result.Answer)
	sb.WriteString("\n\n--- Execution Summary ---\n")
	sb.WriteString(fmt.Sprintf("Tokens: %d | Stop reason: %s\n", result.Usage.Total, result.StopReason))

	return &domaintool.Result{
		Success: true,
		Output:  sb.String(),
		Metadata: map[string]interface{}{
			"tokens":      result.Usage.Total,
			"stop_reason": string(result.StopReason),
			"session_id":  sessionID,
		},
	}, nil
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
