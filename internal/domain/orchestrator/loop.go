package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/approval"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/contextmgr"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/eventstream"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/llmclient"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/monitor"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/promptcomposer"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/repository"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/scheduler"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/session"
	"github.com/ylsdamxssjxxdd/wunder-sub003/internal/domain/toolexec"
	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/orcherr"
	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/safego"
)

// maxContextOverflowRecoveryAttempts is the spec's hard ceiling on forced
// compaction retries after a context-overflow error from the model (spec
// §4.4 step 5 "MAX_CONTEXT_OVERFLOW_RECOVERY_ATTEMPTS = 4").
const maxContextOverflowRecoveryAttempts = 4

// defaultToolTimeout is used when neither the per-call nor per-tool config
// supplies one.
const defaultToolTimeout = 30 * time.Second

// defaultHistoryCompactionRatio mirrors the spec's default when a model's
// config doesn't set one explicitly.
const defaultHistoryCompactionRatio = 0.8

// Loop is the Orchestrator Loop (spec §2 row J): the per-request driver
// wiring every other core collaborator together. One Loop instance is
// shared across requests; all per-request state lives in roundState and
// the monitor.Record passed into Run.
type Loop struct {
	LLM        llmclient.Client
	History    repository.HistoryStore
	Emitter    *eventstream.Emitter
	Limiter    *scheduler.Limiter
	Tools      toolexec.Registry
	Executor   *toolexec.Executor
	Policy     toolexec.Policy
	Gate       *approval.Gate // nil disables the approval wait entirely
	Summarizer contextmgr.Summarizer
	Prompts    *promptcomposer.Engine
	Workspace  WorkspaceVersioner // nil disables workspace_update emission
	Logger     *zap.Logger

	ToolTimeout time.Duration
}

// NewLoop wires a Loop from its collaborators. Tool timeout defaults to
// defaultToolTimeout if toolTimeout is zero.
func NewLoop(llm llmclient.Client, history repository.HistoryStore, emitter *eventstream.Emitter,
	limiter *scheduler.Limiter, tools toolexec.Registry, executor *toolexec.Executor, policy toolexec.Policy,
	gate *approval.Gate, summarizer contextmgr.Summarizer, prompts *promptcomposer.Engine,
	workspace WorkspaceVersioner, toolTimeout time.Duration, logger *zap.Logger) *Loop {
	if toolTimeout <= 0 {
		toolTimeout = defaultToolTimeout
	}
	return &Loop{
		LLM: llm, History: history, Emitter: emitter, Limiter: limiter,
		Tools: tools, Executor: executor, Policy: policy, Gate: gate,
		Summarizer: summarizer, Prompts: prompts, Workspace: workspace,
		ToolTimeout: toolTimeout, Logger: logger,
	}
}

// Run executes one request's round loop end to end (spec §4.4). It assumes
// the caller has already admitted the session through the Limiter and
// registered rec with the Monitor Registry; Run itself only starts/stops
// the per-request heartbeat and always releases the Limiter slot on exit.
func (lp *Loop) Run(ctx context.Context, rec *monitor.Record, req PreparedRequest, model ModelConfig) (RunResult, error) {
	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	scheduler.StartHeartbeat(hbCtx, lp.Logger, lp.Limiter, rec.Session.ID)
	defer stopHeartbeat()
	defer lp.Limiter.Release(rec.Session.ID)

	result, err := lp.runRounds(ctx, rec, req, model)

	if err != nil {
		code := orcherr.CodeOf(err)
		lp.emit(ctx, rec, req, session.EventError, map[string]any{"code": string(code), "message": err.Error()})
		if code == orcherr.CodeCancelled {
			rec.Transition(session.StatusCancelled)
		} else if code != orcherr.CodeUserBusy {
			rec.Transition(session.StatusError)
		}
		return RunResult{}, err
	}

	lp.emit(ctx, rec, req, session.EventRoundUsage, map[string]any{
		"input": result.RoundUsage.Input, "output": result.RoundUsage.Output, "total": result.RoundUsage.Total,
	})
	lp.emit(ctx, rec, req, session.EventFinal, map[string]any{
		"answer": result.Answer, "usage": result.Usage, "round_usage": result.RoundUsage,
		"stop_reason": string(result.StopReason), "uid": result.UID,
	})

	if result.StopReason == StopQuestionPanel {
		rec.Transition(session.StatusQuestionPanel)
	} else {
		rec.Transition(session.StatusFinished)
	}
	return result, nil
}

// runRounds is the body of the loop: steps 1-13 of spec §4.4, repeated
// until a terminal condition (answer produced, round cap, or guard trip)
// is reached.
func (lp *Loop) runRounds(ctx context.Context, rec *monitor.Record, req PreparedRequest, model ModelConfig) (RunResult, error) {
	state := &roundState{}
	guard := &failureGuard{}
	firstLLMCallDone := false
	roundCap := resolveMaxRounds(model, req)

	messages, err := lp.loadInitialMessages(ctx, rec, req, model)
	if err != nil {
		return RunResult{}, orcherr.InternalWithCause("failed to load session history", err)
	}
	state.messages = messages

	for round := 1; roundCap == 0 || round <= roundCap; round++ {
		// Step 1: cancel-check.
		if rec.Status() == session.StatusCancelling {
			return RunResult{}, orcherr.Cancelled("session cancelled before round start")
		}

		// Step 2: normalize.
		state.messages = contextmgr.Normalize(state.messages)

		// Step 3: token-ratio compaction.
		ratio := model.HistoryCompactionRatio
		if ratio <= 0 {
			ratio = defaultHistoryCompactionRatio
		}
		if contextmgr.NeedsCompaction(state.messages, model.MaxContext, ratio) {
			compacted, cErr := contextmgr.Compact(ctx, lp.Summarizer, state.messages, contextmgr.DefaultKeepLast)
			if cErr == nil {
				state.messages = compacted
			}
			lp.emit(ctx, rec, req, session.EventCompaction, map[string]any{"reason": "threshold"})
		}

		// Step 4: context usage.
		used := contextmgr.EstimateContextTokens(state.messages)
		lp.emit(ctx, rec, req, session.EventContextUsage, map[string]any{"used": used, "max": model.MaxContext})

		// Step 5: call the model, with forced-compaction overflow recovery.
		resp, llmErr := lp.callLLMWithOverflowRecovery(ctx, rec, req, model, state)
		if llmErr != nil {
			return RunResult{}, llmErr
		}

		// Step 6: record the user message once, on the first successful call.
		if !firstLLMCallDone {
			firstLLMCallDone = true
			if req.Question != "" {
				_ = lp.History.AppendChat(ctx, req.UserID, req.SessionID, session.Message{Role: session.RoleUser, Content: req.Question})
			}
		}

		// Step 7: accumulate usage.
		u := session.TokenUsage{Input: resp.Usage.Input, Output: resp.Usage.Output, Total: resp.Usage.Total}.Normalize()
		state.roundUsage = state.roundUsage.Add(u)
		state.totalUsage = state.totalUsage.Add(u)
		rec.AddUsage(u)

		// Step 8: parse tool calls.
		calls := lp.parseToolCalls(resp, model.ToolCallMode)

		assistantMsg := session.Message{
			Role: session.RoleAssistant, Content: resp.Content, ReasoningContent: resp.ReasoningContent,
			ToolCalls: toSessionToolCallRefs(calls),
		}
		if resp.Content != "" {
			state.assistantTexts = append(state.assistantTexts, resp.Content)
		}

		// Step 9: no tool calls -> finalize with the model's own answer, or
		// the localized empty-response fallback if it said nothing at all.
		if len(calls) == 0 {
			state.messages = append(state.messages, assistantMsg)
			answer := strings.TrimSpace(resp.Content)
			reason := StopModelResponse
			if answer == "" {
				answer = localize(req.Language, "empty_response")
				reason = StopEmptyResponse
			}
			lp.persistFinal(ctx, req, answer)
			return lp.finalize(state, reason, answer, ""), nil
		}

		// Step 10: append the assistant turn and split into a plan.
		state.messages = append(state.messages, assistantMsg)
		_ = lp.History.AppendChat(ctx, req.UserID, req.SessionID, assistantMsg)
		p := buildPlan(calls)

		// Step 11: execute pre-terminal calls with bounded parallelism.
		if len(p.Pre) > 0 {
			tripped, stopResult := lp.executeBatch(ctx, rec, req, state, guard, p.Pre, model.ToolCallMode)
			if tripped {
				return stopResult, nil
			}
		}

		// Step 12: terminal handling.
		if p.Terminal != nil {
			return lp.handleTerminal(ctx, rec, req, state, *p.Terminal), nil
		}
		if p.QuestionPanel != nil {
			return lp.handleQuestionPanel(ctx, rec, req, state, *p.QuestionPanel, guard), nil
		}

		// Neither terminal nor question_panel: loop continues to the next round.
	}

	// Round cap reached without a terminal outcome.
	answer := lastNonEmpty(state.assistantTexts)
	if answer == "" {
		answer = localize(req.Language, "max_rounds")
		lp.persistFinal(ctx, req, answer)
		return lp.finalize(state, StopMaxRounds, answer, ""), nil
	}
	lp.persistFinal(ctx, req, answer)
	return lp.finalize(state, StopMaxRounds, answer, ""), nil
}

// executeBatch runs one round's pre-terminal tool calls and applies the
// repeated-failure guard (spec §4.4 steps 11/13). Returns (true, result)
// if the guard tripped and the caller should return result immediately.
func (lp *Loop) executeBatch(ctx context.Context, rec *monitor.Record, req PreparedRequest, state *roundState, guard *failureGuard, calls []llmclient.ToolCall, toolCallMode string) (bool, RunResult) {
	for _, c := range calls {
		lp.emit(ctx, rec, req, session.EventToolCall, map[string]any{"id": c.ID, "name": c.Name, "args": c.Arguments})
	}

	beforeVersion := lp.currentWorkspaceVersion(ctx, req)

	// Bounded-parallel fan-out (spec §5 "bounded-parallel tool-execution
	// sub-pipeline, concurrency DEFAULT_TOOL_PARALLELISM"). Each call may
	// independently block on the Approval Gate, so this runs through
	// executeToolCall directly rather than toolexec.Executor.ExecuteAll,
	// borrowing only its parallelism bound.
	results := make([]session.ToolResultPayload, len(calls))
	parallelism := 1
	if lp.Executor != nil {
		parallelism = lp.Executor.Parallelism()
	}
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		i, c := i, c
		sem <- struct{}{}
		safego.GoCtx(ctx, lp.Logger, "tool_call:"+c.Name, func(ctx context.Context) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = lp.executeToolCall(ctx, rec, req, c)
		})
	}
	wg.Wait()

	for i, c := range calls {
		res := results[i]
		lp.emit(ctx, rec, req, session.EventToolResult, map[string]any{"id": c.ID, "name": c.Name, "result": res})

		obs := observationMessage(toolCallMode, c.ID, c.Name, res)
		state.messages = append(state.messages, obs)
		_ = lp.History.AppendToolLog(ctx, req.SessionID, toSessionToolCall(c), res)

		if guard.Observe(c.Name, res.OK, res.Error, res.Data) {
			answer := localize(req.Language, "tool_failure_guard")
			rec.SetStage("tool_failure_guard")
			lp.emit(ctx, rec, req, session.EventProgress, map[string]any{"stage": "tool_failure_guard"})
			lp.persistFinal(ctx, req, answer)
			return true, lp.finalize(state, StopToolFailureGuard, answer, "")
		}
	}

	afterVersion := lp.currentWorkspaceVersion(ctx, req)
	if lp.Workspace != nil && afterVersion > beforeVersion {
		lp.emit(ctx, rec, req, session.EventWorkspaceUpd, map[string]any{"version": afterVersion})
	}

	return false, RunResult{}
}

// handleTerminal resolves an a2ui or final_response terminal call (spec
// §4.4 step 12).
func (lp *Loop) handleTerminal(ctx context.Context, rec *monitor.Record, req PreparedRequest, state *roundState, call llmclient.ToolCall) RunResult {
	switch call.Name {
	case toolA2UI:
		uid, _ := call.Arguments["uid"].(string)
		content, _ := call.Arguments["content"].(string)
		var messages []map[string]any
		if raw, ok := call.Arguments["messages"].([]any); ok {
			for _, m := range raw {
				if mm, ok := m.(map[string]any); ok {
					if _, has := mm["surfaceId"]; !has && uid != "" {
						mm["surfaceId"] = uid
					}
					messages = append(messages, mm)
				}
			}
		}
		lp.emit(ctx, rec, req, session.EventA2UI, map[string]any{"uid": uid, "messages": messages, "content": content})
		if strings.TrimSpace(content) != "" {
			lp.persistFinal(ctx, req, content)
		}
		result := lp.finalize(state, StopA2UI, content, uid)
		result.A2UIData = messages
		return result
	default: // final_response
		content, _ := call.Arguments["content"].(string)
		content = strings.TrimSpace(content)
		lp.persistFinal(ctx, req, content)
		return lp.finalize(state, StopFinalTool, content, "")
	}
}

// handleQuestionPanel executes the question_panel call as a normal tool
// invocation, then stops the batch with a localized "waiting" answer as the
// assistant turn (spec §4.4 step 12). The pending panel is reported only
// through a question_panel event with status "pending"; the assistant turn
// itself carries no question_panel marker.
func (lp *Loop) handleQuestionPanel(ctx context.Context, rec *monitor.Record, req PreparedRequest, state *roundState, call llmclient.ToolCall, guard *failureGuard) RunResult {
	lp.emit(ctx, rec, req, session.EventToolCall, map[string]any{"id": call.ID, "name": call.Name, "args": call.Arguments})
	res := lp.executeToolCall(ctx, rec, req, call)
	lp.emit(ctx, rec, req, session.EventToolResult, map[string]any{"id": call.ID, "name": call.Name, "result": res})
	_ = lp.History.AppendToolLog(ctx, req.SessionID, toSessionToolCall(call), res)

	if !res.OK {
		guard.Observe(call.Name, false, res.Error, res.Data)
		answer := res.Error
		lp.persistFinal(ctx, req, answer)
		return lp.finalize(state, StopToolFailureGuard, answer, "")
	}

	lp.emit(ctx, rec, req, session.EventQuestionPanel, map[string]any{"args": call.Arguments, "status": "pending"})
	answer := localize(req.Language, "question_panel")
	assistantMsg := session.Message{Role: session.RoleAssistant, Content: answer}
	state.messages = append(state.messages, assistantMsg)
	_ = lp.History.AppendChat(ctx, req.UserID, req.SessionID, assistantMsg)
	return lp.finalize(state, StopQuestionPanel, answer, "")
}

// finalize builds a RunResult from the accumulated round state.
func (lp *Loop) finalize(state *roundState, reason StopReason, answer, uid string) RunResult {
	return RunResult{Answer: answer, Usage: state.totalUsage, RoundUsage: state.roundUsage, StopReason: reason, UID: uid}
}

func (lp *Loop) persistFinal(ctx context.Context, req PreparedRequest, answer string) {
	if answer == "" {
		return
	}
	_ = lp.History.AppendChat(ctx, req.UserID, req.SessionID, session.Message{Role: session.RoleAssistant, Content: answer})
}

// callLLMWithOverflowRecovery calls the model, and on a context-overflow
// error forces compaction and retries up to maxContextOverflowRecoveryAttempts
// times before giving up (spec §4.4 step 5). Any other error is fatal.
func (lp *Loop) callLLMWithOverflowRecovery(ctx context.Context, rec *monitor.Record, req PreparedRequest, model ModelConfig, state *roundState) (*llmclient.Response, error) {
	request := &llmclient.Request{
		Model: model.Name, Temperature: model.Temperature, MaxTokens: model.MaxOutput, Stop: model.Stop,
		IncludeUsage: model.StreamIncludeUsage, Tools: lp.buildToolDefinitions(req),
	}

	lp.emit(ctx, rec, req, session.EventLLMRequest, map[string]any{"model": model.Name})

	for {
		request.Messages = toLLMMessages(state.messages)
		resp, err := lp.LLM.Complete(ctx, request)
		if err == nil {
			lp.emit(ctx, rec, req, session.EventLLMOutput, map[string]any{"content": resp.Content})
			lp.emit(ctx, rec, req, session.EventLLMResponse, map[string]any{"finish_reason": resp.FinishReason})
			return resp, nil
		}

		classified := llmclient.Classify(err, "", model.Name)
		if !llmclient.IsContextOverflowError(classified) {
			return nil, orcherr.InternalWithCause("LLM call failed", err)
		}

		if state.overflowCompactions >= maxContextOverflowRecoveryAttempts {
			return nil, orcherr.ContextWindowExceeded("context window exceeded after forced compaction attempts")
		}
		state.overflowCompactions++

		lp.emit(ctx, rec, req, session.EventProgress, map[string]any{"stage": "overflow_recovery", "attempt": state.overflowCompactions})

		keepLast := contextmgr.DefaultKeepLast - state.overflowCompactions
		if keepLast < 1 {
			keepLast = 1
		}
		compacted, cErr := contextmgr.Compact(ctx, lp.Summarizer, state.messages, keepLast)
		if cErr != nil {
			return nil, orcherr.ContextWindowExceeded("context window exceeded and forced compaction failed")
		}
		state.messages = compacted
		lp.emit(ctx, rec, req, session.EventCompaction, map[string]any{"reason": "overflow_recovery", "attempt": state.overflowCompactions})
	}
}

// executeToolCall resolves and runs one tool call, including exec-policy
// evaluation and the approval-gate wait (spec §4.4 step 11, §4.7, §4.8).
func (lp *Loop) executeToolCall(ctx context.Context, rec *monitor.Record, req PreparedRequest, call llmclient.ToolCall) session.ToolResultPayload {
	tool, ok := lp.Tools.Get(call.Name)
	if !ok {
		return session.ErrorResult(fmt.Sprintf("tool disabled or unavailable: %s", call.Name))
	}

	decision := toolexec.Evaluate(lp.Policy, call.Name, tool.Kind(), rec.ToolOverrides())
	if !decision.Allowed {
		res := session.ErrorResult(decision.Reason)
		res.Meta = map[string]any{"policy": decision.Reason}
		return res
	}

	if decision.RequiresApproval && lp.Gate != nil {
		scope, err := lp.requestApproval(ctx, rec, req, call, tool.Kind())
		if err != nil {
			return session.ErrorResult("approval wait failed: " + err.Error())
		}
		switch scope {
		case session.ApprovalDeny:
			res := session.ErrorResult(call.Name + ": not allowed")
			res.Meta = map[string]any{"approval": string(scope)}
			return res
		case session.ApprovalSession:
			rec.GrantToolOverride(call.Name, string(toolexec.ScopeSession))
		}
	}

	timeout := lp.ToolTimeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := lp.Executor.ExecuteOne(execCtx, toolexec.Call{ID: call.ID, Name: call.Name, Args: call.Arguments})
	if execCtx.Err() == context.DeadlineExceeded {
		return session.ErrorResult(call.Name + " timeout")
	}
	if err != nil {
		return session.ErrorResult(err.Error())
	}
	if !result.Success {
		return session.ErrorResult(result.Error)
	}
	if lp.Workspace != nil && req.WorkspaceID != "" && toolexec.MutatorKinds[tool.Kind()] {
		lp.Workspace.Bump(req.WorkspaceID)
	}
	return session.ToolResultPayload{OK: true, Data: result.DisplayOrOutput(), Timestamp: time.Now(), Meta: result.Metadata}
}

// requestApproval emits approval_request, blocks on the gate, and emits
// approval_result (spec §4.7).
func (lp *Loop) requestApproval(ctx context.Context, rec *monitor.Record, req PreparedRequest, call llmclient.ToolCall, kind toolexec.Kind) (session.ApprovalScope, error) {
	approvalKind := session.ApprovalKindPatch
	if kind == toolexec.KindExecute {
		approvalKind = session.ApprovalKindExec
	}
	summary := approvalSummary(approvalKind, call.Name, call.Arguments)

	areq := session.ApprovalRequest{
		ID: uuid.New().String(), SessionID: rec.Session.ID, Kind: approvalKind, Tool: call.Name, Args: call.Arguments, Summary: summary,
	}
	lp.emit(ctx, rec, req, session.EventApprovalReq, map[string]any{"request_id": areq.ID, "tool": call.Name, "summary": summary, "kind": string(approvalKind)})
	scope, err := lp.Gate.Request(ctx, rec, areq)
	lp.emit(ctx, rec, req, session.EventApprovalResult, map[string]any{"request_id": areq.ID, "tool": call.Name, "scope": string(scope)})
	return scope, err
}

// approvalSummary renders the one-line approval prompt (spec §4.7: "<tool>:
// <command>" for exec, "<tool>: <path>" for patch).
func approvalSummary(kind session.ApprovalKind, tool string, args map[string]any) string {
	var detail string
	if kind == session.ApprovalKindExec {
		if cmd, ok := args["command"].(string); ok {
			detail = cmd
		}
	} else if p, ok := args["path"].(string); ok {
		detail = p
	}
	if detail == "" {
		return tool
	}
	return tool + ": " + detail
}

// parseToolCalls dispatches to function-call mode (provider-reported
// ToolCalls) or tool-call-tag mode (content extraction) per the model's
// configured tool_call_mode (spec §4.4 step 8).
func (lp *Loop) parseToolCalls(resp *llmclient.Response, mode string) []llmclient.ToolCall {
	if mode == "tag" {
		calls := ParseTagToolCalls(resp.Content)
		if len(calls) == 0 {
			calls = ParseTagToolCalls(resp.ReasoningContent)
		}
		return calls
	}
	return resp.ToolCalls
}

// resolveMaxRounds implements the spec's max_rounds formula: max(model.
// max_rounds ?? 8, floor), floor = 2 if skip_tool_calls else 8, with admins
// exempt from any cap (0 = uncapped).
func resolveMaxRounds(model ModelConfig, req PreparedRequest) int {
	if req.IsAdmin {
		return 0
	}
	floor := 8
	if req.SkipToolCalls {
		floor = 2
	}
	mr := model.MaxRounds
	if mr <= 0 {
		mr = 8
	}
	if mr < floor {
		mr = floor
	}
	return mr
}

// loadInitialMessages builds the round loop's starting message list: the
// assembled system prompt, prior history, and the new user turn.
func (lp *Loop) loadInitialMessages(ctx context.Context, rec *monitor.Record, req PreparedRequest, model ModelConfig) ([]session.Message, error) {
	history, err := lp.History.LoadHistory(ctx, req.UserID, req.SessionID, 0)
	if err != nil {
		return nil, err
	}

	var system string
	if lp.Prompts != nil {
		system = lp.Prompts.Assemble(promptcomposer.Context{
			Model: model.Name, AgentPrompt: req.AgentPrompt,
			RegisteredTools: toolNames(lp.Policy, lp.Tools),
		})
	}

	messages := make([]session.Message, 0, len(history)+2)
	if system != "" {
		messages = append(messages, session.Message{Role: session.RoleSystem, Content: system})
	}
	messages = append(messages, history...)
	if req.Question != "" {
		messages = append(messages, session.Message{Role: session.RoleUser, Content: req.Question})
	}
	return messages, nil
}

// toolNames lists a Registry's tool names for the prompt composer's tool
// protocol block, filtered by the configured exec Policy (spec §4.2 "tool
// protocol block").
func toolNames(policy toolexec.Policy, reg toolexec.Registry) []string {
	if reg == nil {
		return nil
	}
	defs := toolexec.FilteredDefinitions(policy, reg.List())
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}

// buildToolDefinitions resolves the tool set the model sees this request:
// the registry's definitions, filtered by the static exec Policy and then
// by the request's own tool_names allowlist (spec §6 WunderRequest.
// tool_names, including the __no_tools__ sentinel via EffectiveToolNames).
func (lp *Loop) buildToolDefinitions(req PreparedRequest) []llmclient.ToolDefinition {
	effective := req.EffectiveToolNames()
	if req.SkipToolCalls {
		return nil
	}
	if len(req.ToolNames) > 0 && len(effective) == 0 {
		return nil // __no_tools__ sentinel present
	}

	defs := toolexec.FilteredDefinitions(lp.Policy, lp.Tools.List())
	if len(effective) > 0 {
		allowed := make(map[string]bool, len(effective))
		for _, n := range effective {
			allowed[n] = true
		}
		filtered := defs[:0]
		for _, d := range defs {
			if allowed[d.Name] {
				filtered = append(filtered, d)
			}
		}
		defs = filtered
	}

	out := make([]llmclient.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llmclient.ToolDefinition{Name: d.Name, Description: d.Description, Parameters: d.Parameters}
	}
	return out
}

func (lp *Loop) currentWorkspaceVersion(ctx context.Context, req PreparedRequest) int64 {
	if lp.Workspace == nil || req.WorkspaceID == "" {
		return 0
	}
	v, err := lp.Workspace.TreeVersion(ctx, req.WorkspaceID)
	if err != nil {
		return 0
	}
	return v
}

func (lp *Loop) emit(ctx context.Context, rec *monitor.Record, req PreparedRequest, name session.EventName, data map[string]any) {
	round := session.UserOnly(req.UserRound)
	ev, err := lp.Emitter.Emit(ctx, rec.Session.ID, name, data, round)
	if err != nil {
		lp.Logger.Warn("failed to emit stream event", zap.String("session_id", rec.Session.ID), zap.String("event", string(name)), zap.Error(err))
		return
	}
	rec.RecordEvent(ev)
}

// observationMessage builds the tool-result turn appended to the message
// list, in either function-call mode (role=tool + tool_call_id) or
// tool-call-tag mode (role=user + "observation: ..." text) per spec §4.4
// step 11.
func observationMessage(mode, callID, toolName string, result session.ToolResultPayload) session.Message {
	if mode == "tag" {
		return session.Message{Role: session.RoleUser, Content: "observation: " + toolName + " -> " + observationText(result)}
	}
	return session.Message{Role: session.RoleTool, Content: observationText(result), ToolCallID: callID}
}

func observationText(result session.ToolResultPayload) string {
	if !result.OK {
		return "error: " + result.Error
	}
	if s, ok := result.Data.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", result.Data)
}

func lastNonEmpty(texts []string) string {
	for i := len(texts) - 1; i >= 0; i-- {
		if strings.TrimSpace(texts[i]) != "" {
			return texts[i]
		}
	}
	return ""
}
