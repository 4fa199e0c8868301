package toolexec

import (
	"context"
	"sync"

	"github.com/ylsdamxssjxxdd/wunder-sub003/pkg/safego"
	"go.uber.org/zap"
)

// DefaultToolParallelism is the default number of tool calls the executor
// runs concurrently within one round when the model requests several at
// once.
const DefaultToolParallelism = 4

// Call is one resolved tool invocation the Orchestrator Loop asks the
// Executor to run.
type Call struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// CallResult pairs a Call's ID with its outcome, since results return out
// of order under parallel execution.
type CallResult struct {
	ID     string
	Result *Result
	Err    error
}

// Executor runs resolved tool calls against a Registry with bounded
// parallelism, adapted from the teacher's single-call Executor interface
// and widened to the spec's parallel tool-call requirement.
type Executor struct {
	registry    Registry
	execCtx     ExecutionContext
	parallelism int
	logger      *zap.Logger
}

func NewExecutor(registry Registry, parallelism int, logger *zap.Logger) *Executor {
	if parallelism < 1 {
		parallelism = DefaultToolParallelism
	}
	return &Executor{registry: registry, execCtx: ExecContextGateway, parallelism: parallelism, logger: logger}
}

func (e *Executor) SetContext(execCtx ExecutionContext) { e.execCtx = execCtx }

// Parallelism reports the bound callers should use when fanning out calls
// themselves (e.g. the orchestrator's approval-aware batch runner, which
// can't go through ExecuteAll directly since each call may first need to
// block on the Approval Gate).
func (e *Executor) Parallelism() int { return e.parallelism }

// ExecuteOne runs a single resolved call.
func (e *Executor) ExecuteOne(ctx context.Context, call Call) (*Result, error) {
	tool, ok := e.registry.Get(call.Name)
	if !ok {
		return &Result{Success: false, Error: "unknown tool: " + call.Name}, nil
	}
	return tool.Execute(ctx, call.Args)
}

// ExecuteAll runs calls with up to e.parallelism concurrent in flight,
// preserving call.ID correlation in the returned slice (order matches
// calls, not completion order) so the orchestrator can append tool
// result messages in a deterministic sequence regardless of which
// finished first.
func (e *Executor) ExecuteAll(ctx context.Context, calls []Call) []CallResult {
	results := make([]CallResult, len(calls))
	sem := make(chan struct{}, e.parallelism)
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		i, call := i, call
		sem <- struct{}{}
		safego.GoCtx(ctx, e.logger, "tool_call:"+call.Name, func(ctx context.Context) {
			defer wg.Done()
			defer func() { <-sem }()
			res, err := e.ExecuteOne(ctx, call)
			results[i] = CallResult{ID: call.ID, Result: res, Err: err}
		})
	}
	wg.Wait()
	return results
}
