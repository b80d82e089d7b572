// Package executor implements the recursive Plan Executor (spec C8):
// direct/task/sequential/parallel strategy execution with resource
// caps and cooperative cancellation.
//
// Grounded on pkg/agent/workflowagent/{loop.go,parallel.go,sequential.go}
// for the iteration/fan-out control flow (errgroup.WithContext +
// results channel for parallel, iteration-count loop for task's tool
// cycle) and pkg/agent/llmagent/flow.go for the call-then-branch-on-
// finish-reason tool loop shape, rewritten against this module's own
// provider.LLM/toolmediator.Mediator instead of pkg/model/pkg/tool.
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/thinksuit/thinksuit/internal/checkpoint"
	"github.com/thinksuit/thinksuit/internal/compose"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/signal"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
	"github.com/thinksuit/thinksuit/internal/toolmediator"
)

// Sink receives journal entries emitted during execution. A nil Sink
// is legal; entries are then silently dropped (useful in tests that
// don't care about the audit trail).
type Sink interface {
	Append(sessionID string, e journal.Entry) error
}

// Deps are the collaborators a turn's execution needs. Journal,
// Checkpoints and Mediator may be nil: a nil Journal drops entries (see
// Sink), a nil Checkpoints skips checkpointing, and a nil Mediator
// disables the task strategy's tool loop (an attempt to use it fails
// with CodeTool).
type Deps struct {
	Providers *provider.Registry
	Mediator  *toolmediator.Mediator
	Module    *module.Module
	Journal   Sink
	SessionID string

	// Checkpoints, when non-nil, receives a snapshot after every
	// completed tool cycle of a task strategy and is cleared when the
	// task ends with any Reason other than aborted (an aborted task keeps
	// its last checkpoint), so a crash mid-loop loses at most
	// the in-flight cycle (spec's checkpoint/resume supplement).
	Checkpoints *checkpoint.Store

	// Model is the backend model name used for every callLLM
	// invocation this turn (spec §4.3 "Configuration (recognized
	// options)").
	Model string

	// MaxFanout caps concurrent parallel branches; 0 means unlimited.
	MaxFanout int

	// MaxDepth caps sequential/parallel/task recursion; 0 means
	// unlimited.
	MaxDepth int

	// MaxChildren caps the cumulative number of child plans (sequential
	// steps and parallel branches) spawned across the whole turn, as
	// opposed to MaxFanout's per-parallel concurrent-branch cap (spec §5
	// "maxChildren (cumulative children)"). 0 means unlimited.
	MaxChildren int
}

// Reason explains why execution stopped, for callers that need to
// distinguish a clean completion from an early exit.
type Reason string

const (
	ReasonComplete          Reason = "complete"
	ReasonResourceExhausted Reason = "resource_exhausted"
	ReasonAborted           Reason = "aborted"
)

// Result is what executing one plan (at any depth) produces.
type Result struct {
	Output string
	Usage  provider.Usage
	Reason Reason
}

// Executor runs ExecutionPlans against a Thread. One Executor is
// constructed per turn, so children counts the cumulative child plans
// spawned across that whole turn's recursion tree (spec §5).
type Executor struct {
	deps     Deps
	children atomic.Int64
}

// New constructs an Executor.
func New(deps Deps) *Executor {
	return &Executor{deps: deps}
}

// Execute runs p against t at the given recursion depth, returning the
// combined output, accumulated usage, and stop reason. facts are the
// aggregated facts for this turn, used to render the instruction
// templates (spec §4.7) for every direct/task step.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread, depth int) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if e.deps.MaxDepth > 0 && depth > e.deps.MaxDepth {
		return Result{}, thinkerr.New(thinkerr.CodeResource, "plan exceeds maxDepth")
	}
	if ctx.Err() != nil {
		return Result{Reason: ReasonAborted}, nil
	}

	switch p.Strategy {
	case plan.StrategyDirect:
		return e.execDirect(ctx, p, facts, t)
	case plan.StrategyTask:
		return e.execTask(ctx, p, facts, t)
	case plan.StrategySequential:
		return e.execSequential(ctx, p, facts, t, depth)
	case plan.StrategyParallel:
		return e.execParallel(ctx, p, facts, t, depth)
	default:
		return Result{}, thinkerr.New(thinkerr.CodeModule, fmt.Sprintf("executor: unsupported strategy %q", p.Strategy))
	}
}

// spawnChild counts one more child plan against MaxChildren (spec §5
// "maxChildren (cumulative children)"), returning an error once the
// cap is exceeded rather than silently ignoring it.
func (e *Executor) spawnChild() error {
	if e.deps.MaxChildren <= 0 {
		return nil
	}
	if e.children.Add(1) > int64(e.deps.MaxChildren) {
		return thinkerr.New(thinkerr.CodeResource, "plan exceeds maxChildren")
	}
	return nil
}

func (e *Executor) llm() (provider.LLM, error) {
	llm, ok := e.deps.Providers.Get(e.deps.Model)
	if !ok {
		return nil, thinkerr.New(thinkerr.CodeProvider, fmt.Sprintf("no provider registered for model %q", e.deps.Model))
	}
	return llm, nil
}

func (e *Executor) buildRequest(p *plan.Plan, facts []signal.Fact, t thread.Thread, maxTokens int) provider.Request {
	system, primary := compose.Compose(p, e.deps.Module, facts, t)
	thr := t
	if primary != "" {
		thr = thr.Append(thread.Message{Role: thread.RoleUser, Content: primary})
	}
	return provider.Request{
		Model:              e.deps.Model,
		SystemInstructions: system,
		Thread:             thr,
		MaxTokens:          maxTokens,
		Temperature:        temperaturePtr(e.deps.Module.RoleTemperature(p.Role)),
	}
}

func temperaturePtr(v float64) *float64 { return &v }

func (e *Executor) execDirect(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread) (Result, error) {
	llm, err := e.llm()
	if err != nil {
		return Result{}, err
	}
	req := e.buildRequest(p, facts, t, e.deps.Module.DefaultMaxTokens())
	e.emit(journal.EventLLMRequest, map[string]any{"strategy": "direct", "role": p.Role})

	resp, err := llm.CallLLM(ctx, req)
	if err != nil {
		return Result{}, thinkerr.Wrap(thinkerr.CodeProvider, "direct callLLM failed", err)
	}
	e.emit(journal.EventLLMResponse, map[string]any{"strategy": "direct", "finishReason": string(resp.FinishReason)})

	return Result{Output: resp.Output, Usage: resp.Usage, Reason: ReasonComplete}, nil
}

func (e *Executor) execTask(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread) (Result, error) {
	if e.deps.Mediator == nil {
		return Result{}, thinkerr.New(thinkerr.CodeTool, "task strategy requires a Mediator")
	}
	return e.runTaskLoop(ctx, p, facts, t, 0, 0, provider.Usage{})
}

// ResumeTask continues a task strategy's tool loop from a previously
// saved checkpoint rather than starting at cycle 0 (spec's
// checkpoint/resume supplement; the Session Scheduler's resumeTask
// entry point calls this after reloading State via e.deps.Checkpoints).
func (e *Executor) ResumeTask(ctx context.Context, p *plan.Plan, facts []signal.Fact, cp checkpoint.State) (Result, error) {
	if e.deps.Mediator == nil {
		return Result{}, thinkerr.New(thinkerr.CodeTool, "task strategy requires a Mediator")
	}
	return e.runTaskLoop(ctx, p, facts, cp.Thread, cp.Cycle, cp.ToolCalls, cp.Usage)
}

// runTaskLoop is the task strategy's tool-call cycle, parameterized so
// both a fresh run (cycle 0) and a resumed run (cycle > 0, non-zero
// usage/toolCalls, a non-empty thread) share one implementation.
func (e *Executor) runTaskLoop(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread, startCycle, startToolCalls int, startUsage provider.Usage) (Result, error) {
	llm, err := e.llm()
	if err != nil {
		return Result{}, err
	}

	limits := p.ResolvedLimits()
	toolSchemas := e.toolSchemas(p.Tools)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(limits.TimeoutMs)*time.Millisecond)
	defer cancel()

	cur := t
	var lastOutput string
	usage := startUsage
	toolCalls := startToolCalls

	finish := func(res Result) (Result, error) {
		if res.Reason != ReasonAborted {
			e.clearCheckpoint()
		}
		return res, nil
	}

	for cycle := startCycle; cycle < limits.MaxCycles; cycle++ {
		if ctx.Err() != nil {
			reason := ReasonAborted
			if ctx.Err() == context.DeadlineExceeded {
				reason = ReasonResourceExhausted
			}
			return finish(Result{Output: lastOutput, Usage: usage, Reason: reason})
		}

		req := e.buildRequest(p, facts, cur, e.deps.Module.DefaultMaxTokens())
		req.Tools = p.Tools
		req.ToolSchemas = toolSchemas

		resp, err := llm.CallLLM(ctx, req)
		if err != nil {
			return Result{}, thinkerr.Wrap(thinkerr.CodeProvider, "task callLLM failed", err)
		}
		usage.Prompt += resp.Usage.Prompt
		usage.Completion += resp.Usage.Completion
		lastOutput = resp.Output

		if limits.MaxTokens > 0 && usage.Prompt+usage.Completion > limits.MaxTokens {
			return finish(Result{Output: lastOutput, Usage: usage, Reason: ReasonResourceExhausted})
		}
		if resp.FinishReason != provider.FinishToolUse {
			return finish(Result{Output: lastOutput, Usage: usage, Reason: ReasonComplete})
		}

		assistantMsg := thread.Message{Role: thread.RoleAssistant, Content: resp.Output, ToolCalls: resp.ToolCalls}
		cur = cur.Append(assistantMsg)

		for _, tc := range resp.ToolCalls {
			if limits.MaxToolCalls > 0 && toolCalls >= limits.MaxToolCalls {
				return finish(Result{Output: lastOutput, Usage: usage, Reason: ReasonResourceExhausted})
			}
			toolCalls++

			result := e.invokeTool(ctx, tc)
			cur = cur.Append(thread.Message{
				Role:       thread.RoleTool,
				ToolCallID: tc.ID,
				Name:       tc.Function.Name,
				Content:    result,
			})
		}

		e.saveCheckpoint(p, cur, cycle+1, toolCalls, usage)
	}
	return finish(Result{Output: lastOutput, Usage: usage, Reason: ReasonResourceExhausted})
}

// saveCheckpoint persists the task loop's progress after a completed
// cycle. Best-effort: a checkpoint write failure doesn't fail the
// turn, since the checkpoint is a resume optimization, not the
// source of truth (the journal is).
func (e *Executor) saveCheckpoint(p *plan.Plan, cur thread.Thread, cycle, toolCalls int, usage provider.Usage) {
	if e.deps.Checkpoints == nil {
		return
	}
	_ = e.deps.Checkpoints.Save(checkpoint.State{
		SessionID: e.deps.SessionID,
		PlanName:  p.Name,
		Plan:      p,
		Cycle:     cycle,
		ToolCalls: toolCalls,
		Usage:     usage,
		Thread:    cur,
	})
}

func (e *Executor) clearCheckpoint() {
	if e.deps.Checkpoints == nil {
		return
	}
	_ = e.deps.Checkpoints.Clear(e.deps.SessionID)
}

// invokeTool gates a single tool call via approval, then invokes it
// through the Mediator, returning the content for the tool response
// message fed back to the model (spec §4.4, §4.8).
func (e *Executor) invokeTool(ctx context.Context, tc thread.ToolCall) string {
	id, wait, autoApproved := e.deps.Mediator.RequestApproval(tc.Function.Name, map[string]any{"arguments": tc.Function.Arguments})
	if !autoApproved {
		e.emit(journal.EventApprovalRequest, map[string]any{"approvalId": id, "tool": tc.Function.Name})
	}

	var decision struct {
		Approved bool
	}
	select {
	case d := <-wait:
		decision.Approved = d.Approved
	case <-ctx.Done():
		return toolDeniedPayload("aborted before approval resolved")
	}

	if !decision.Approved {
		e.emit(journal.EventToolCall, map[string]any{"tool": tc.Function.Name, "success": false, "reason": "tool_denied"})
		return toolDeniedPayload("tool_denied")
	}

	result := e.deps.Mediator.CallTool(ctx, tc.Function.Name, tc.Function.Arguments)
	e.emit(journal.EventToolCall, map[string]any{"tool": tc.Function.Name, "success": result.Success})
	if !result.Success {
		return result.Error
	}
	return result.Result
}

func toolDeniedPayload(reason string) string {
	return fmt.Sprintf(`{"error":%q}`, reason)
}

func (e *Executor) toolSchemas(names []string) []provider.ToolSchema {
	if e.deps.Mediator == nil || len(names) == 0 {
		return nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []provider.ToolSchema
	for _, h := range e.deps.Mediator.Filtered() {
		if want[h.Name] {
			out = append(out, provider.ToolSchema{Name: h.Name, Description: h.Description, InputSchema: h.InputSchema})
		}
	}
	return out
}

func (e *Executor) execSequential(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread, depth int) (Result, error) {
	cur := t
	var usage provider.Usage
	outputs := make([]string, 0, len(p.Sequence))

	for i, step := range p.Sequence {
		if ctx.Err() != nil {
			return Result{Usage: usage, Reason: ReasonAborted}, nil
		}
		if err := e.spawnChild(); err != nil {
			return Result{Usage: usage, Reason: ReasonResourceExhausted}, nil
		}
		sub := stepToPlan(p.Name, i, step)
		res, err := e.Execute(ctx, sub, facts, cur, depth+1)
		if err != nil {
			return Result{}, err
		}
		usage.Prompt += res.Usage.Prompt
		usage.Completion += res.Usage.Completion
		outputs = append(outputs, res.Output)
		if res.Reason != ReasonComplete {
			return Result{Output: res.Output, Usage: usage, Reason: res.Reason}, nil
		}
		if p.BuildThread {
			cur = cur.Append(thread.Message{Role: thread.RoleAssistant, Content: res.Output})
		}
	}

	return Result{Output: combineOutputs(outputs, p.ResultStrategy), Usage: usage, Reason: ReasonComplete}, nil
}

func stepToPlan(parentName string, i int, step plan.Step) *plan.Plan {
	return &plan.Plan{
		Name:        fmt.Sprintf("%s/%d", parentName, i),
		Strategy:    step.Strategy,
		Role:        step.Role,
		Tools:       step.Tools,
		Adaptations: step.Adaptations,
	}
}

func combineOutputs(outputs []string, strategy plan.ResultStrategy) string {
	if strategy == plan.ResultConcat {
		return strings.Join(outputs, "\n")
	}
	if len(outputs) == 0 {
		return ""
	}
	return outputs[len(outputs)-1]
}

// branchResult carries one parallel branch's outcome back to the
// fan-in loop (mirrors workflowagent/parallel.go's result struct).
type branchResult struct {
	index int
	res   Result
	err   error
}

func (e *Executor) execParallel(ctx context.Context, p *plan.Plan, facts []signal.Fact, t thread.Thread, depth int) (Result, error) {
	maxFanout := e.deps.MaxFanout
	if maxFanout > 0 && len(p.Roles) > maxFanout {
		return Result{}, thinkerr.New(thinkerr.CodeResourceFanout, fmt.Sprintf("plan requests %d branches, maxFanout is %d", len(p.Roles), maxFanout))
	}
	for range p.Roles {
		if err := e.spawnChild(); err != nil {
			return Result{Reason: ReasonResourceExhausted}, nil
		}
	}

	grp, grpCtx := errgroup.WithContext(ctx)
	results := make([]Result, len(p.Roles))
	errs := make([]error, len(p.Roles))

	var mu sync.Mutex
	for i, step := range p.Roles {
		i, step := i, step
		branch := t.Clone()
		sub := stepToPlan(p.Name, i, step)
		grp.Go(func() error {
			res, err := e.Execute(grpCtx, sub, facts, branch, depth+1)
			mu.Lock()
			results[i] = res
			errs[i] = err
			mu.Unlock()
			return err
		})
	}

	if err := grp.Wait(); err != nil {
		for _, berr := range errs {
			if berr != nil {
				return Result{}, berr
			}
		}
		return Result{Reason: ReasonAborted}, nil
	}

	var usage provider.Usage
	outputs := make([]string, len(results))
	for i, res := range results {
		usage.Prompt += res.Usage.Prompt
		usage.Completion += res.Usage.Completion
		outputs[i] = res.Output
	}
	return Result{Output: combineOutputs(outputs, p.ResultStrategy), Usage: usage, Reason: ReasonComplete}, nil
}

func (e *Executor) emit(event string, data map[string]any) {
	if e.deps.Journal == nil {
		return
	}
	_ = e.deps.Journal.Append(e.deps.SessionID, journal.Entry{Event: event, Data: data})
}
