package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/thread"
	"github.com/thinksuit/thinksuit/internal/toolmediator"
)

// stubLLM replays a fixed sequence of responses, one per CallLLM
// invocation, and records every request it was handed.
type stubLLM struct {
	mu        sync.Mutex
	responses []provider.Response
	calls     int
	requests  []provider.Request
	err       error
}

func (s *stubLLM) CallLLM(ctx context.Context, req provider.Request) (provider.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return provider.Response{}, s.err
	}
	if s.calls >= len(s.responses) {
		return s.responses[len(s.responses)-1], nil
	}
	resp := s.responses[s.calls]
	s.calls++
	return resp, nil
}

func (s *stubLLM) Capabilities() provider.Capabilities {
	caps := provider.Capabilities{}
	caps.Supports.ToolCalls = true
	caps.Supports.Temperature = true
	return caps
}

// collectingSink records every journal entry appended to it.
type collectingSink struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (c *collectingSink) Append(sessionID string, e journal.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	return nil
}

func (c *collectingSink) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Event
	}
	return out
}

func testModule() *module.Module {
	return &module.Module{
		Namespace: "test",
		Name:      "mod",
		Version:   "1",
		Roles:     []module.Role{{Name: "chat", Temperature: 0.3, IsDefault: true}},
		Prompts: map[string]string{
			"system.chat": "You are a helpful assistant.",
		},
		Tokens: map[string]int{"default": 256},
	}
}

func newExecutor(t *testing.T, llm provider.LLM, sink Sink) *Executor {
	t.Helper()
	return New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Module:    testModule(),
		Journal:   sink,
		SessionID: "sess-1",
		Model:     "test-model",
	})
}

func TestExecute_Direct_ReturnsOutputAndEmitsEvents(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{Output: "hi there", FinishReason: provider.FinishComplete, Usage: provider.Usage{Prompt: 10, Completion: 5}},
	}}
	sink := &collectingSink{}
	e := newExecutor(t, llm, sink)

	p := &plan.Plan{Name: "p", Strategy: plan.StrategyDirect, Role: "chat"}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "hi there" || res.Reason != ReasonComplete {
		t.Fatalf("res = %#v", res)
	}
	if res.Usage.Prompt != 10 || res.Usage.Completion != 5 {
		t.Fatalf("usage = %#v", res.Usage)
	}

	events := sink.events()
	if len(events) != 2 || events[0] != journal.EventLLMRequest || events[1] != journal.EventLLMResponse {
		t.Fatalf("events = %v", events)
	}
}

func TestExecute_Direct_NoProviderForModel(t *testing.T) {
	e := New(Deps{
		Providers: provider.NewRegistry(nil),
		Module:    testModule(),
		Model:     "missing-model",
	})
	p := &plan.Plan{Name: "p", Strategy: plan.StrategyDirect, Role: "chat"}
	_, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err == nil {
		t.Fatal("expected an error for an unregistered model")
	}
}

func TestExecute_Sequential_ConcatenatesStepOutputs(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{Output: "first", FinishReason: provider.FinishComplete},
		{Output: "second", FinishReason: provider.FinishComplete},
	}}
	e := newExecutor(t, llm, nil)

	p := &plan.Plan{
		Name:     "seq",
		Strategy: plan.StrategySequential,
		Sequence: []plan.Step{
			{Role: "chat", Strategy: plan.StrategyDirect},
			{Role: "chat", Strategy: plan.StrategyDirect},
		},
		ResultStrategy: plan.ResultConcat,
		BuildThread:    true,
	}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "first\nsecond" || res.Reason != ReasonComplete {
		t.Fatalf("res = %#v", res)
	}
}

func TestExecute_Sequential_PropagatesSubStepError(t *testing.T) {
	p := &plan.Plan{
		Name:     "seq",
		Strategy: plan.StrategySequential,
		Sequence: []plan.Step{
			{Role: "chat", Strategy: plan.StrategyParallel},
		},
		ResultStrategy: plan.ResultLast,
	}
	// The nested step is itself malformed (parallel strategy requires
	// Roles), so the inner Execute call returns an error which must
	// propagate rather than be swallowed.
	e := newExecutor(t, &stubLLM{}, nil)
	if _, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0); err == nil {
		t.Fatal("expected validation error to propagate from a sequential sub-step")
	}
}

func TestExecute_Parallel_CombinesBranchesConcat(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{Output: "branch-output", FinishReason: provider.FinishComplete},
	}}
	e := newExecutor(t, llm, nil)

	p := &plan.Plan{
		Name:     "par",
		Strategy: plan.StrategyParallel,
		Roles: []plan.Step{
			{Role: "chat", Strategy: plan.StrategyDirect},
			{Role: "chat", Strategy: plan.StrategyDirect},
			{Role: "chat", Strategy: plan.StrategyDirect},
		},
		ResultStrategy: plan.ResultConcat,
	}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != ReasonComplete {
		t.Fatalf("reason = %v", res.Reason)
	}
	want := "branch-output\nbranch-output\nbranch-output"
	if res.Output != want {
		t.Fatalf("output = %q, want %q", res.Output, want)
	}
}

func TestExecute_Parallel_MaxFanoutExceeded(t *testing.T) {
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": &stubLLM{}}),
		Module:    testModule(),
		Model:     "test-model",
		MaxFanout: 1,
	})
	p := &plan.Plan{
		Name:     "par",
		Strategy: plan.StrategyParallel,
		Roles: []plan.Step{
			{Role: "chat", Strategy: plan.StrategyDirect},
			{Role: "chat", Strategy: plan.StrategyDirect},
		},
		ResultStrategy: plan.ResultLast,
	}
	_, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err == nil {
		t.Fatal("expected maxFanout violation to error")
	}
}

func TestExecute_ResourceExhausted_MaxDepthExceeded(t *testing.T) {
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": &stubLLM{}}),
		Module:    testModule(),
		Model:     "test-model",
		MaxDepth:  2,
	})
	p := &plan.Plan{Name: "p", Strategy: plan.StrategyDirect, Role: "chat"}
	_, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 5)
	if err == nil {
		t.Fatal("expected an error when depth exceeds maxDepth")
	}
}

func TestExecute_Aborted_WhenContextAlreadyCancelled(t *testing.T) {
	e := newExecutor(t, &stubLLM{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &plan.Plan{Name: "p", Strategy: plan.StrategyDirect, Role: "chat"}
	res, err := e.Execute(ctx, p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != ReasonAborted {
		t.Fatalf("reason = %v, want aborted", res.Reason)
	}
}

func TestExecute_Task_RequiresMediator(t *testing.T) {
	e := newExecutor(t, &stubLLM{}, nil)
	p := &plan.Plan{Name: "p", Strategy: plan.StrategyTask, Role: "chat"}
	_, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err == nil {
		t.Fatal("expected an error when a task plan has no Mediator")
	}
}

func TestExecute_Task_StopsOnFirstNonToolUseFinish(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{Output: "done", FinishReason: provider.FinishComplete, Usage: provider.Usage{Prompt: 1, Completion: 1}},
	}}
	mediator := toolmediator.New(toolmediator.Config{AutoApproveTools: true})
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Mediator:  mediator,
		Module:    testModule(),
		Model:     "test-model",
	})

	p := &plan.Plan{Name: "p", Strategy: plan.StrategyTask, Role: "chat"}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "done" || res.Reason != ReasonComplete {
		t.Fatalf("res = %#v", res)
	}
}

func TestExecute_Task_ToolCallLoopFeedsResultBackAndContinues(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{
			Output:       "let me check",
			FinishReason: provider.FinishToolUse,
			ToolCalls: []thread.ToolCall{
				{ID: "call-1", Function: thread.ToolCallFunc{Name: "nonexistent_tool", Arguments: "{}"}},
			},
		},
		{Output: "final answer", FinishReason: provider.FinishComplete},
	}}
	// No Start() call means the mediator has no discovered tools, so
	// the tool call resolves to a CallResult{Success:false}; the
	// executor must still feed that back as a tool message and
	// proceed to the next cycle rather than treating it as fatal.
	mediator := toolmediator.New(toolmediator.Config{AutoApproveTools: true})
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Mediator:  mediator,
		Module:    testModule(),
		Model:     "test-model",
	})

	p := &plan.Plan{Name: "p", Strategy: plan.StrategyTask, Role: "chat", Tools: []string{"nonexistent_tool"}}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "final answer" || res.Reason != ReasonComplete {
		t.Fatalf("res = %#v", res)
	}
	if llm.calls != 2 {
		t.Fatalf("calls = %d, want 2", llm.calls)
	}
	lastReq := llm.requests[len(llm.requests)-1]
	var sawToolMsg bool
	for _, m := range lastReq.Thread.Messages {
		if m.Role == thread.RoleTool && m.ToolCallID == "call-1" {
			sawToolMsg = true
		}
	}
	if !sawToolMsg {
		t.Fatal("expected the second request's thread to carry the tool result message")
	}
}

func TestExecute_Task_ToolDeniedShortCircuitsApproval(t *testing.T) {
	llm := &stubLLM{responses: []provider.Response{
		{
			Output:       "calling",
			FinishReason: provider.FinishToolUse,
			ToolCalls: []thread.ToolCall{
				{ID: "call-1", Function: thread.ToolCallFunc{Name: "some_tool", Arguments: "{}"}},
			},
		},
		{Output: "after denial", FinishReason: provider.FinishComplete},
	}}
	mediator := toolmediator.New(toolmediator.Config{AutoApproveTools: false})
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Mediator:  mediator,
		Module:    testModule(),
		Model:     "test-model",
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		// The approval never resolves; cancel the turn so invokeTool's
		// ctx.Done() branch fires instead of blocking forever. The
		// cancelled turn ends aborted without asking the model again.
		cancel()
	}()

	p := &plan.Plan{Name: "p", Strategy: plan.StrategyTask, Role: "chat", Tools: []string{"some_tool"}}
	res, err := e.Execute(ctx, p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output == "after denial" || res.Reason != ReasonAborted {
		t.Fatalf("res = %#v", res)
	}
}

func TestExecute_Task_MaxToolCallsExhausted(t *testing.T) {
	toolUseResp := provider.Response{
		Output:       "calling",
		FinishReason: provider.FinishToolUse,
		ToolCalls: []thread.ToolCall{
			{ID: "call-1", Function: thread.ToolCallFunc{Name: "t", Arguments: "{}"}},
		},
	}
	llm := &stubLLM{responses: []provider.Response{toolUseResp, toolUseResp, toolUseResp}}
	mediator := toolmediator.New(toolmediator.Config{AutoApproveTools: true})
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Mediator:  mediator,
		Module:    testModule(),
		Model:     "test-model",
	})

	p := &plan.Plan{
		Name: "p", Strategy: plan.StrategyTask, Role: "chat", Tools: []string{"t"},
		Resolution: &plan.Resolution{MaxToolCalls: 1, MaxCycles: 5},
	}
	res, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Reason != ReasonResourceExhausted {
		t.Fatalf("reason = %v, want resource_exhausted", res.Reason)
	}
}

func TestExecute_Task_ProviderErrorWraps(t *testing.T) {
	llm := &stubLLM{err: errors.New("boom")}
	mediator := toolmediator.New(toolmediator.Config{AutoApproveTools: true})
	e := New(Deps{
		Providers: provider.NewRegistry(map[string]provider.LLM{"test-model": llm}),
		Mediator:  mediator,
		Module:    testModule(),
		Model:     "test-model",
	})
	p := &plan.Plan{Name: "p", Strategy: plan.StrategyTask, Role: "chat"}
	if _, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0); err == nil {
		t.Fatal("expected provider error to propagate")
	}
}

func TestExecute_UnknownStrategyErrors(t *testing.T) {
	e := newExecutor(t, &stubLLM{}, nil)
	p := &plan.Plan{Name: "p", Strategy: "bogus"}
	if _, err := e.Execute(context.Background(), p, nil, thread.Thread{}, 0); err == nil {
		t.Fatal("expected validate to reject an unknown strategy before execution")
	}
}

func TestCombineOutputs(t *testing.T) {
	if got := combineOutputs(nil, plan.ResultLast); got != "" {
		t.Fatalf("combineOutputs(nil) = %q", got)
	}
	if got := combineOutputs([]string{"a", "b"}, plan.ResultConcat); got != "a\nb" {
		t.Fatalf("concat = %q", got)
	}
	if got := combineOutputs([]string{"a", "b"}, plan.ResultLast); got != "b" {
		t.Fatalf("last = %q", got)
	}
}

func TestStepToPlan_CarriesStepFields(t *testing.T) {
	step := plan.Step{Role: "critic", Strategy: plan.StrategyDirect, Tools: []string{"x"}, Adaptations: []string{"terse"}}
	p := stepToPlan("parent", 3, step)
	if p.Name != "parent/3" || p.Role != "critic" || p.Strategy != plan.StrategyDirect {
		t.Fatalf("p = %#v", p)
	}
}
