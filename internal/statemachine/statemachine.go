// Package statemachine implements the State Machine Interpreter (spec
// C9): a declarative chart of named States (Choice/Pass/Task/Parallel/
// Succeed/Fail) driving one turn.
//
// Grounded on pkg/agent/workflowagent (stage functions operating over
// an explicit context struct) for the handler/stage shape, per the
// spec's own design note (§9: "prefer an interpreter over generated
// code") since hector itself wires its pipeline in Go code, not data —
// this package instead treats the chart as a plain data value
// (encoding/json-marshalable) so it can be unit-tested by dry-running
// without handlers (§9).
package statemachine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/thinksuit/thinksuit/internal/thinkerr"
)

// StateType discriminates one State's shape (spec §4.9).
type StateType string

const (
	TypeChoice   StateType = "Choice"
	TypePass     StateType = "Pass"
	TypeTask     StateType = "Task"
	TypeParallel StateType = "Parallel"
	TypeSucceed  StateType = "Succeed"
	TypeFail     StateType = "Fail"
)

// State is one node of the chart. Only the fields meaningful to Type
// are read; the struct is a union by convention, not by Go type, so
// the whole chart round-trips through encoding/json as one value
// (spec §9: "chart is loaded from a static description (small JSON
// document)").
type State struct {
	Type StateType `json:"type"`

	// Choice: Condition names a registered Predicate; Next is taken
	// when it returns true, Default otherwise.
	Condition string `json:"condition,omitempty"`
	Next      string `json:"next,omitempty"`
	Default   string `json:"default,omitempty"`

	// Pass: copies the value at InputPath (the whole context if
	// InputPath is empty) into ResultPath, no side effects, then
	// continues to Then.
	InputPath  string `json:"inputPath,omitempty"`
	ResultPath string `json:"resultPath,omitempty"`
	Then       string `json:"then,omitempty"`

	// Task: invokes the registered Handler named Handler with the data
	// at InputPath (or the whole context if InputPath is empty),
	// writing its result to ResultPath, then continues to Then.
	Handler string `json:"handler,omitempty"`

	// Parallel: runs every named branch chart concurrently against a
	// copy of the current context, collecting results (in branch
	// declaration order, not completion order) into an array written to
	// ResultPath, then continues to Then.
	Branches []Chart `json:"branches,omitempty"`

	// Fail: Error is a human-readable reason surfaced on the returned error.
	Error string `json:"error,omitempty"`
}

// Chart is the whole state machine: a start state name and a map of
// named States (spec §4.9).
type Chart struct {
	StartAt string           `json:"startAt"`
	States  map[string]State `json:"states"`
}

// Predicate evaluates a Choice state's condition over the current context.
type Predicate func(data map[string]any) bool

// Handler implements a Task state. input is the value selected by the
// state's InputPath (or the whole context, by convention under the
// "" key). The returned value is written to ResultPath.
type Handler func(ctx context.Context, input any) (any, error)

// Interpreter runs a Chart against a mutable context bag, dispatching
// Choice conditions to Predicates and Task handlers to Handlers by name.
type Interpreter struct {
	Predicates map[string]Predicate
	Handlers   map[string]Handler

	// DryRun, when true, treats every Task as a no-op that immediately
	// continues to Then without invoking a handler — this is what lets
	// the chart's Choice/Pass/Parallel wiring be unit-tested without
	// constructing real handlers (spec §9).
	DryRun bool
}

// New constructs an empty Interpreter.
func New() *Interpreter {
	return &Interpreter{
		Predicates: make(map[string]Predicate),
		Handlers:   make(map[string]Handler),
	}
}

// maxSteps guards against a malformed chart with a transition cycle
// that never reaches a terminal state.
const maxSteps = 10_000

// Run drives chart from its StartAt state against data until a
// Succeed or Fail state is reached, or ctx is cancelled. It returns the
// final context bag; on a Fail state it also returns a
// thinkerr.CodeInternal error carrying the state's Error text. A Task
// handler's error is returned unchanged and ends the run at once,
// without passing through a Fail state.
func (in *Interpreter) Run(ctx context.Context, chart Chart, data map[string]any) (map[string]any, error) {
	current := chart.StartAt
	for step := 0; ; step++ {
		if step >= maxSteps {
			return data, thinkerr.New(thinkerr.CodeInternal, "statemachine: exceeded max transition steps, possible cycle")
		}
		if err := ctx.Err(); err != nil {
			return data, thinkerr.Wrap(thinkerr.CodeAbort, "statemachine: context cancelled", err)
		}

		state, ok := chart.States[current]
		if !ok {
			return data, thinkerr.New(thinkerr.CodeInternal, fmt.Sprintf("statemachine: unknown state %q", current))
		}

		switch state.Type {
		case TypeSucceed:
			return data, nil

		case TypeFail:
			msg := state.Error
			if msg == "" {
				msg = fmt.Sprintf("statemachine: reached Fail state %q", current)
			}
			return data, thinkerr.New(thinkerr.CodeInternal, msg)

		case TypeChoice:
			pred, ok := in.Predicates[state.Condition]
			if !ok {
				return data, thinkerr.New(thinkerr.CodeInternal, fmt.Sprintf("statemachine: unknown predicate %q", state.Condition))
			}
			if pred(data) {
				current = state.Next
			} else {
				current = state.Default
			}

		case TypePass:
			value := selectPath(data, state.InputPath)
			if state.ResultPath != "" {
				setPath(data, state.ResultPath, value)
			}
			current = state.Then

		case TypeTask:
			if in.DryRun {
				current = state.Then
				continue
			}
			handler, ok := in.Handlers[state.Handler]
			if !ok {
				return data, thinkerr.New(thinkerr.CodeInternal, fmt.Sprintf("statemachine: unknown handler %q", state.Handler))
			}
			input := selectPath(data, state.InputPath)
			result, err := handler(ctx, input)
			if err != nil {
				return data, err
			}
			if state.ResultPath != "" {
				setPath(data, state.ResultPath, result)
			}
			current = state.Then

		case TypeParallel:
			results, err := in.runParallel(ctx, state.Branches, data)
			if err != nil {
				return data, err
			}
			if state.ResultPath != "" {
				setPath(data, state.ResultPath, results)
			}
			current = state.Then

		default:
			return data, thinkerr.New(thinkerr.CodeInternal, fmt.Sprintf("statemachine: unknown state type %q", state.Type))
		}
	}
}

// branchResult carries one parallel branch's outcome, indexed so
// declaration order (not completion order) can be restored afterward.
type branchResult struct {
	index int
	data  map[string]any
	err   error
}

func (in *Interpreter) runParallel(ctx context.Context, branches []Chart, data map[string]any) ([]map[string]any, error) {
	results := make([]branchResult, len(branches))
	var wg sync.WaitGroup
	var mu sync.Mutex
	cancelled := false

	for i, branch := range branches {
		i, branch := i, branch
		wg.Add(1)
		go func() {
			defer wg.Done()
			mu.Lock()
			skip := cancelled
			mu.Unlock()
			if skip {
				results[i] = branchResult{index: i, err: thinkerr.New(thinkerr.CodeAbort, "statemachine: branch skipped after sibling cancellation")}
				return
			}
			branchData := cloneContext(data)
			out, err := in.Run(ctx, branch, branchData)
			results[i] = branchResult{index: i, data: out, err: err}
			if err != nil {
				mu.Lock()
				cancelled = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(results, func(a, b int) bool { return results[a].index < results[b].index })
	out := make([]map[string]any, len(results))
	for i, r := range results {
		if r.err != nil {
			return nil, r.err
		}
		out[i] = r.data
	}
	return out, nil
}

// cloneContext returns a shallow copy of data safe for a concurrent
// branch to mutate independently (mirrors thread.Thread.Clone's role
// in the Plan Executor's own parallel fan-out).
func cloneContext(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// selectPath reads a dotted path ("a.b.c") from data, returning the
// whole map when path is empty.
func selectPath(data map[string]any, path string) any {
	if path == "" {
		return data
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// setPath writes value at a dotted path ("a.b.c") into data, creating
// intermediate maps as needed.
func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
