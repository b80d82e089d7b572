package statemachine

import (
	"context"

	"github.com/thinksuit/thinksuit/internal/executor"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/signal"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// MachineContext is the per-turn collaborator bundle the canonical
// chart's handlers close over (spec §3: "config, module, execLogger,
// abortSignal, discoveredTools, sessionId, traceId, parentSpanId?,
// depth, fanout").
type MachineContext struct {
	Module *module.Module

	// RoleName selects which of Module.Classifiers runs DetectSignals;
	// empty means the module's single classifier, if it has exactly one.
	RoleName string

	// DimensionPolicies gates AggregateFacts per dimension (spec §4.6).
	DimensionPolicies map[string]signal.DimensionPolicy

	// DetectionProfile and DetectionBudgetMs bound DetectSignals' soft
	// time budget (spec §4.6).
	DetectionProfile  signal.Profile
	DetectionBudgetMs int

	Executor *executor.Executor
	Journal  executor.Sink

	SessionID    string
	TraceID      string
	ParentSpanID string

	// Depth is this turn's recursion depth; Fanout is the concurrent
	// branch count already committed by an enclosing Parallel (spec §5
	// resource caps, guarded by the chart's GuardDepth/Fanout Choice).
	Depth  int
	Fanout int

	// MaxDepth/MaxFanout are the configured caps; 0 means unlimited.
	MaxDepth  int
	MaxFanout int

	// DiscoveredTools names the tools the Tool Mediator currently
	// offers, surfaced to rules that gate on tool availability.
	DiscoveredTools []string
}

func (mc *MachineContext) emit(event string, data map[string]any) {
	if mc.Journal == nil {
		return
	}
	mc.Journal.Append(mc.SessionID, journal.Entry{
		Event:        event,
		SessionID:    mc.SessionID,
		TraceID:      mc.TraceID,
		ParentSpanID: mc.ParentSpanID,
		Data:         data,
	})
}

// Data bag keys the canonical chart threads between states; unexported
// so callers can't depend on the stability of their string values.
const (
	keyThread       = "thread"
	keyFacts        = "facts"
	keyCandidates   = "candidates"
	keySelectedPlan = "selectedPlan"
	keyExecResult   = "result"
)

// BuildCanonicalChart returns the turn chart spec §4.9 names:
// CheckSelectedPlan(Choice) -> UseSelectedPlan(Task) | DetectSignals(Task)
// -> AggregateFacts(Task) -> EvaluateRules(Task) -> SelectPlan(Task)
// -> GuardDepthFanout(Choice) -> ExecutePlan(Task)
// -> EmitResponse(Task) -> Succeed.
// Instruction composition has no state of its own; it happens inside
// ExecutePlan, where the executor builds each provider request.
//
// A caller that already has a selectedPlan (a resumed/forked session
// replaying a fixed plan, or a caller bypassing classification
// entirely) seeds data["selectedPlan"] before Run and the chart skips
// straight to execution (spec §4.9's CheckSelectedPlan branch).
func BuildCanonicalChart() Chart {
	return Chart{
		StartAt: "CheckSelectedPlan",
		States: map[string]State{
			"CheckSelectedPlan": {
				Type:      TypeChoice,
				Condition: "hasSelectedPlan",
				Next:      "UseSelectedPlan",
				Default:   "DetectSignals",
			},
			"UseSelectedPlan": {
				Type:       TypeTask,
				Handler:    "UseSelectedPlan",
				InputPath:  keySelectedPlan,
				ResultPath: keySelectedPlan,
				Then:       "GuardDepthFanout",
			},
			"DetectSignals": {
				Type:       TypeTask,
				Handler:    "DetectSignals",
				ResultPath: keyFacts,
				Then:       "AggregateFacts",
			},
			"AggregateFacts": {
				Type:       TypeTask,
				Handler:    "AggregateFacts",
				InputPath:  keyFacts,
				ResultPath: keyFacts,
				Then:       "EvaluateRules",
			},
			"EvaluateRules": {
				Type:       TypeTask,
				Handler:    "EvaluateRules",
				InputPath:  keyFacts,
				ResultPath: keyCandidates,
				Then:       "SelectPlan",
			},
			"SelectPlan": {
				Type:       TypeTask,
				Handler:    "SelectPlan",
				InputPath:  keyCandidates,
				ResultPath: keySelectedPlan,
				Then:       "GuardDepthFanout",
			},
			"GuardDepthFanout": {
				Type:      TypeChoice,
				Condition: "withinResourceCaps",
				Next:      "ExecutePlan",
				Default:   "ResourceExceeded",
			},
			"ResourceExceeded": {
				Type:  TypeFail,
				Error: "resource caps exceeded (maxDepth/maxFanout)",
			},
			"ExecutePlan": {
				Type:       TypeTask,
				Handler:    "ExecutePlan",
				ResultPath: keyExecResult,
				Then:       "EmitResponse",
			},
			"EmitResponse": {
				Type:       TypeTask,
				Handler:    "EmitResponse",
				InputPath:  keyExecResult,
				ResultPath: keyExecResult,
				Then:       "Done",
			},
			"Done": {Type: TypeSucceed},
		},
	}
}

// NewTurnInterpreter builds an Interpreter with every predicate/handler
// the canonical chart references, closed over mc and t (the thread to
// classify and respond to).
func NewTurnInterpreter(mc *MachineContext, t thread.Thread) *Interpreter {
	in := New()

	in.Predicates["hasSelectedPlan"] = func(data map[string]any) bool {
		_, ok := data[keySelectedPlan].(*plan.Plan)
		return ok
	}
	in.Predicates["withinResourceCaps"] = func(data map[string]any) bool {
		if mc.MaxDepth > 0 && mc.Depth > mc.MaxDepth {
			return false
		}
		if mc.MaxFanout > 0 && mc.Fanout > mc.MaxFanout {
			return false
		}
		return true
	}

	in.Handlers["DetectSignals"] = func(ctx context.Context, _ any) (any, error) {
		classifier, err := selectClassifier(mc.Module, mc.RoleName)
		if err != nil {
			return nil, err
		}
		facts, _, err := signal.DetectSignals(ctx, classifier, t, mc.DetectionProfile, mc.DetectionBudgetMs)
		if err != nil {
			return nil, thinkerr.Wrap(thinkerr.CodeModule, "detect signals", err)
		}
		return facts, nil
	}

	in.Handlers["AggregateFacts"] = func(_ context.Context, input any) (any, error) {
		facts, _ := input.([]signal.Fact)
		return signal.AggregateFacts(facts, mc.DimensionPolicies), nil
	}

	in.Handlers["EvaluateRules"] = func(_ context.Context, input any) (any, error) {
		facts, _ := input.([]signal.Fact)
		return signal.EvaluateRules(facts, mc.Module), nil
	}

	in.Handlers["SelectPlan"] = func(_ context.Context, input any) (any, error) {
		candidates, _ := input.([]signal.Candidate)
		selected := signal.SelectPlan(candidates)
		if selected == nil {
			return nil, thinkerr.New(thinkerr.CodeModule, "no rule produced an execution plan")
		}
		emitPlanSelected(mc, selected)
		return selected, nil
	}

	in.Handlers["UseSelectedPlan"] = func(_ context.Context, input any) (any, error) {
		selected, _ := input.(*plan.Plan)
		emitPlanSelected(mc, selected)
		return selected, nil
	}

	in.Handlers["ExecutePlan"] = func(ctx context.Context, input any) (any, error) {
		data, _ := input.(map[string]any)
		selected, _ := data[keySelectedPlan].(*plan.Plan)
		facts, _ := data[keyFacts].([]signal.Fact)
		result, err := mc.Executor.Execute(ctx, selected, facts, t, mc.Depth)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	in.Handlers["EmitResponse"] = func(_ context.Context, input any) (any, error) {
		// session.response/session.error are scheduler-level events
		// (spec §4.10) emitted exactly once per turn by the caller that
		// owns the session lifecycle; this handler only threads the
		// result through, it does not itself journal a terminal event.
		result, _ := input.(executor.Result)
		return result, nil
	}

	return in
}

// emitPlanSelected reports processing.plan.selected for the plan the
// turn is about to execute, whether it came from rule evaluation or
// was supplied by the caller (spec §4.9, §8 scenarios 1-4).
func emitPlanSelected(mc *MachineContext, selected *plan.Plan) {
	mc.emit(journal.EventPlanSelected, map[string]any{
		"strategy": string(selected.Strategy),
		"role":     selected.Role,
	})
}

func selectClassifier(m *module.Module, roleName string) (module.Classifier, error) {
	if c, ok := m.Classifiers[roleName]; ok {
		return c, nil
	}
	if len(m.Classifiers) == 1 {
		for _, c := range m.Classifiers {
			return c, nil
		}
	}
	return nil, thinkerr.New(thinkerr.CodeModule, "module: no classifier resolves for role "+roleName)
}

// RunTurn drives the canonical chart for one turn against t, returning
// the final data bag (whose "result" key holds an executor.Result on
// success).
func RunTurn(ctx context.Context, mc *MachineContext, t thread.Thread, selectedPlan *plan.Plan) (map[string]any, error) {
	in := NewTurnInterpreter(mc, t)
	data := map[string]any{keyThread: t}
	if selectedPlan != nil {
		data[keySelectedPlan] = selectedPlan
	}
	// session.error is emitted by the caller that owns the session
	// lifecycle (the scheduler), not here, so a failed turn journals
	// exactly one terminal event.
	return in.Run(ctx, BuildCanonicalChart(), data)
}
