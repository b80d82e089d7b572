// Package plan defines the ExecutionPlan tagged variant consumed by
// the Plan Executor (spec §3, §4.8).
package plan

import (
	"fmt"

	"github.com/thinksuit/thinksuit/internal/thinkerr"
)

// Strategy is the tag discriminating an ExecutionPlan's shape.
type Strategy string

const (
	StrategyDirect     Strategy = "direct"
	StrategyTask       Strategy = "task"
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
)

// strategyPriority orders strategies simplest-first for tie-breaking
// in SelectPlan (spec §4.6: "direct < task < sequential < parallel").
var strategyPriority = map[Strategy]int{
	StrategyDirect:     0,
	StrategyTask:       1,
	StrategySequential: 2,
	StrategyParallel:   3,
}

// Priority returns s's tie-break rank; lower is simpler/preferred.
func Priority(s Strategy) int {
	if p, ok := strategyPriority[s]; ok {
		return p
	}
	return len(strategyPriority)
}

// ResultStrategy controls how a multi-step plan's sub-results combine.
type ResultStrategy string

const (
	ResultLast   ResultStrategy = "last"
	ResultConcat ResultStrategy = "concat"
)

// Resolution carries per-task resource overrides (spec §4.8, §5).
type Resolution struct {
	MaxCycles    int `json:"maxCycles,omitempty"`
	MaxTokens    int `json:"maxTokens,omitempty"`
	MaxToolCalls int `json:"maxToolCalls,omitempty"`
	TimeoutMs    int `json:"timeoutMs,omitempty"`
}

// Step is one member of a Sequential or Parallel plan's branch list.
type Step struct {
	Role        string   `json:"role"`
	Strategy    Strategy `json:"strategy"`
	Tools       []string `json:"tools,omitempty"`
	Adaptations []string `json:"adaptations,omitempty"`
}

// Plan is the tagged-variant ExecutionPlan. Only the fields matching
// Strategy are populated; validation rejects mixtures (spec §3
// invariant, §8 "Plan shape").
type Plan struct {
	Name     string   `json:"name"`
	Strategy Strategy `json:"strategy"`

	// direct, task
	Role        string   `json:"role,omitempty"`
	Adaptations []string `json:"adaptations,omitempty"`

	// task only
	Tools      []string    `json:"tools,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`

	// sequential only (ResultStrategy is also required by parallel)
	Sequence       []Step         `json:"sequence,omitempty"`
	ResultStrategy ResultStrategy `json:"resultStrategy,omitempty"`
	BuildThread    bool           `json:"buildThread,omitempty"`

	// parallel only
	Roles []Step `json:"roles,omitempty"`
}

// Validate rejects a Plan whose populated fields do not match exactly
// the set its Strategy tag requires.
func (p Plan) Validate() error {
	if p.Name == "" {
		return thinkerr.New(thinkerr.CodeModule, "plan: name is required")
	}
	switch p.Strategy {
	case StrategyDirect:
		if p.Role == "" {
			return fieldErr(p.Strategy, "role is required")
		}
		if len(p.Tools) != 0 || p.Resolution != nil || len(p.Sequence) != 0 || len(p.Roles) != 0 {
			return fieldErr(p.Strategy, "must not set tools/resolution/sequence/roles")
		}
	case StrategyTask:
		if p.Role == "" {
			return fieldErr(p.Strategy, "role is required")
		}
		if len(p.Sequence) != 0 || len(p.Roles) != 0 {
			return fieldErr(p.Strategy, "must not set sequence/roles")
		}
	case StrategySequential:
		if len(p.Sequence) == 0 {
			return fieldErr(p.Strategy, "sequence is required")
		}
		if p.Role != "" || len(p.Tools) != 0 || p.Resolution != nil || len(p.Roles) != 0 {
			return fieldErr(p.Strategy, "must not set role/tools/resolution/roles")
		}
		if p.ResultStrategy != ResultLast && p.ResultStrategy != ResultConcat {
			return fieldErr(p.Strategy, "resultStrategy must be last or concat")
		}
	case StrategyParallel:
		if len(p.Roles) == 0 {
			return fieldErr(p.Strategy, "roles is required")
		}
		if p.Role != "" || len(p.Tools) != 0 || p.Resolution != nil || len(p.Sequence) != 0 || p.BuildThread {
			return fieldErr(p.Strategy, "must not set role/tools/resolution/sequence/buildThread")
		}
		if p.ResultStrategy != ResultLast && p.ResultStrategy != ResultConcat {
			return fieldErr(p.Strategy, "resultStrategy must be last or concat")
		}
	default:
		return thinkerr.New(thinkerr.CodeModule, fmt.Sprintf("plan: unknown strategy %q", p.Strategy))
	}
	return nil
}

func fieldErr(s Strategy, msg string) error {
	return thinkerr.New(thinkerr.CodeModule, fmt.Sprintf("plan: strategy %q: %s", s, msg))
}

// Default resource ceilings applied when a task plan's Resolution (or
// a field of it) is unset (spec §4.8, §5).
const (
	DefaultMaxCycles    = 10
	DefaultMaxToolCalls = 25
	DefaultTimeoutMs    = 60_000
)

// ResolvedLimits returns p.Resolution with zero fields filled from the
// package defaults.
func (p Plan) ResolvedLimits() Resolution {
	r := Resolution{
		MaxCycles:    DefaultMaxCycles,
		MaxToolCalls: DefaultMaxToolCalls,
		TimeoutMs:    DefaultTimeoutMs,
	}
	if p.Resolution == nil {
		return r
	}
	if p.Resolution.MaxCycles > 0 {
		r.MaxCycles = p.Resolution.MaxCycles
	}
	if p.Resolution.MaxTokens > 0 {
		r.MaxTokens = p.Resolution.MaxTokens
	}
	if p.Resolution.MaxToolCalls > 0 {
		r.MaxToolCalls = p.Resolution.MaxToolCalls
	}
	if p.Resolution.TimeoutMs > 0 {
		r.TimeoutMs = p.Resolution.TimeoutMs
	}
	return r
}
