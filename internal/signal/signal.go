// Package signal implements signal detection, fact aggregation, and
// forward-chaining rule evaluation over a module's classifiers and
// rules (spec C6).
//
// This has no direct teacher analogue (hector has no rule engine); it
// is built fresh in the idiom of internal/registry and internal/module
// (stateless pure functions operating over plain data), per
// DESIGN.md's grounding note for C6.
package signal

import (
	"context"
	"sort"
	"time"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/thread"
)

// Fact is re-exported from module to give this package's callers a
// single import for the domain's fact vocabulary.
type Fact = module.Fact

// Fact type constants.
const (
	FactTypeSignal      = "Signal"
	FactTypePattern     = "Pattern"
	FactTypeTurnContext = "TurnContext"
)

// Profile controls how much time/effort signal detection may spend.
type Profile string

const (
	ProfileFast     Profile = "fast"
	ProfileBalanced Profile = "balanced"
	ProfileThorough Profile = "thorough"
)

// DetectionMetrics reports how detection spent its budget.
type DetectionMetrics struct {
	Duration time.Duration
	TimedOut bool
}

// DetectSignals invokes the module's classifier under a soft time
// budget (spec §4.6). If budgetMs is 0, no deadline is imposed.
func DetectSignals(ctx context.Context, classifier module.Classifier, t thread.Thread, profile Profile, budgetMs int) ([]Fact, DetectionMetrics, error) {
	start := time.Now()
	if budgetMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(budgetMs)*time.Millisecond)
		defer cancel()
	}

	facts, err := classifier(ctx, t)
	metrics := DetectionMetrics{Duration: time.Since(start)}
	if err != nil {
		if ctx.Err() != nil {
			metrics.TimedOut = true
		}
		return nil, metrics, err
	}
	return facts, metrics, nil
}

// DimensionPolicy gates a dimension's facts by minimum confidence.
type DimensionPolicy struct {
	Enabled       bool
	MinConfidence float64
}

func factKey(f Fact) string {
	disc := f.Signal
	if disc == "" {
		disc = f.Name
	}
	return f.Type + "\x00" + f.Dimension + "\x00" + disc
}

// AggregateFacts deduplicates by (type, dimension, signal||name)
// keeping the maximum confidence, filters by optional per-dimension
// policy, and always appends one TurnContext fact (spec §4.6, §8 dedup
// invariant).
func AggregateFacts(facts []Fact, policies map[string]DimensionPolicy) []Fact {
	best := make(map[string]Fact)
	order := make([]string, 0, len(facts))

	for _, f := range facts {
		if pol, ok := policies[f.Dimension]; ok {
			if !pol.Enabled || f.Confidence < pol.MinConfidence {
				continue
			}
		}
		key := factKey(f)
		if existing, ok := best[key]; !ok || f.Confidence > existing.Confidence {
			if !ok {
				order = append(order, key)
			}
			best[key] = f
		}
	}

	out := make([]Fact, 0, len(order)+1)
	for _, k := range order {
		out = append(out, best[k])
	}
	out = append(out, Fact{Type: FactTypeTurnContext, Confidence: 1})
	return out
}

// Candidate is a rule-produced ExecutionPlan proposal.
type Candidate struct {
	Plan       *plan.Plan
	Confidence float64
	RuleOrder  int
}

// EvaluateRules runs each rule whose Conditions are satisfied by facts,
// in module-declared order, collecting any plan candidates it emits
// (spec §4.6 forward-chaining). Rules may also emit new facts, which
// become visible to subsequent rules in the same pass.
func EvaluateRules(facts []Fact, m *module.Module) []Candidate {
	working := append([]Fact(nil), facts...)
	var candidates []Candidate

	for i, rule := range m.Rules {
		if rule.Conditions == nil || !rule.Conditions(working) {
			continue
		}
		if rule.Apply == nil {
			continue
		}
		result := rule.Apply(working)
		working = append(working, result.Facts...)
		if result.Plan != nil {
			if p, ok := result.Plan.(*plan.Plan); ok {
				candidates = append(candidates, Candidate{Plan: p, Confidence: result.Confidence, RuleOrder: i})
			}
		}
	}
	return candidates
}

// SelectPlan picks the highest-confidence candidate; ties break by
// rule order, then by strategy simplicity (spec §4.6). Returns nil if
// candidates is empty.
func SelectPlan(candidates []Candidate) *plan.Plan {
	if len(candidates) == 0 {
		return nil
	}
	sorted := append([]Candidate(nil), candidates...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Confidence != sorted[j].Confidence {
			return sorted[i].Confidence > sorted[j].Confidence
		}
		if sorted[i].RuleOrder != sorted[j].RuleOrder {
			return sorted[i].RuleOrder < sorted[j].RuleOrder
		}
		return plan.Priority(sorted[i].Plan.Strategy) < plan.Priority(sorted[j].Plan.Strategy)
	})
	return sorted[0].Plan
}
