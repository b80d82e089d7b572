package signal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/thread"
)

func TestDetectSignals_InvokesClassifier(t *testing.T) {
	classifier := func(ctx context.Context, th thread.Thread) ([]Fact, error) {
		return []Fact{{Type: FactTypeSignal, Dimension: "tone", Signal: "frustrated", Confidence: 0.8}}, nil
	}
	facts, metrics, err := DetectSignals(context.Background(), classifier, thread.Thread{}, ProfileFast, 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.False(t, metrics.TimedOut)
}

func TestAggregateFacts_DedupKeepsMaxConfidence(t *testing.T) {
	facts := []Fact{
		{Type: FactTypeSignal, Dimension: "tone", Signal: "frustrated", Confidence: 0.5},
		{Type: FactTypeSignal, Dimension: "tone", Signal: "frustrated", Confidence: 0.9},
	}
	out := AggregateFacts(facts, nil)

	var survivor *Fact
	for i := range out {
		if out[i].Type == FactTypeSignal {
			survivor = &out[i]
		}
	}
	require.NotNil(t, survivor)
	assert.Equal(t, 0.9, survivor.Confidence)

	hasTurnContext := false
	for _, f := range out {
		if f.Type == FactTypeTurnContext {
			hasTurnContext = true
		}
	}
	assert.True(t, hasTurnContext)
}

func TestAggregateFacts_FiltersBelowMinConfidence(t *testing.T) {
	facts := []Fact{{Type: FactTypeSignal, Dimension: "tone", Signal: "frustrated", Confidence: 0.3}}
	policies := map[string]DimensionPolicy{"tone": {Enabled: true, MinConfidence: 0.5}}
	out := AggregateFacts(facts, policies)

	for _, f := range out {
		assert.NotEqual(t, "frustrated", f.Signal)
	}
}

func TestEvaluateRulesAndSelectPlan(t *testing.T) {
	directPlan := &plan.Plan{Name: "chat", Strategy: plan.StrategyDirect, Role: "chat"}
	taskPlan := &plan.Plan{Name: "exec", Strategy: plan.StrategyTask, Role: "execute", Tools: []string{"roll_dice"}}

	m := &module.Module{
		Namespace: "ns",
		Name:      "mu",
		Version:   "1.0.0",
		Roles:     []module.Role{{Name: "chat"}},
		Rules: []module.Rule{
			{
				Name:       "low-confidence-direct",
				Conditions: func(facts []Fact) bool { return true },
				Apply:      func(facts []Fact) module.RuleOutcome { return module.RuleOutcome{Plan: directPlan, Confidence: 0.4} },
			},
			{
				Name:       "high-confidence-task",
				Conditions: func(facts []Fact) bool { return true },
				Apply:      func(facts []Fact) module.RuleOutcome { return module.RuleOutcome{Plan: taskPlan, Confidence: 0.9} },
			},
		},
	}

	candidates := EvaluateRules(nil, m)
	require.Len(t, candidates, 2)

	selected := SelectPlan(candidates)
	require.NotNil(t, selected)
	assert.Equal(t, "exec", selected.Name)
}

func TestSelectPlan_Empty(t *testing.T) {
	assert.Nil(t, SelectPlan(nil))
}
