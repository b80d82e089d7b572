package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate_Direct(t *testing.T) {
	p := Plan{Name: "greet", Strategy: StrategyDirect, Role: "chat"}
	assert.NoError(t, p.Validate())
}

func TestValidate_DirectRejectsMixedFields(t *testing.T) {
	p := Plan{Name: "greet", Strategy: StrategyDirect, Role: "chat", Tools: []string{"x"}}
	assert.Error(t, p.Validate())
}

func TestValidate_TaskRequiresRole(t *testing.T) {
	p := Plan{Name: "exec", Strategy: StrategyTask}
	assert.Error(t, p.Validate())
}

func TestValidate_Sequential(t *testing.T) {
	p := Plan{
		Name:           "pipeline",
		Strategy:       StrategySequential,
		Sequence:       []Step{{Role: "a", Strategy: StrategyDirect}},
		ResultStrategy: ResultLast,
	}
	assert.NoError(t, p.Validate())
}

func TestValidate_ParallelRejectsBadResultStrategy(t *testing.T) {
	p := Plan{
		Name:     "fanout",
		Strategy: StrategyParallel,
		Roles:    []Step{{Role: "a", Strategy: StrategyDirect}},
	}
	assert.Error(t, p.Validate())
}

func TestPriority_OrdersSimplestFirst(t *testing.T) {
	assert.Less(t, Priority(StrategyDirect), Priority(StrategyTask))
	assert.Less(t, Priority(StrategyTask), Priority(StrategySequential))
	assert.Less(t, Priority(StrategySequential), Priority(StrategyParallel))
}

func TestResolvedLimits_Defaults(t *testing.T) {
	p := Plan{Name: "t", Strategy: StrategyTask, Role: "execute"}
	r := p.ResolvedLimits()
	assert.Equal(t, DefaultMaxCycles, r.MaxCycles)
	assert.Equal(t, DefaultMaxToolCalls, r.MaxToolCalls)
}

func TestResolvedLimits_Overrides(t *testing.T) {
	p := Plan{Name: "t", Strategy: StrategyTask, Role: "execute", Resolution: &Resolution{MaxCycles: 3}}
	r := p.ResolvedLimits()
	assert.Equal(t, 3, r.MaxCycles)
	assert.Equal(t, DefaultMaxToolCalls, r.MaxToolCalls)
}
