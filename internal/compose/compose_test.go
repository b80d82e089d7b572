package compose

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/signal"
	"github.com/thinksuit/thinksuit/internal/thread"
)

func TestCompose_BuildsSystemAndPrimary(t *testing.T) {
	m := &module.Module{
		Prompts: map[string]string{
			"system.chat":  "You are a helpful chat assistant.",
			"adapt.terse":  "Keep responses short.",
			"primary.chat": "Respond to: {thread.tail}",
		},
	}
	p := &plan.Plan{Name: "greet", Strategy: plan.StrategyDirect, Role: "chat", Adaptations: []string{"terse"}}
	th := thread.Thread{}.Append(thread.Message{Role: thread.RoleUser, Content: "hi"})

	system, primary := Compose(p, m, nil, th)
	assert.Contains(t, system, "helpful chat assistant")
	assert.Contains(t, system, "Keep responses short")
	assert.Equal(t, "Respond to: hi", primary)
}

func TestCompose_MissingPrimaryFallsBackToTail(t *testing.T) {
	m := &module.Module{Prompts: map[string]string{}}
	p := &plan.Plan{Name: "greet", Strategy: plan.StrategyDirect, Role: "chat"}
	th := thread.Thread{}.Append(thread.Message{Role: thread.RoleUser, Content: "hi"})

	_, primary := Compose(p, m, nil, th)
	assert.Equal(t, "hi", primary)
}

func TestCompose_SideEffectFree(t *testing.T) {
	m := &module.Module{Prompts: map[string]string{"primary.chat": "{unknown}"}}
	p := &plan.Plan{Name: "greet", Strategy: plan.StrategyDirect, Role: "chat"}
	th := thread.Thread{}

	before := len(th.Messages)
	Compose(p, m, []signal.Fact{{Type: signal.FactTypeSignal, Signal: "x"}}, th)
	assert.Equal(t, before, len(th.Messages))
}
