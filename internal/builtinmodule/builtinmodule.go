// Package builtinmodule provides a minimal cognitive module so
// cmd/thinksuit has something runnable out of the box. The spec treats
// module content (roles, classifiers, rules, prompt fragments) as
// entirely pluggable and external to the orchestration core (spec §1
// Non-goals); this package is CLI scaffolding, not a core component —
// a deployment is expected to supply its own richer module.
//
// Grounded on the spec's own §3 Module shape and the end-to-end
// scenarios in §8 (a "chat" role answering directly, an "execute" role
// looping over a tool), rather than on any teacher file — the teacher
// has no forward-chaining rule/module concept to generalize from.
package builtinmodule

import (
	"context"
	"strings"

	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/thread"
)

const (
	Namespace = "thinksuit"
	Name      = "chat"
	Version   = "0.1.0"
)

// New constructs the built-in "thinksuit/chat" module.
func New() *module.Module {
	m := &module.Module{
		Namespace: Namespace,
		Name:      Name,
		Version:   Version,
		Roles: []module.Role{
			{Name: "chat", Temperature: 0.7, IsDefault: true, Description: "direct conversational response"},
			{Name: "execute", Temperature: 0.2, Description: "tool-using task execution"},
		},
		Prompts: map[string]string{
			"system.chat":     "You are a helpful, concise assistant.",
			"primary.chat":    "{thread.tail}",
			"system.execute":  "You are a careful assistant with access to tools. Use them when they help answer the request.",
			"primary.execute": "{thread.tail}",
			"length.default":  "Keep responses brief unless asked for detail.",
		},
		Tokens: map[string]int{"default": 1024},
	}

	m.Classifiers = map[string]module.Classifier{
		"": classifyThread,
	}

	m.Rules = []module.Rule{
		{
			Name:     "tool-intent",
			Priority: 1,
			Conditions: func(facts []module.Fact) bool {
				return hasSignal(facts, "intent", "tool_use")
			},
			Apply: func(facts []module.Fact) module.RuleOutcome {
				return module.RuleOutcome{
					Confidence: 0.8,
					Plan: &plan.Plan{
						Name:     "execute-with-tools",
						Strategy: plan.StrategyTask,
						Role:     "execute",
						Resolution: &plan.Resolution{
							MaxCycles:    plan.DefaultMaxCycles,
							MaxToolCalls: plan.DefaultMaxToolCalls,
							TimeoutMs:    plan.DefaultTimeoutMs,
						},
					},
				}
			},
		},
		{
			Name:     "default-chat",
			Priority: 0,
			Conditions: func(facts []module.Fact) bool {
				return true
			},
			Apply: func(facts []module.Fact) module.RuleOutcome {
				return module.RuleOutcome{
					Confidence: 0.5,
					Plan: &plan.Plan{
						Name:     "direct-chat",
						Strategy: plan.StrategyDirect,
						Role:     "chat",
					},
				}
			},
		},
	}

	return m
}

var toolKeywords = []string{"roll ", "calculate", "search", "look up", "read file", "list files"}

// classifyThread looks at the thread's last user message for a
// handful of keywords suggesting tool use is wanted; everything else
// is plain chat. This is intentionally simple — a real module's
// classifier is the deployment's concern, not the core's.
func classifyThread(_ context.Context, t thread.Thread) ([]module.Fact, error) {
	tail := strings.ToLower(t.Tail())
	for _, kw := range toolKeywords {
		if strings.Contains(tail, kw) {
			return []module.Fact{{Type: "Signal", Dimension: "intent", Signal: "tool_use", Confidence: 0.8}}, nil
		}
	}
	return []module.Fact{{Type: "Signal", Dimension: "intent", Signal: "chat", Confidence: 0.6}}, nil
}

func hasSignal(facts []module.Fact, dimension, signal string) bool {
	for _, f := range facts {
		if f.Type == "Signal" && f.Dimension == dimension && f.Signal == signal {
			return true
		}
	}
	return false
}
