package main

import (
	"context"
	"fmt"
	"os"

	"github.com/thinksuit/thinksuit/internal/builtinmodule"
	"github.com/thinksuit/thinksuit/internal/checkpoint"
	"github.com/thinksuit/thinksuit/internal/config"
	"github.com/thinksuit/thinksuit/internal/executor"
	"github.com/thinksuit/thinksuit/internal/journal"
	"github.com/thinksuit/thinksuit/internal/module"
	"github.com/thinksuit/thinksuit/internal/plan"
	"github.com/thinksuit/thinksuit/internal/provider"
	"github.com/thinksuit/thinksuit/internal/provider/anthropic"
	"github.com/thinksuit/thinksuit/internal/provider/gemini"
	"github.com/thinksuit/thinksuit/internal/provider/ollama"
	"github.com/thinksuit/thinksuit/internal/provider/openai"
	"github.com/thinksuit/thinksuit/internal/scheduler"
	"github.com/thinksuit/thinksuit/internal/session"
	"github.com/thinksuit/thinksuit/internal/signal"
	"github.com/thinksuit/thinksuit/internal/statemachine"
	"github.com/thinksuit/thinksuit/internal/telemetry"
	"github.com/thinksuit/thinksuit/internal/thinkerr"
	"github.com/thinksuit/thinksuit/internal/thread"
	"github.com/thinksuit/thinksuit/internal/toolmediator"
)

// core bundles every long-lived collaborator a thinksuit process needs
// across turns: the journal and session store (disk-backed, outlive
// any one turn), the module registry, the provider registry, and
// telemetry. Each turn gets its own Tool Mediator (spec §4.4 "Lifecycle
// scoped to a single turn") and statemachine.MachineContext, built
// fresh by the run closure in newScheduler below.
type core struct {
	cfg       *config.Config
	journal   *journal.Journal
	sessions  *session.Store
	modules   *module.Registry
	providers *provider.Registry
	telemetry *telemetry.Telemetry
	cp        *checkpoint.Store
}

// buildCore wires every package this CLI depends on, grounded on
// cmd/hector/main.go's ServeCmd.Run composition root: from the loaded
// config, the durable stores, then the module and provider registries.
func buildCore(ctx context.Context, cfg *config.Config) (*core, error) {
	c := &core{
		cfg:       cfg,
		journal:   journal.New(config.SessionStreamDir()),
		sessions:  session.NewStore(config.SessionMetadataDir()),
		modules:   module.New(),
		telemetry: telemetry.New(),
		cp:        checkpoint.NewStore(config.Home()),
	}

	if err := c.modules.Register(builtinmodule.New()); err != nil {
		return nil, err
	}

	llm, model, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, err
	}
	c.providers = provider.NewRegistry(map[string]provider.LLM{model: llm})

	return c, nil
}

// buildProvider constructs the single backend adapter named by
// cfg.Provider, keyed in the registry under its resolved model name
// (the executor looks providers up by model name, spec §4.3).
func buildProvider(ctx context.Context, cfg *config.Config) (provider.LLM, string, error) {
	model := modelFor(cfg)
	switch cfg.Provider {
	case "", "anthropic":
		if cfg.ProviderConfig.Anthropic.APIKey == "" {
			return nil, "", thinkerr.New(thinkerr.CodeConfig, "anthropic API key is required (providerConfig.anthropic.apiKey or ANTHROPIC_API_KEY)")
		}
		return anthropic.New(anthropic.Config{APIKey: cfg.ProviderConfig.Anthropic.APIKey}), model, nil
	case "openai":
		if cfg.ProviderConfig.OpenAI.APIKey == "" {
			return nil, "", thinkerr.New(thinkerr.CodeConfig, "openai API key is required (providerConfig.openai.apiKey or OPENAI_API_KEY)")
		}
		return openai.New(openai.Config{APIKey: cfg.ProviderConfig.OpenAI.APIKey}), model, nil
	case "gemini":
		// Gemini has no dedicated providerConfig field in §6's
		// enumeration beyond vertexAi.{projectId,location}; API-key
		// auth falls back to the environment variable the genai SDK
		// itself conventionally reads.
		adapter, err := gemini.New(ctx, gemini.Config{APIKey: firstNonEmpty(os.Getenv("GOOGLE_API_KEY"), os.Getenv("GEMINI_API_KEY"))})
		if err != nil {
			return nil, "", err
		}
		return adapter, model, nil
	case "ollama":
		return ollama.New(ollama.Config{}), model, nil
	default:
		return nil, "", thinkerr.New(thinkerr.CodeConfig, fmt.Sprintf("unknown provider %q", cfg.Provider))
	}
}

// selectModule selects the configured module from the registry,
// defaulting to the built-in one.
func (c *core) selectModule() (*module.Module, error) {
	key := c.cfg.Module
	if key == "" {
		key = builtinmodule.Namespace + "/" + builtinmodule.Name
	}
	return c.modules.Get(key)
}

// newScheduler builds a Scheduler whose RunFunc constructs a fresh
// Tool Mediator and MachineContext per turn (spec §4.4 "Lifecycle
// scoped to a single turn", §4.10's RunFunc injection point).
func (c *core) newScheduler() (*scheduler.Scheduler, error) {
	mod, err := c.selectModule()
	if err != nil {
		return nil, err
	}

	run := func(ctx context.Context, sessionID string, t thread.Thread, selectedPlan *plan.Plan) (string, error) {
		mediator := c.newMediator(sessionID)
		if err := mediator.Start(ctx); err != nil {
			return "", err
		}
		defer mediator.Stop()

		if err := mediator.ValidateDependencies(mod.ToolDependencies); err != nil {
			return "", err
		}

		exec := c.newExecutor(sessionID, mod, mediator)

		ctx, span := c.telemetry.Tracer("thinksuit/cmd").Start(ctx, "turn")
		defer span.End()
		traceID, spanID := telemetry.IDs(span)

		strategy := "none"
		if selectedPlan != nil {
			strategy = string(selectedPlan.Strategy)
		}
		c.telemetry.ExecutionsStarted.WithLabelValues(strategy).Inc()

		mc := &statemachine.MachineContext{
			Module:            mod,
			DimensionPolicies: dimensionPolicies(c.cfg),
			DetectionProfile:  signal.Profile(firstNonEmpty(c.cfg.Policy.Perception.Profile, "balanced")),
			DetectionBudgetMs: c.cfg.Policy.Perception.BudgetMs,
			Executor:          exec,
			Journal:           c.journal,
			SessionID:         sessionID,
			TraceID:           traceID,
			ParentSpanID:      spanID,
			MaxDepth:          c.cfg.Policy.MaxDepth,
			MaxFanout:         c.cfg.Policy.MaxFanout,
		}

		out, err := statemachine.RunTurn(ctx, mc, t, selectedPlan)
		if err != nil {
			return "", err
		}
		result, _ := out["result"].(executor.Result)
		return result.Output, nil
	}

	resume := func(ctx context.Context, sessionID string) (string, error) {
		cp, ok, err := c.cp.Load(sessionID)
		if err != nil {
			return "", err
		}
		if !ok || cp.Plan == nil {
			return "", thinkerr.New(thinkerr.CodeInternal, "no resumable checkpoint for session "+sessionID)
		}

		mediator := c.newMediator(sessionID)
		if err := mediator.Start(ctx); err != nil {
			return "", err
		}
		defer mediator.Stop()

		if err := mediator.ValidateDependencies(mod.ToolDependencies); err != nil {
			return "", err
		}

		exec := c.newExecutor(sessionID, mod, mediator)

		ctx, span := c.telemetry.Tracer("thinksuit/cmd").Start(ctx, "turn.resume")
		defer span.End()
		c.telemetry.ExecutionsStarted.WithLabelValues(string(cp.Plan.Strategy)).Inc()

		result, err := exec.ResumeTask(ctx, cp.Plan, nil, cp)
		if err != nil {
			return "", err
		}
		return result.Output, nil
	}

	sched := scheduler.New(c.journal, c.sessions, run)
	sched.Resume = resume
	return sched, nil
}

// newExecutor builds the Plan Executor for one turn, shared by a fresh
// run and a resumed one (spec's checkpoint/resume supplement).
func (c *core) newExecutor(sessionID string, mod *module.Module, mediator *toolmediator.Mediator) *executor.Executor {
	return executor.New(executor.Deps{
		Providers:   c.providers,
		Mediator:    mediator,
		Module:      mod,
		Journal:     c.journal,
		SessionID:   sessionID,
		Checkpoints: c.cp,
		Model:       modelFor(c.cfg),
		MaxFanout:   c.cfg.Policy.MaxFanout,
		MaxDepth:    c.cfg.Policy.MaxDepth,
		MaxChildren: c.cfg.Policy.MaxChildren,
	})
}

func (c *core) newMediator(sessionID string) *toolmediator.Mediator {
	servers := make(map[string]toolmediator.ServerConfig, len(c.cfg.MCPServers))
	for name, s := range c.cfg.MCPServers {
		servers[name] = toolmediator.ServerConfig{Command: s.Command, Args: s.Args, Env: s.Env}
	}
	return toolmediator.New(toolmediator.Config{
		AllowedDirectories: c.cfg.AllowedDirectories,
		MCPServers:         servers,
		AllowedTools:       c.cfg.AllowedTools,
		AutoApproveTools:   c.cfg.AutoApproveTools,
		ApprovalTimeout:    c.cfg.Policy.ApprovalTimeoutMs,
		Warn: func(msg string) {
			c.journal.Append(sessionID, journal.Entry{Event: journal.EventMCPToolWarning, Msg: msg})
		},
	})
}

func dimensionPolicies(cfg *config.Config) map[string]signal.DimensionPolicy {
	if len(cfg.Policy.Perception.Dimensions) == 0 {
		return nil
	}
	out := make(map[string]signal.DimensionPolicy, len(cfg.Policy.Perception.Dimensions))
	for dim, p := range cfg.Policy.Perception.Dimensions {
		out[dim] = signal.DimensionPolicy{Enabled: p.Enabled, MinConfidence: p.MinConfidence}
	}
	return out
}

func modelFor(cfg *config.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	switch cfg.Provider {
	case "openai":
		return "gpt-4o"
	case "gemini":
		return "gemini-1.5-pro"
	case "ollama":
		return "llama3"
	default:
		return "claude-sonnet-4-20250514"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
