package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/thinksuit/thinksuit/internal/config"
)

// ServeCmd runs the scheduler as a long-lived process, ready to accept
// turns, until interrupted. Spec §1 treats the web console UI, the
// terminal REPL, and the terminal-websocket bridge as external
// collaborators that consume the core's in-process capabilities over
// whatever wire protocol they choose (§6 "the wire shapes are the
// collaborator's concern, not the core's"); this command's job is only
// to keep the scheduler, journal, and provider registry alive for
// such a collaborator to drive, not to speak a wire protocol itself.
type ServeCmd struct {
	Provider string `help:"LLM provider (anthropic, openai, gemini, ollama)."`
	Model    string `help:"Model name."`
	Module   string `help:"Module key (namespace/name); defaults to the built-in thinksuit/chat module."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	cfg, err := loadConfig(&config.Config{Provider: c.Provider, Model: c.Model, Module: c.Module})
	if err != nil {
		return err
	}

	co, err := buildCore(ctx, cfg)
	if err != nil {
		return err
	}

	sched, err := co.newScheduler()
	if err != nil {
		return err
	}
	_ = sched // held alive for an embedding collaborator to drive via Schedule/Interrupt/Subscribe

	slog.Info("thinksuit ready",
		"provider", cfg.Provider,
		"sessionStreamDir", config.SessionStreamDir(),
		"sessionMetadataDir", config.SessionMetadataDir(),
	)

	<-ctx.Done()
	slog.Info("stopped")
	return co.telemetry.Shutdown(context.Background())
}
