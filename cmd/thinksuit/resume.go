package main

import (
	"context"
	"fmt"

	"github.com/thinksuit/thinksuit/internal/config"
)

// ResumeCmd continues a previously checkpointed task strategy's tool
// loop, the CLI surface for the checkpoint/resume supplement's
// resumeTask entry point.
type ResumeCmd struct {
	SessionID string `arg:"" help:"Session whose checkpointed task to resume."`
	Provider  string `help:"LLM provider (anthropic, openai, gemini, ollama)."`
	Model     string `help:"Model name."`
	Module    string `help:"Module key (namespace/name); defaults to the built-in thinksuit/chat module."`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, err := loadConfig(&config.Config{
		Provider: c.Provider,
		Model:    c.Model,
		Module:   c.Module,
	})
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

	result, err := sched.ResumeSession(ctx, c.SessionID)
	if err != nil {
		return err
	}
	if !result.Scheduled {
		return fmt.Errorf("not resumed: %s", result.Reason)
	}

	output, err := result.Execution.Wait()
	if err != nil {
		return err
	}

	fmt.Println(output)
	return nil
}
