package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thinksuit/thinksuit/internal/config"
	"github.com/thinksuit/thinksuit/internal/scheduler"
)

// ScheduleCmd runs one turn to completion and prints the response,
// the CLI surface for the e2e scenarios in spec §8 and for scripting.
type ScheduleCmd struct {
	Input           string `arg:"" help:"The user turn's input text."`
	SessionID       string `help:"Resume an existing session instead of starting a new one."`
	SourceSessionID string `name:"source-session-id" help:"Fork from another session's log instead of resuming/starting fresh."`
	ForkFromIndex   int    `name:"fork-from-index" help:"Entry index (exclusive upper bound) to fork from." default:"-1"`
	Provider        string `help:"LLM provider (anthropic, openai, gemini, ollama)."`
	Model           string `help:"Model name."`
	Module          string `help:"Module key (namespace/name); defaults to the built-in thinksuit/chat module."`
}

func (c *ScheduleCmd) Run(cli *CLI) error {
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

	forkFromIndex := c.ForkFromIndex
	if c.SourceSessionID == "" {
		forkFromIndex = -1
	}

	result, err := sched.Schedule(ctx, scheduler.Request{
		Input:           c.Input,
		SessionID:       c.SessionID,
		SourceSessionID: c.SourceSessionID,
		ForkFromIndex:   forkFromIndex,
	})
	if err != nil {
		return err
	}
	if !result.Scheduled {
		return fmt.Errorf("not scheduled: %s", result.Reason)
	}

	slog.Info("turn scheduled", "sessionId", result.SessionID, "isNew", result.IsNew)

	output, err := result.Execution.Wait()
	if err != nil {
		return err
	}

	fmt.Println(output)
	return nil
}
