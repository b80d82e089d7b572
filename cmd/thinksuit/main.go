// Command thinksuit is the CLI for the thinksuit orchestration core.
//
// Usage:
//
//	thinksuit schedule "hi"
//	thinksuit serve
//	thinksuit validate
//
// Grounded on cmd/hector/main.go's kong CLI struct, trimmed of the
// teacher's RAG/Studio/embedder/storage-backend flags (SPEC_FULL.md's
// CLI supplement). Configuration resolves CLI > config file > env >
// defaults (see loadConfig).
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/thinksuit/thinksuit/internal/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Run the scheduler, ready to accept turns, until interrupted."`
	Schedule ScheduleCmd `cmd:"" help:"Run one turn to completion and print the response."`
	Resume   ResumeCmd   `cmd:"" help:"Resume a previously checkpointed task strategy."`
	Validate ValidateCmd `cmd:"" help:"Validate a module's structure."`

	Config    string `short:"c" help:"Path to config file (defaults to ~/.thinksuit.json)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (json or pretty)." default:"pretty"`
}

// VersionCmd prints build version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("thinksuit dev")
	return nil
}

func main() {
	cli := CLI{}
	kctx := kong.Parse(&cli,
		kong.Name("thinksuit"),
		kong.Description("thinksuit - LLM orchestration engine"),
		kong.UsageOnError(),
	)

	_, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	if cli.Config != "" {
		os.Setenv("THINKSUIT_CONFIG", cli.Config)
	}

	err = kctx.Run(&cli)
	kctx.FatalIfErrorf(err)
}

// loadConfig resolves the shared Config for every subcommand, layering
// cliOverrides (spec §3 "Resolution order... CLI args -> config file
// -> environment variables -> defaults").
func loadConfig(cliOverrides *config.Config) (*config.Config, error) {
	return config.Load(cliOverrides)
}
