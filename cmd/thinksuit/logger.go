package main

import (
	"log/slog"
	"os"

	"github.com/thinksuit/thinksuit/internal/logging"
)

// initLoggerFromCLI resolves the process-wide slog.Logger from CLI
// flags, ahead of config-file loading, mirroring cmd/hector/logger.go's
// CLI-first logger bootstrap so early startup errors are still logged
// in the requested format.
func initLoggerFromCLI(level, file, format string) (*slog.Logger, func(), error) {
	var out *os.File = os.Stderr
	var cleanup func()

	if file != "" {
		f, closeFn, err := logging.OpenLogFile(file)
		if err != nil {
			return nil, nil, err
		}
		out = f
		cleanup = closeFn
	}

	logger := logging.Init(logging.ParseLevel(level), false, format, out)
	slog.SetDefault(logger)
	return logger, cleanup, nil
}
