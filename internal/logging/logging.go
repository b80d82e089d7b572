// Package logging initializes the process-wide structured logger
// (ambient stack, spec §6 "logging.{level,silent,format}").
//
// Grounded on pkg/logger/logger.go's ParseLevel/Init shape, trimmed to
// the spec's two recognized formats (json, pretty) instead of the
// teacher's simple/verbose/custom trio, and with a Silent mode (the
// teacher has no equivalent; it maps directly onto log/slog's
// io.Discard writer).
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel converts a string log level to slog.Level, defaulting to
// Info for an unrecognized value (grounded on logger.ParseLevel).
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactKeys never appear in emitted log records, even if a caller
// accidentally attaches them as attributes (spec §3 "Sensitive fields
// (API keys) are never logged").
var redactKeys = map[string]bool{
	"apiKey":        true,
	"api_key":       true,
	"authorization": true,
}

type redactingHandler struct {
	slog.Handler
}

func (h *redactingHandler) Handle(ctx context.Context, record slog.Record) error {
	var kept []slog.Attr
	record.Attrs(func(a slog.Attr) bool {
		if redactKeys[a.Key] {
			kept = append(kept, slog.String(a.Key, "********"))
		} else {
			kept = append(kept, a)
		}
		return true
	})
	out := slog.NewRecord(record.Time, record.Level, record.Message, record.PC)
	out.Add(attrsToAny(kept)...)
	return h.Handler.Handle(ctx, out)
}

func (h *redactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &redactingHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *redactingHandler) WithGroup(name string) slog.Handler {
	return &redactingHandler{Handler: h.Handler.WithGroup(name)}
}

func attrsToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

// Init builds and installs the process-wide default logger per the
// spec's logging.{level,silent,format} options. format="json" uses
// slog.NewJSONHandler; anything else ("pretty" or unset) uses
// slog.NewTextHandler, without color and without terminal detection.
func Init(level slog.Level, silent bool, format string, output *os.File) *slog.Logger {
	var w io.Writer = output
	if silent {
		w = io.Discard
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(&redactingHandler{Handler: handler})
	slog.SetDefault(logger)
	return logger
}

// OpenLogFile opens or creates a log file for append, mirroring
// logger.OpenLogFile.
func OpenLogFile(path string) (*os.File, func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
