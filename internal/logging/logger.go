// Package logging builds the go-ethereum structured logger used across the
// tool. Records go to stderr for the operator and are appended to
// .lattice/logs/lattice.log so failed runs can be inspected afterwards.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
)

// FileName is the log file inside the project's log directory.
const FileName = "lattice.log"

// Logger is a log.Logger that owns its log file.
type Logger struct {
	log.Logger
	file *os.File
}

// Options configure New.
type Options struct {
	// Level is the terminal level ("trace" through "crit"); the file always
	// records from debug up.
	Level string
	// Console receives terminal output; defaults to os.Stderr.
	Console io.Writer
}

// New creates (or reuses) the log file under logsDir and returns a logger
// writing to both destinations. An empty logsDir logs to the console only.
func New(logsDir string, opts Options) (*Logger, error) {
	level := slog.LevelInfo
	if opts.Level != "" {
		parsed, err := ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}
	handlers := []slog.Handler{
		log.NewTerminalHandlerWithLevel(console, level, useColor(console)),
	}
	l := &Logger{}
	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err != nil {
			return nil, fmt.Errorf("logging: ensure log dir: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(logsDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("logging: open log file: %w", err)
		}
		l.file = f
		handlers = append(handlers, log.LogfmtHandlerWithLevel(f, log.LevelDebug))
	}
	l.Logger = log.NewLogger(fanout(handlers))
	return l, nil
}

// ParseLevel maps a level name to its go-ethereum slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace", "trce":
		return log.LevelTrace, nil
	case "debug", "dbug":
		return log.LevelDebug, nil
	case "info":
		return log.LevelInfo, nil
	case "warn", "warning":
		return log.LevelWarn, nil
	case "error", "eror":
		return log.LevelError, nil
	case "crit", "critical":
		return log.LevelCrit, nil
	}
	return 0, fmt.Errorf("logging: unknown level %q", name)
}

// Close releases the file handle.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Discard returns a logger that drops every record.
func Discard() log.Logger {
	return log.NewLogger(log.DiscardHandler())
}

func useColor(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) && os.Getenv("NO_COLOR") == ""
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
