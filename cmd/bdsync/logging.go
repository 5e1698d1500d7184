package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/bdsync/internal/config"
)

// setupLogging builds the process logger: human-readable text on stderr
// (warnings only unless --verbose) plus an optional rotating JSON log file
// at log.file.
func setupLogging() error {
	stderrLevel := slog.LevelWarn
	switch {
	case verboseFlag:
		stderrLevel = slog.LevelDebug
	case quietFlag:
		stderrLevel = slog.LevelError
	}
	handlers := []slog.Handler{
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: stderrLevel}),
	}
	closeLogger = func() error { return nil }

	if path := config.GetString("log.file"); path != "" {
		level, err := parseLevel(config.GetString("log.level"))
		if err != nil {
			return usageError("log.level: %v", err)
		}
		w := &lumberjack.Logger{
			Filename:   config.ResolvePath(path),
			MaxSize:    config.GetInt("log.max_size_mb"),
			MaxBackups: config.GetInt("log.max_backups"),
			MaxAge:     config.GetInt("log.max_age_days"),
			Compress:   true,
		}
		handlers = append(handlers, slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
		closeLogger = w.Close
	}

	logger = slog.New(fanout(handlers))
	slog.SetDefault(logger)
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("unknown level %q", s)
	}
	return l, nil
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
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
