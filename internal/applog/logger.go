// Package applog configures the daemon's structured logger: a
// colorized tint handler on stdout and, when a log file path is given,
// a plain text handler for that file, so the console stays readable
// while the file remains grep-friendly.
package applog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
)

var Log *slog.Logger

// Init initializes the global logger. When logFile is empty, output
// goes only to stdout via the colorized tint handler. When logFile is
// set, stdout stays colorized and the file receives a plain,
// RFC3339-timestamped text stream.
func Init(level string, logFile string) error {
	logLevel := parseLevel(level)

	consoleHandler := tint.NewHandler(epipeSafeWriter{os.Stdout}, &tint.Options{
		Level:      logLevel,
		TimeFormat: time.Kitchen,
	})

	if logFile == "" {
		Log = slog.New(consoleHandler)
		slog.SetDefault(Log)
		return nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	fileHandler := slog.NewTextHandler(f, &slog.HandlerOptions{
		Level: logLevel,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	})

	Log = slog.New(fanoutHandler{consoleHandler, fileHandler})
	slog.SetDefault(Log)
	return nil
}

// epipeSafeWriter swallows EPIPE on stdio: the front-end that spawned
// the daemon may close its end of the pipe at any time, and a log line
// must never take the daemon down with it.
type epipeSafeWriter struct {
	w io.Writer
}

func (e epipeSafeWriter) Write(p []byte) (int, error) {
	n, err := e.w.Write(p)
	if err != nil && errors.Is(err, syscall.EPIPE) {
		return len(p), nil
	}
	return n, err
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler dispatches every record to each wrapped handler in
// turn, returning the first error encountered.
type fanoutHandler []slog.Handler

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithAttrs(attrs)
	}
	return next
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make(fanoutHandler, len(f))
	for i, h := range f {
		next[i] = h.WithGroup(name)
	}
	return next
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }
