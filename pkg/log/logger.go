// Package log provides logging routines based on slog package.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

func setLogger(level LogLevel, json bool, w io.Writer) {
	replace := func(groups []string, a slog.Attr) slog.Attr {
		// Remove the directory from the source's filename.
		if a.Key == slog.SourceKey {
			if s, ok := a.Value.Any().(*slog.Source); ok {
				s.File = filepath.Base(s.File)
			}
		}
		return a
	}
	opts := &slog.HandlerOptions{
		AddSource:   true,
		Level:       level,
		ReplaceAttr: replace,
	}
	logger := slog.New(slog.NewTextHandler(w, opts))
	if json {
		logger = slog.New(slog.NewJSONHandler(w, opts))
	}
	slog.SetDefault(logger)
}

type LogLevel = slog.Level

const (
	DebugLevel = slog.LevelDebug
	InfoLevel  = slog.LevelInfo
	WarnLevel  = slog.LevelWarn
	ErrorLevel = slog.LevelError
)

// Option is a logger option.
type Option func(*options)

type options struct {
	level LogLevel
	json  bool
	w     io.Writer
}

func defaultOptions() *options {
	return &options{
		level: InfoLevel,
		json:  false,
		w:     os.Stderr,
	}
}

// WithDevMode sets the logger to development mode: human-readable format at
// DebugLevel.
func WithDevMode() Option {
	return func(o *options) {
		o.json = false
		o.level = DebugLevel
	}
}

// WithLevel sets the log level.
// The default log level is InfoLevel.
func WithLevel(level LogLevel) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithLevelString sets the log level from its name ("debug", "info",
// "warn", "error"); unknown names fall back to InfoLevel.
func WithLevelString(level string) Option {
	return func(o *options) {
		switch strings.ToLower(level) {
		case "debug":
			o.level = DebugLevel
		case "warn":
			o.level = WarnLevel
		case "error":
			o.level = ErrorLevel
		default:
			o.level = InfoLevel
		}
	}
}

// WithJSON switches to JSON output.
func WithJSON() Option {
	return func(o *options) {
		o.json = true
	}
}

// WithWriter sets the log destination. The default is stderr.
func WithWriter(w io.Writer) Option {
	return func(o *options) {
		o.w = w
	}
}

// Init initializes the default logger.
func Init(opts ...Option) {
	sOpts := defaultOptions()
	for _, opt := range opts {
		opt(sOpts)
	}
	setLogger(sOpts.level, sOpts.json, sOpts.w)
}

func Disable() {
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func logf(level slog.Level, format string, args ...any) {
	ctx := context.Background()
	logger := slog.Default()
	if !logger.Enabled(ctx, level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:]) // skip [Callers, logf, Infof]
	r := slog.NewRecord(time.Now(), level, fmt.Sprintf(format, args...), pcs[0])
	_ = logger.Handler().Handle(ctx, r)
}

// Debugf logs a debug message.
func Debugf(format string, args ...any) {
	logf(slog.LevelDebug, format, args...)
}

// Infof logs an info message.
func Infof(format string, args ...any) {
	logf(slog.LevelInfo, format, args...)
}

// Warnf logs a warning message.
func Warnf(format string, args ...any) {
	logf(slog.LevelWarn, format, args...)
}

// Errorf logs an error message.
func Errorf(format string, args ...any) {
	logf(slog.LevelError, format, args...)
}

// Fatalf logs a fatal message and exits.
func Fatalf(format string, args ...any) {
	logf(slog.LevelError, format, args...)
	os.Exit(1)
}
