// Package logging provides the process-wide structured logger.
//
// Output is JSON on stdout unless LOG_FORMAT=text. LOG_LEVEL accepts
// debug, info, warn or error.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

var (
	level  = new(slog.LevelVar)
	logger = newLogger(os.Stdout, os.Getenv("LOG_FORMAT"))
)

func init() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
			logger.Warn("ignoring invalid LOG_LEVEL", "value", v)
		}
	}
}

func newLogger(w io.Writer, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Logger returns the underlying slog logger.
func Logger() *slog.Logger { return logger }

// SetOutput redirects log output. Tests use it to capture or silence logs.
func SetOutput(w io.Writer, format string) {
	logger = newLogger(w, format)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(l slog.Level) { level.Set(l) }

func Debug(msg string, args ...any) { logger.Debug(msg, args...) }
func Info(msg string, args ...any)  { logger.Info(msg, args...) }
func Warn(msg string, args ...any)  { logger.Warn(msg, args...) }
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// With returns a child logger carrying the given attributes.
func With(args ...any) *slog.Logger { return logger.With(args...) }
