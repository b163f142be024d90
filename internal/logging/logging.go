// Package logging wires the engine's structured logging onto
// github.com/joeycumines/logiface, backed by a standard log/slog
// handler via github.com/joeycumines/logiface-slog.
//
// It exists mainly to hide logiface's generic Logger[E]/Builder[E] type
// parameters behind a small, concrete interface the rest of the module
// can depend on without repeating the backend's event type everywhere.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the concrete logging handle used throughout the engine.
type Logger struct {
	inner *logiface.Logger[*logifaceslog.Event]
}

// New builds a Logger writing JSON lines to w at the given minimum level.
func New(w io.Writer, level logiface.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, nil)
	return &Logger{
		inner: logiface.New[*logifaceslog.Event](
			logifaceslog.NewLogger(handler),
			logiface.WithLevel[*logifaceslog.Event](level),
		),
	}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return New(io.Discard, logiface.LevelDisabled)
}

// ParseLevel maps a config string ("debug", "info", "warn"/"warning",
// "error") onto a logiface.Level, defaulting to Informational for an
// unrecognised value.
func ParseLevel(s string) logiface.Level {
	switch s {
	case "debug":
		return logiface.LevelDebug
	case "warn", "warning":
		return logiface.LevelWarning
	case "error":
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}

// NewFromConfig builds a Logger writing to w, in JSON (slog.JSONHandler)
// or text (slog.TextHandler) form, at the given level.
func NewFromConfig(w io.Writer, level logiface.Level, json bool) *Logger {
	if w == nil {
		w = os.Stderr
	}
	var handler slog.Handler
	if json {
		handler = slog.NewJSONHandler(w, nil)
	} else {
		handler = slog.NewTextHandler(w, nil)
	}
	return &Logger{
		inner: logiface.New[*logifaceslog.Event](
			logifaceslog.NewLogger(handler),
			logiface.WithLevel[*logifaceslog.Event](level),
		),
	}
}

func (l *Logger) build(level logiface.Level, fields map[string]any) *logiface.Builder[*logifaceslog.Event] {
	var b *logiface.Builder[*logifaceslog.Event]
	switch level {
	case logiface.LevelDebug, logiface.LevelTrace:
		b = l.inner.Debug()
	case logiface.LevelWarning, logiface.LevelNotice:
		b = l.inner.Warning()
	case logiface.LevelError, logiface.LevelCritical, logiface.LevelAlert, logiface.LevelEmergency:
		b = l.inner.Err()
	default:
		b = l.inner.Info()
	}
	for k, v := range fields {
		b = b.Any(k, v)
	}
	return b
}

func (l *Logger) Debug(msg string, fields map[string]any) {
	l.build(logiface.LevelDebug, fields).Log(msg)
}
func (l *Logger) Info(msg string, fields map[string]any) {
	l.build(logiface.LevelInformational, fields).Log(msg)
}
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.build(logiface.LevelWarning, fields).Log(msg)
}
func (l *Logger) Error(msg string, fields map[string]any) {
	l.build(logiface.LevelError, fields).Log(msg)
}
