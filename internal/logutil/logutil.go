// Package logutil builds the process logger and holds small slog helpers
// shared by commands.
package logutil

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Format selects the slog handler.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseLevel accepts debug, info, warn/warning and error, case-insensitively.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New returns a logger writing to w in format at level.
func New(w io.Writer, format Format, level slog.Level) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch Format(strings.ToLower(string(format))) {
	case FormatJSON:
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case FormatText, "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

// NewTimingLogger returns a closure that logs msg at debug level with the
// time elapsed since start.
func NewTimingLogger(logger *slog.Logger, start time.Time, msg string, fields ...any) func() {
	return func() {
		logger.Debug(msg, append(fields, "duration", time.Since(start).String())...)
	}
}

// LogAndWrapErr logs err at error level and returns it wrapped with msg.
func LogAndWrapErr(logger *slog.Logger, msg string, err error, fields ...any) error {
	if err == nil {
		return nil
	}
	logger.Error(msg, append(fields, "err", err)...)
	return fmt.Errorf("%s: %w", msg, err)
}
