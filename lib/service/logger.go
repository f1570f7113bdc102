// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the standard service logger: a JSON handler
// writing to stderr at Info level. It also becomes the slog default
// so that library code calling slog.Info shares the handler.
func NewLogger() *slog.Logger {
	logger := NewLoggerTo(os.Stderr, slog.LevelInfo)
	slog.SetDefault(logger)
	return logger
}

// NewLoggerTo builds a JSON logger on writer at level without touching
// the slog default.
func NewLoggerTo(writer io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{
		Level: level,
	}))
}

// ParseLevel maps "debug", "info", "warn" and "error" to slog levels.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}
