// Package logger provides structured logging for the runtime.
//
// It wraps log/slog with a process-wide default logger, LOG_LEVEL-based
// verbosity control, automatic credential redaction, and a structured helper
// for completion-service calls.
package logger

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// DefaultLogger is the global structured logger. Safe for concurrent use.
var DefaultLogger *slog.Logger

func init() {
	level := slog.LevelInfo
	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		switch strings.ToLower(envLevel) {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	DefaultLogger = slog.New(handler)
}

// SetLevel replaces the default logger with one at the given level.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	DefaultLogger = slog.New(handler)
}

// SetVerbose is a convenience wrapper for command-line verbose flags.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs at info level with key-value attributes.
func Info(msg string, args ...any) { DefaultLogger.Info(msg, args...) }

// InfoContext logs at info level with context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs at debug level.
func Debug(msg string, args ...any) { DefaultLogger.Debug(msg, args...) }

// DebugContext logs at debug level with context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs at warn level. Use for recoverable faults.
func Warn(msg string, args ...any) { DefaultLogger.Warn(msg, args...) }

// WarnContext logs at warn level with context.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) { DefaultLogger.Error(msg, args...) }

// ErrorContext logs at error level with context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// ProviderCall logs one completion-service call with shared fields.
// status is "ok" or "error"; extra attributes follow in key-value pairs.
func ProviderCall(provider, model string, messages int, status string, attrs ...any) {
	all := make([]any, 0, 8+len(attrs))
	all = append(all,
		"provider", provider,
		"model", model,
		"messages", messages,
		"status", status,
	)
	all = append(all, attrs...)
	if status == "error" {
		DefaultLogger.Warn("provider call", all...)
		return
	}
	DefaultLogger.Debug("provider call", all...)
}

// apiKeyPattern matches bearer-style secrets that must never reach logs.
var apiKeyPattern = regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9_-]{8,}|bearer\s+[a-zA-Z0-9._-]{8,})`)

// Redact masks credential-shaped substrings in s.
func Redact(s string) string {
	return apiKeyPattern.ReplaceAllString(s, "[REDACTED]")
}
