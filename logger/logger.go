// Package logger provides structured logging for the workflow runtime.
//
// This package wraps Go's standard log/slog with convenience functions for:
//   - Run lifecycle logging (start, termination, cancellation)
//   - Agent turn and CLI invocation logging
//   - Contextual logging with run/step tracing
//   - Level-based verbosity control
//
// All exported functions use the global DefaultLogger which can be configured
// for different output formats and log levels.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// DefaultLogger is the global structured logger instance.
// It is safe for concurrent use and initialized with slog.LevelInfo by default.
var DefaultLogger *slog.Logger

func init() {
	// Check LOG_LEVEL environment variable
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

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetLevel changes the logging level for all subsequent log operations by
// replacing the global DefaultLogger. The replacement is not synchronized
// with logging calls running on other goroutines.
func SetLevel(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	DefaultLogger = slog.New(handler)
}

// SetVerbose enables debug-level logging when verbose is true, otherwise sets info-level.
func SetVerbose(verbose bool) {
	if verbose {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

// Info logs an informational message with structured key-value attributes.
// Args should be provided in key-value pairs: key1, value1, key2, value2, ...
func Info(msg string, args ...any) {
	DefaultLogger.Info(msg, args...)
}

// InfoContext logs an informational message with context and structured attributes.
func InfoContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.InfoContext(ctx, msg, args...)
}

// Debug logs a debug-level message with structured attributes.
// Debug messages are only output when the log level is set to LevelDebug or lower.
func Debug(msg string, args ...any) {
	DefaultLogger.Debug(msg, args...)
}

// DebugContext logs a debug message with context and structured attributes.
func DebugContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.DebugContext(ctx, msg, args...)
}

// Warn logs a warning message with structured attributes.
// Use for recoverable errors or unexpected but non-critical situations.
func Warn(msg string, args ...any) {
	DefaultLogger.Warn(msg, args...)
}

// WarnContext logs a warning message with context and structured attributes.
func WarnContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.WarnContext(ctx, msg, args...)
}

// Error logs an error message with structured attributes.
func Error(msg string, args ...any) {
	DefaultLogger.Error(msg, args...)
}

// ErrorContext logs an error message with context and structured attributes.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	DefaultLogger.ErrorContext(ctx, msg, args...)
}

// RunEvent logs a run lifecycle event with structured fields.
// Additional attributes can be passed as key-value pairs after the required parameters.
func RunEvent(event, runID, workflowID string, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"event", event,
		"run_id", runID,
		"workflow", workflowID,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("workflow run event", allAttrs...)
}

// AgentTurn logs an agent step turn with the session and part count.
func AgentTurn(runID, role, sessionID string, parts int, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"run_id", runID,
		"role", role,
		"session_id", sessionID,
		"parts", parts,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("agent turn", allAttrs...)
}

// CliInvocation logs a CLI step invocation with its exit code.
func CliInvocation(runID, stepKey, command string, exitCode int, attrs ...any) {
	allAttrs := make([]any, 0, 8+len(attrs))
	allAttrs = append(allAttrs,
		"run_id", runID,
		"step", stepKey,
		"command", command,
		"exit_code", exitCode,
	)
	allAttrs = append(allAttrs, attrs...)
	Info("cli invocation", allAttrs...)
}

// StepError logs a fatal step failure.
func StepError(runID, stepKey string, err error, attrs ...any) {
	allAttrs := make([]any, 0, 6+len(attrs))
	allAttrs = append(allAttrs,
		"run_id", runID,
		"step", stepKey,
		"error", err,
	)
	allAttrs = append(allAttrs, attrs...)
	Error("step failed", allAttrs...)
}
