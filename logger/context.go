package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeyRunID identifies the workflow run.
	ContextKeyRunID contextKey = "run_id"

	// ContextKeyWorkflowID identifies the workflow document being executed.
	ContextKeyWorkflowID contextKey = "workflow_id"

	// ContextKeyStepKey identifies the step currently executing.
	ContextKeyStepKey contextKey = "step"

	// ContextKeyRound identifies the current round number.
	ContextKeyRound contextKey = "round"

	// ContextKeyRole identifies the agent role in use.
	ContextKeyRole contextKey = "role"
)

// allContextKeys lists all context keys that are extracted for logging.
var allContextKeys = []contextKey{
	ContextKeyRunID,
	ContextKeyWorkflowID,
	ContextKeyStepKey,
	ContextKeyRound,
	ContextKeyRole,
}

// WithRunID returns a new context with the run ID set.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithWorkflowID returns a new context with the workflow ID set.
func WithWorkflowID(ctx context.Context, workflowID string) context.Context {
	return context.WithValue(ctx, ContextKeyWorkflowID, workflowID)
}

// WithStepKey returns a new context with the step key set.
func WithStepKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, ContextKeyStepKey, key)
}

// WithRound returns a new context with the round number set.
func WithRound(ctx context.Context, round int) context.Context {
	return context.WithValue(ctx, ContextKeyRound, round)
}

// WithRole returns a new context with the agent role set.
func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(ctx, ContextKeyRole, role)
}

// ContextAttrs extracts all known logging fields from the context as slog
// attributes. Missing fields are skipped.
func ContextAttrs(ctx context.Context) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(allContextKeys))
	for _, key := range allContextKeys {
		if v := ctx.Value(key); v != nil {
			attrs = append(attrs, slog.Any(string(key), v))
		}
	}
	return attrs
}
