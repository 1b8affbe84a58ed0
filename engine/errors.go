// Package engine executes validated workflow documents: it owns the
// step/round/transition state machine, the four step executors, per-role
// session management and the run harness.
package engine

import (
	"errors"
	"fmt"

	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// ErrCancelled is the terminal error of a cancelled run.
var ErrCancelled = errors.New("run cancelled")

// InputValidationError reports run inputs that fail the document's user
// schema, or a workflow step input failing its inputSchema.
type InputValidationError struct {
	WorkflowID string
	Err        error
}

// Error implements the error interface.
func (e *InputValidationError) Error() string {
	return fmt.Sprintf("Invalid user inputs for workflow %s: %v", e.WorkflowID, e.Err)
}

// Unwrap returns the underlying validation error.
func (e *InputValidationError) Unwrap() error { return e.Err }

// ParseError reports an agent reply that cannot be parsed against its
// role's parser.
type ParseError struct {
	StepKey string
	Role    string
	Raw     string
	Err     error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("step %q: cannot parse reply from role %q: %v", e.StepKey, e.Role, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error { return e.Err }

// CliError reports a process spawn failure. Non-zero exits are not errors;
// they surface as data in the step result.
type CliError struct {
	StepKey string
	Command string
	Err     error
}

// Error implements the error interface.
func (e *CliError) Error() string {
	return fmt.Sprintf("step %q: cannot run %q: %v", e.StepKey, e.Command, e.Err)
}

// Unwrap returns the underlying error.
func (e *CliError) Unwrap() error { return e.Err }

// UnknownWorkflowError reports a workflow step whose id is not in the
// run's registry.
type UnknownWorkflowError struct {
	StepKey    string
	WorkflowID string
}

// Error implements the error interface.
func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("step %q: unknown workflow %q", e.StepKey, e.WorkflowID)
}

// ChildWorkflowError reports an uncaught fatal failure in a child
// workflow run.
type ChildWorkflowError struct {
	StepKey    string
	WorkflowID string
	ChildRunID string
	Err        error
}

// Error implements the error interface.
func (e *ChildWorkflowError) Error() string {
	return fmt.Sprintf("step %q: child workflow %q (run %s) failed: %v",
		e.StepKey, e.WorkflowID, e.ChildRunID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChildWorkflowError) Unwrap() error { return e.Err }

// ProviderError reports a session provider failure.
type ProviderError struct {
	Role string
	Err  error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("session provider failed for role %q: %v", e.Role, e.Err)
	}
	return fmt.Sprintf("session provider failed: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error { return e.Err }

// errorClass names an error for the provenance terminal record. Callers
// pattern-match on error types; the class string is the audit-log form.
func errorClass(err error) string {
	var (
		schemaErr   *workflow.SchemaError
		inputErr    *InputValidationError
		templateErr *template.Error
		parseErr    *ParseError
		cliErr      *CliError
		unknownErr  *UnknownWorkflowError
		childErr    *ChildWorkflowError
		providerErr *ProviderError
	)
	switch {
	case errors.Is(err, ErrCancelled):
		return "CancelledError"
	case errors.As(err, &schemaErr):
		return "SchemaError"
	case errors.As(err, &inputErr):
		return "InputValidationError"
	case errors.As(err, &templateErr):
		return "TemplateError"
	case errors.As(err, &parseErr):
		return "ParseError"
	case errors.As(err, &cliErr):
		return "CliError"
	case errors.As(err, &unknownErr):
		return "UnknownWorkflowError"
	case errors.As(err, &childErr):
		return "ChildWorkflowError"
	case errors.As(err, &providerErr):
		return "ProviderError"
	default:
		return "Error"
	}
}
