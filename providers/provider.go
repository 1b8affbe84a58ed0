// Package providers defines the collaborator interfaces the workflow
// orchestrator consumes, plus the implementations the module ships:
// an os/exec process runner and a scripted mock session provider.
//
// The LLM provider itself is external; the orchestrator only depends on
// the SessionProvider contract. Implementations must be safe for
// concurrent use, since the provider is shared across runs.
package providers

import (
	"context"
	"errors"
	"time"
)

// EnvProviderPort optionally overrides the port a networked session
// provider listens on. Consumed by provider implementations, documented
// here for completeness.
const EnvProviderPort = "HYPERAGENT_PROVIDER_PORT"

// KnownTools lists the recognized tool permission keys. Omitted keys
// default to false.
var KnownTools = []string{
	"read", "write", "edit", "bash", "grep", "glob", "list",
	"patch", "todowrite", "todoread", "webfetch",
}

// ToolPermissions maps tool keys to grant flags.
type ToolPermissions map[string]bool

// Part is one element of a prompt or reply. Only text parts are defined by
// the core; providers may introduce further types.
type Part struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: "text", Text: text}
}

// LastText returns the final text part of a reply, and whether one exists.
func LastText(parts []Part) (string, bool) {
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i].Type == "text" {
			return parts[i].Text, true
		}
	}
	return "", false
}

// SessionInfo identifies a provider session.
type SessionInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// CreateSessionOptions configures session creation.
type CreateSessionOptions struct {
	// Name, when set, asks the provider for a stable named session that
	// survives the run and may be reused by later runs.
	Name string
}

// PromptResult is the provider's reply to one prompt.
type PromptResult struct {
	Parts []Part

	// MessageID identifies the reply for MessageDiff lookups.
	MessageID string
}

// SessionProvider is the LLM collaborator boundary. The orchestrator
// creates or reuses sessions per role and exchanges prompts over them.
type SessionProvider interface {
	// CreateSession opens a session rooted at dir.
	CreateSession(ctx context.Context, dir string, opts CreateSessionOptions) (SessionInfo, error)

	// ListSessions returns the provider's sessions for dir.
	ListSessions(ctx context.Context, dir string) ([]SessionInfo, error)

	// Prompt sends parts in order and returns the reply. Cancellation is
	// signaled through ctx.
	Prompt(ctx context.Context, session SessionInfo, parts []Part, model, agentName string) (*PromptResult, error)

	// MessageDiff returns the file diff attached to a reply message.
	MessageDiff(ctx context.Context, session SessionInfo, messageID string) (string, error)

	// RegisterAgentDefinition publishes a role definition (system prompt,
	// model, tool permissions) under dir. Callers must Invalidate(dir)
	// afterwards so cached session state picks up the new definition.
	RegisterAgentDefinition(ctx context.Context, dir, name, model, systemPrompt string, tools ToolPermissions) error

	// Invalidate drops any cached state for dir.
	Invalidate(dir string)
}

// CaptureMode selects how process output is captured.
type CaptureMode string

// Capture modes.
const (
	CaptureText   CaptureMode = "text"
	CaptureBuffer CaptureMode = "buffer"
	CaptureBoth   CaptureMode = "both"
)

// ProcessRequest describes one subprocess invocation. Stdin, when non-nil,
// is written to the child in full before stdout is read to completion.
type ProcessRequest struct {
	Command string
	Args    []string
	Cwd     string
	Stdin   []byte
	Capture CaptureMode
}

// ProcessResult is the captured outcome of a subprocess. A non-zero
// ExitCode is data, not an error.
type ProcessResult struct {
	Stdout       string
	Stderr       string
	StdoutBuffer []byte
	StderrBuffer []byte
	ExitCode     int
}

// ProcessRunner spawns a process and waits for it. Spawn failures return an
// error; non-zero exits return a result.
type ProcessRunner func(ctx context.Context, req ProcessRequest) (*ProcessResult, error)

// DefaultGracePeriod is how long a cancelled process gets between SIGTERM
// and SIGKILL.
const DefaultGracePeriod = 5 * time.Second

// ErrNoSession is returned by providers when a prompt references a session
// they do not know.
var ErrNoSession = errors.New("providers: unknown session")
