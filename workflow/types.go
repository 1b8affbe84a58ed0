// Package workflow defines the declarative multi-agent workflow document
// model and its validation.
//
// A workflow document describes a set of roles (LLM personas with system
// prompts and response parsers), a shared key/value state bag, and a flow
// consisting of an optional bootstrap step plus a repeating round of
// ordered steps. Steps advance through transitions evaluated over parsed
// results; transitions update shared state, loop, or terminate the run
// with a labeled outcome.
package workflow

import (
	"github.com/hyperagent/hyperagent/schema"
)

// Document is a workflow definition. It is immutable once validated.
type Document struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`

	// Model is the default model for agent steps; individual runs may
	// override it.
	Model string `json:"model,omitempty"`

	Sessions Sessions                  `json:"sessions,omitzero"`
	Parsers  map[string]*schema.Schema `json:"parsers,omitempty"`
	Roles    map[string]*Role          `json:"roles,omitempty"`

	// User describes the run inputs accepted by the harness.
	User map[string]*schema.Schema `json:"user,omitempty"`

	State *State `json:"state,omitempty"`
	Flow  Flow   `json:"flow"`
}

// Sessions declares the sessions created at run start.
type Sessions struct {
	Roles []SessionRole `json:"roles,omitempty"`
}

// SessionRole binds a role to a provider session. NameTemplate, when set,
// renders to a stable session name (scope: {runId}); a session with that
// name is reused if the provider already has one.
type SessionRole struct {
	Role         string `json:"role"`
	NameTemplate string `json:"nameTemplate,omitempty"`
}

// Role is an LLM persona used by agent steps.
type Role struct {
	SystemPrompt string `json:"systemPrompt"`

	// Parser must key into Document.Parsers.
	Parser string `json:"parser"`

	// Tools holds tool permission flags; omitted keys default to false.
	Tools map[string]bool `json:"tools,omitempty"`
}

// State declares the initial shared state bag. Values are template strings
// rendered once at run start.
type State struct {
	Initial map[string]string `json:"initial,omitempty"`
}

// Flow is the control structure of a workflow: an optional bootstrap step
// followed by a repeating round.
type Flow struct {
	Bootstrap *Step `json:"bootstrap,omitempty"`
	Round     Round `json:"round"`
}

// Round is one ordered pass through the step list.
type Round struct {
	// Start is the key of the first step of each round; defaults to the
	// first step in Steps.
	Start string `json:"start,omitempty"`

	Steps     []*Step `json:"steps"`
	MaxRounds int     `json:"maxRounds"`

	// DefaultOutcome terminates the run when MaxRounds is exhausted.
	DefaultOutcome Outcome `json:"defaultOutcome"`
}

// Outcome is a terminal result label. Reason is a template string rendered
// against the scope at termination.
type Outcome struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// StepType discriminates the step variants.
type StepType string

// Step types.
const (
	StepAgent     StepType = "agent"
	StepCli       StepType = "cli"
	StepWorkflow  StepType = "workflow"
	StepTransform StepType = "transform"
)

// Step is a unit of work within a round. Exactly one of the kind-specific
// configs must be set, matching Type.
type Step struct {
	Key  string   `json:"key"`
	Type StepType `json:"type"`

	// Next names the step to run after this one when no transition fires;
	// empty means the following step in document order.
	Next string `json:"next,omitempty"`

	// StateUpdates are template strings rendered against the scope extended
	// with this step's parsed result, then written to the state bag.
	StateUpdates map[string]string `json:"stateUpdates,omitempty"`

	// Transitions are evaluated in order after the step completes; the
	// first match fires. Transitions precede Exits.
	Transitions []*Transition `json:"transitions,omitempty"`

	// Exits are terminal transitions evaluated when no transition fired.
	Exits []*Transition `json:"exits,omitempty"`

	Agent     *AgentStep     `json:"agent,omitempty"`
	Cli       *CliStep       `json:"cli,omitempty"`
	Workflow  *WorkflowStep  `json:"workflow,omitempty"`
	Transform *TransformStep `json:"transform,omitempty"`
}

// AgentStep sends rendered prompts to the role's session.
type AgentStep struct {
	Role   string   `json:"role"`
	Prompt []string `json:"prompt"`
}

// CaptureMode selects how CLI output is captured.
type CaptureMode string

// Capture modes. Text decodes stdout/stderr as UTF-8 strings, Buffer keeps
// raw bytes, Both does both.
const (
	CaptureText   CaptureMode = "text"
	CaptureBuffer CaptureMode = "buffer"
	CaptureBoth   CaptureMode = "both"
)

// CliStep invokes an external command.
//
// Args values are template strings. When ArgsObject is used instead, argv
// is built from the rendered values in lexicographic key order; ArgsSchema
// (when present) validates and coerces the object before stringification.
type CliStep struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	ArgsObject map[string]string `json:"argsObject,omitempty"`
	ArgsSchema *schema.Schema    `json:"argsSchema,omitempty"`
	Cwd        string            `json:"cwd,omitempty"`

	// StdinFrom is a scope path; string values are piped as UTF-8, byte
	// buffers are piped unchanged.
	StdinFrom string `json:"stdinFrom,omitempty"`

	// Capture defaults to text.
	Capture CaptureMode `json:"capture,omitempty"`
}

// WorkflowStep invokes another workflow by id and awaits its completion.
type WorkflowStep struct {
	WorkflowID  string         `json:"workflowId"`
	Input       map[string]any `json:"input,omitempty"`
	InputSchema *schema.Schema `json:"inputSchema,omitempty"`
}

// TransformStep reshapes data between steps by rendering Template over the
// scope, optionally augmented with a validated Input.
type TransformStep struct {
	Template    any            `json:"template"`
	Input       any            `json:"input,omitempty"`
	InputSchema *schema.Schema `json:"inputSchema,omitempty"`
}

// Transition is a conditional branch after a step. A firing transition
// applies StateUpdates, then terminates the run when Outcome is set, jumps
// to Next when set, or falls through otherwise.
type Transition struct {
	Condition    *Condition        `json:"condition"`
	Outcome      string            `json:"outcome,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	StateUpdates map[string]string `json:"stateUpdates,omitempty"`
	Next         string            `json:"next,omitempty"`
}

// Config returns the kind-specific config for the step's declared type, or
// nil when it is missing.
func (s *Step) Config() any {
	switch s.Type {
	case StepAgent:
		if s.Agent != nil {
			return s.Agent
		}
	case StepCli:
		if s.Cli != nil {
			return s.Cli
		}
	case StepWorkflow:
		if s.Workflow != nil {
			return s.Workflow
		}
	case StepTransform:
		if s.Transform != nil {
			return s.Transform
		}
	}
	return nil
}

// StepByKey returns the round step with the given key, or nil.
func (r *Round) StepByKey(key string) *Step {
	for _, step := range r.Steps {
		if step.Key == key {
			return step
		}
	}
	return nil
}

// FirstStep returns the step a round begins with: Start when set, else the
// first listed step.
func (r *Round) FirstStep() *Step {
	if r.Start != "" {
		return r.StepByKey(r.Start)
	}
	if len(r.Steps) == 0 {
		return nil
	}
	return r.Steps[0]
}

// StepAfter returns the step following the given key in document order, or
// nil when it is the last.
func (r *Round) StepAfter(key string) *Step {
	for i, step := range r.Steps {
		if step.Key == key && i+1 < len(r.Steps) {
			return r.Steps[i+1]
		}
	}
	return nil
}
