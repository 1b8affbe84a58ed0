package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hyperagent/hyperagent/schema"
)

// SchemaError reports an invalid workflow document. It accumulates every
// problem found so authors can fix a document in one pass.
type SchemaError struct {
	WorkflowID string
	Problems   []string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid workflow %q: %s", e.WorkflowID, strings.Join(e.Problems, "; "))
}

type validation struct {
	doc      *Document
	problems []string
}

func (v *validation) errorf(format string, args ...any) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

// Validate performs structural and referential validation of a document.
// It returns the document unchanged on success and a *SchemaError listing
// every problem otherwise.
func Validate(doc *Document) (*Document, error) {
	v := &validation{doc: doc}

	if doc.ID == "" {
		v.errorf("id must be set")
	}
	if len(doc.Roles) == 0 && hasAgentSteps(doc) {
		v.errorf("roles must be non-empty when agent steps are declared")
	}

	v.validateParsers()
	v.validateRoles()
	v.validateUser()
	v.validateSessions()
	v.validateFlow()

	if len(v.problems) > 0 {
		return nil, &SchemaError{WorkflowID: doc.ID, Problems: v.problems}
	}
	return doc, nil
}

func hasAgentSteps(doc *Document) bool {
	for _, step := range doc.Flow.Round.Steps {
		if step.Type == StepAgent {
			return true
		}
	}
	return doc.Flow.Bootstrap != nil && doc.Flow.Bootstrap.Type == StepAgent
}

func (v *validation) validateParsers() {
	for name, s := range v.doc.Parsers {
		if _, err := schema.Compile(s); err != nil {
			v.errorf("parsers[%q]: %v", name, err)
		}
	}
}

func (v *validation) validateRoles() {
	for name, role := range v.doc.Roles {
		if role == nil {
			v.errorf("roles[%q] must not be null", name)
			continue
		}
		if role.Parser == "" {
			v.errorf("roles[%q].parser must be set", name)
			continue
		}
		if _, ok := v.doc.Parsers[role.Parser]; !ok {
			v.errorf("roles[%q].parser %q does not reference a parser", name, role.Parser)
		}
	}
}

func (v *validation) validateUser() {
	for key, s := range v.doc.User {
		if _, err := schema.Compile(s); err != nil {
			v.errorf("user[%q]: %v", key, err)
		}
	}
}

func (v *validation) validateSessions() {
	for i, entry := range v.doc.Sessions.Roles {
		if entry.Role == "" {
			v.errorf("sessions.roles[%d].role must be set", i)
			continue
		}
		if _, ok := v.doc.Roles[entry.Role]; !ok {
			v.errorf("sessions.roles[%d] references unknown role %q", i, entry.Role)
		}
	}
}

func (v *validation) validateFlow() {
	round := &v.doc.Flow.Round

	if len(round.Steps) == 0 {
		v.errorf("flow.round.steps must be non-empty")
		return
	}
	if round.MaxRounds < 1 {
		v.errorf("flow.round.maxRounds must be at least 1, got %d", round.MaxRounds)
	}
	if round.DefaultOutcome.Outcome == "" {
		v.errorf("flow.round.defaultOutcome must be set")
	}

	seen := make(map[string]bool, len(round.Steps))
	for _, step := range round.Steps {
		if step.Key == "" {
			v.errorf("flow.round.steps: every step needs a key")
			continue
		}
		if seen[step.Key] {
			v.errorf("flow.round.steps: duplicate key %q", step.Key)
		}
		seen[step.Key] = true
	}

	if round.Start != "" && !seen[round.Start] {
		v.errorf("flow.round.start %q is not a step key", round.Start)
	}

	if v.doc.Flow.Bootstrap != nil {
		v.validateStep("flow.bootstrap", v.doc.Flow.Bootstrap, seen)
	}
	for _, step := range round.Steps {
		v.validateStep(fmt.Sprintf("flow.round.steps[%q]", step.Key), step, seen)
	}
}

func (v *validation) validateStep(path string, step *Step, stepKeys map[string]bool) {
	cfg := step.Config()
	if cfg == nil {
		v.errorf("%s: type %q has no matching config", path, step.Type)
		return
	}

	switch c := cfg.(type) {
	case *AgentStep:
		if _, ok := v.doc.Roles[c.Role]; !ok {
			v.errorf("%s references unknown role %q", path, c.Role)
		}
		if len(c.Prompt) == 0 {
			v.errorf("%s: agent prompt must be non-empty", path)
		}
	case *CliStep:
		if c.Command == "" {
			v.errorf("%s: cli command must be set", path)
		}
		if len(c.Args) > 0 && len(c.ArgsObject) > 0 {
			v.errorf("%s: args and argsObject are mutually exclusive", path)
		}
		switch c.Capture {
		case "", CaptureText, CaptureBuffer, CaptureBoth:
		default:
			v.errorf("%s: capture %q is not valid (text, buffer or both)", path, c.Capture)
		}
		if c.ArgsSchema != nil {
			if _, err := schema.Compile(c.ArgsSchema); err != nil {
				v.errorf("%s.argsSchema: %v", path, err)
			}
		}
	case *WorkflowStep:
		if c.WorkflowID == "" {
			v.errorf("%s: workflowId must be set", path)
		}
		if c.InputSchema != nil {
			if _, err := schema.Compile(c.InputSchema); err != nil {
				v.errorf("%s.inputSchema: %v", path, err)
			}
		}
	case *TransformStep:
		if c.Template == nil {
			v.errorf("%s: transform template must be set", path)
		}
		if c.InputSchema != nil {
			if _, err := schema.Compile(c.InputSchema); err != nil {
				v.errorf("%s.inputSchema: %v", path, err)
			}
		}
	}

	if step.Next != "" && !stepKeys[step.Next] {
		v.errorf("%s.next %q is not a step key", path, step.Next)
	}

	for i, tr := range step.Transitions {
		v.validateTransition(fmt.Sprintf("%s.transitions[%d]", path, i), tr, stepKeys, false)
	}
	for i, tr := range step.Exits {
		v.validateTransition(fmt.Sprintf("%s.exits[%d]", path, i), tr, stepKeys, true)
	}
}

func (v *validation) validateTransition(path string, tr *Transition, stepKeys map[string]bool, exit bool) {
	if tr == nil {
		v.errorf("%s must not be null", path)
		return
	}
	if tr.Condition == nil {
		v.errorf("%s.condition must be set", path)
	} else {
		v.validateCondition(path+".condition", tr.Condition)
	}
	if exit && tr.Outcome == "" {
		v.errorf("%s: exits must declare an outcome", path)
	}
	if tr.Next != "" {
		if tr.Outcome != "" {
			v.errorf("%s: outcome and next are mutually exclusive", path)
		}
		if !stepKeys[tr.Next] {
			v.errorf("%s.next %q is not a step key", path, tr.Next)
		}
	}
}

func (v *validation) validateCondition(path string, c *Condition) {
	if c.Always {
		return
	}
	switch {
	case len(c.All) > 0:
		for i, child := range c.All {
			v.validateCondition(fmt.Sprintf("%s.all[%d]", path, i), child)
		}
	case len(c.Any) > 0:
		for i, child := range c.Any {
			v.validateCondition(fmt.Sprintf("%s.any[%d]", path, i), child)
		}
	case c.Not != nil:
		v.validateCondition(path+".not", c.Not)
	default:
		if c.Field == "" {
			v.errorf("%s: leaf condition needs a field", path)
			return
		}
		if !knownOp(c.Op) {
			v.errorf("%s: unknown comparator %q", path, c.Op)
			return
		}
		if c.Op == OpMatches {
			pattern, ok := c.Value.(string)
			if !ok {
				v.errorf("%s: matches needs a string pattern", path)
				return
			}
			if _, err := regexp.Compile(pattern); err != nil {
				v.errorf("%s: invalid pattern %q: %v", path, pattern, err)
			}
		}
		if c.Op == OpIn {
			if _, ok := c.Value.([]any); !ok {
				v.errorf("%s: in needs an array operand", path)
			}
		}
	}
}

func knownOp(op CompareOp) bool {
	for _, known := range compareOps {
		if op == known {
			return true
		}
	}
	return false
}
