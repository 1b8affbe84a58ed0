package engine

import (
	"encoding/json"

	"github.com/hyperagent/hyperagent/workflow"
)

// StepResult is the recorded output of one step execution.
type StepResult struct {
	Type   workflow.StepType
	Key    string
	Raw    any
	Parsed any

	// Args is the final argv of a cli step, exposed to the scope.
	Args []string
}

// RoundRecord summarizes one executed round.
type RoundRecord struct {
	Round int      `json:"round"`
	Steps []string `json:"steps"`
}

// RunResult is the terminal state of a run.
type RunResult struct {
	Outcome string        `json:"outcome"`
	Reason  string        `json:"reason,omitempty"`
	Rounds  []RoundRecord `json:"rounds"`
	RunID   string        `json:"runId"`
}

// scope builds the binding environment for templates and conditions.
// Layers are copied per snapshot, so executors never observe later state
// mutations through a captured scope.
func (r *run) scope(extra map[string]any) map[string]any {
	state := make(map[string]string, len(r.state))
	for k, v := range r.state {
		state[k] = v
	}

	steps := make(map[string]any, len(r.steps))
	for k, v := range r.steps {
		steps[k] = v
	}

	s := map[string]any{
		"user":      r.user,
		"run":       map[string]any{"id": r.runID},
		"round":     r.round,
		"maxRounds": r.maxRounds,
		"state":     state,
		"steps":     steps,
	}
	for k, v := range extra {
		s[k] = v
	}
	return s
}

// recordStep exposes a completed step under scope.steps[key].
func (r *run) recordStep(result *StepResult) {
	r.steps[result.Key] = map[string]any{
		"raw":    result.Raw,
		"parsed": result.Parsed,
	}
}

// toJSONValue round-trips a Go value through JSON so nested structs become
// plain maps the scope resolver can traverse.
func toJSONValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
