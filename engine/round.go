package engine

import (
	"context"
	"fmt"

	"github.com/hyperagent/hyperagent/logger"
	metrics "github.com/hyperagent/hyperagent/metrics/prometheus"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// disposition is the outcome of one step execution: a terminal result, an
// explicit next step, or neither (end of round).
type disposition struct {
	terminal *RunResult
	next     *workflow.Step
}

// executeFlow drives the run state machine: optional bootstrap, then up to
// maxRounds passes over the round's steps, then the default outcome.
func (r *run) executeFlow(ctx context.Context) (*RunResult, error) {
	if bootstrap := r.doc.Flow.Bootstrap; bootstrap != nil {
		disp, err := r.runStep(ctx, bootstrap, true)
		if err != nil {
			return nil, err
		}
		if disp.terminal != nil {
			disp.terminal.Rounds = r.rounds
			return disp.terminal, nil
		}
	}

	round := &r.doc.Flow.Round
	for r.round = 1; r.round <= r.maxRounds; r.round++ {
		record := RoundRecord{Round: r.round}
		step := round.FirstStep()
		for step != nil {
			record.Steps = append(record.Steps, step.Key)

			disp, err := r.runStep(ctx, step, false)
			if err != nil {
				return nil, err
			}
			if disp.terminal != nil {
				r.rounds = append(r.rounds, record)
				disp.terminal.Rounds = r.rounds
				return disp.terminal, nil
			}
			step = disp.next
		}
		r.rounds = append(r.rounds, record)
		metrics.RecordRound(r.doc.ID)
	}

	outcome := r.doc.Flow.Round.DefaultOutcome
	reason, err := template.Render(outcome.Reason, r.scope(nil))
	if err != nil {
		return nil, err
	}
	return &RunResult{
		Outcome: outcome.Outcome,
		Reason:  reason,
		Rounds:  r.rounds,
		RunID:   r.runID,
	}, nil
}

// runStep executes one step and resolves what happens next. Transitions
// are evaluated before exits; within each list the first match wins. A
// bootstrap step only evaluates its exits.
func (r *run) runStep(ctx context.Context, step *workflow.Step, bootstrap bool) (disposition, error) {
	if err := ctx.Err(); err != nil {
		return disposition{}, ErrCancelled
	}

	scope := r.scope(nil)
	started := r.now()

	result, err := r.executeStep(ctx, step, scope)
	duration := r.now().Sub(started).Seconds()
	if err != nil {
		metrics.RecordStep(string(step.Type), metrics.StatusError, duration)
		logger.StepError(r.runID, step.Key, err)
		return disposition{}, err
	}
	metrics.RecordStep(string(step.Type), metrics.StatusSuccess, duration)

	r.recordStep(result)

	extra := map[string]any{"parsed": result.Parsed}
	if result.Args != nil {
		args := make([]any, len(result.Args))
		for i, a := range result.Args {
			args[i] = a
		}
		extra["args"] = args
	}

	if err := r.applyStateUpdates(step.StateUpdates, extra); err != nil {
		return disposition{}, err
	}

	r.emitStream(result)

	if !bootstrap {
		for _, tr := range step.Transitions {
			if !workflow.Evaluate(tr.Condition, r.scope(extra)) {
				continue
			}
			if err := r.applyStateUpdates(tr.StateUpdates, extra); err != nil {
				return disposition{}, err
			}
			if tr.Outcome != "" {
				return r.terminate(tr.Outcome, tr.Reason, extra)
			}
			if tr.Next != "" {
				return disposition{next: r.doc.Flow.Round.StepByKey(tr.Next)}, nil
			}
			// A fired transition without outcome or next falls through to
			// the step's own successor; exits are not consulted.
			return disposition{next: r.followingStep(step)}, nil
		}
	}

	for _, exit := range step.Exits {
		if !workflow.Evaluate(exit.Condition, r.scope(extra)) {
			continue
		}
		if err := r.applyStateUpdates(exit.StateUpdates, extra); err != nil {
			return disposition{}, err
		}
		return r.terminate(exit.Outcome, exit.Reason, extra)
	}

	if bootstrap {
		return disposition{}, nil
	}
	return disposition{next: r.followingStep(step)}, nil
}

// executeStep dispatches to the executor for the step's type.
func (r *run) executeStep(ctx context.Context, step *workflow.Step, scope map[string]any) (*StepResult, error) {
	switch step.Type {
	case workflow.StepAgent:
		return r.executeAgent(ctx, step, step.Agent, scope)
	case workflow.StepCli:
		return r.executeCli(ctx, step, step.Cli, scope)
	case workflow.StepWorkflow:
		return r.executeChild(ctx, step, step.Workflow, scope)
	case workflow.StepTransform:
		return r.executeTransform(ctx, step, step.Transform, scope)
	default:
		return nil, fmt.Errorf("step %q: unsupported type %q", step.Key, step.Type)
	}
}

// applyStateUpdates renders updates against the scope extended with the
// current step's parsed result and writes them into the state bag. Keys
// that do not exist yet are created; values are always rendered strings.
func (r *run) applyStateUpdates(updates map[string]string, extra map[string]any) error {
	if len(updates) == 0 {
		return nil
	}
	rendered, err := template.RenderMap(updates, r.scope(extra))
	if err != nil {
		return err
	}
	for key, value := range rendered {
		r.state[key] = value
	}
	return nil
}

// terminate builds a terminal result with its reason rendered against the
// current scope.
func (r *run) terminate(outcome, reasonTemplate string, extra map[string]any) (disposition, error) {
	reason, err := template.Render(reasonTemplate, r.scope(extra))
	if err != nil {
		return disposition{}, err
	}
	return disposition{terminal: &RunResult{
		Outcome: outcome,
		Reason:  reason,
		RunID:   r.runID,
	}}, nil
}

// followingStep resolves a step's successor: its next pointer when set,
// else the following step in document order, else nil (end of round).
func (r *run) followingStep(step *workflow.Step) *workflow.Step {
	if step.Next != "" {
		return r.doc.Flow.Round.StepByKey(step.Next)
	}
	return r.doc.Flow.Round.StepAfter(step.Key)
}
