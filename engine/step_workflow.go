package engine

import (
	"context"

	"github.com/hyperagent/hyperagent/logger"
	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// executeChild resolves the referenced workflow, validates the rendered
// input and runs the child to completion. The parent step blocks until
// the child terminates; cancelling the parent cancels the child.
func (r *run) executeChild(ctx context.Context, step *workflow.Step, cfg *workflow.WorkflowStep, scope map[string]any) (*StepResult, error) {
	childDoc := r.registry.Resolve(cfg.WorkflowID)
	if childDoc == nil {
		return nil, &UnknownWorkflowError{StepKey: step.Key, WorkflowID: cfg.WorkflowID}
	}

	var input map[string]any
	if cfg.Input != nil {
		rendered, err := template.RenderTree(cfg.Input, scope)
		if err != nil {
			return nil, err
		}
		input = rendered.(map[string]any)
	}
	if cfg.InputSchema != nil {
		validator, err := schema.Compile(cfg.InputSchema)
		if err != nil {
			return nil, err
		}
		coerced, err := validator.Validate(input)
		if err != nil {
			return nil, &InputValidationError{WorkflowID: cfg.WorkflowID, Err: err}
		}
		input = coerced.(map[string]any)
	}

	// The child inherits the model unless its document overrides it.
	childModel := ""
	if childDoc.Model == "" {
		childModel = r.effectiveModel()
	}

	handle, err := RunWorkflow(childDoc, Options{
		User:       input,
		SessionDir: r.sessionDir,
		Model:      childModel,
		Workflows:  r.registry,
		RunCli:     r.runner,
		Sessions:   r.provider,
		Provenance: r.sink,
		Now:        r.now,
	})
	if err != nil {
		return nil, &ChildWorkflowError{StepKey: step.Key, WorkflowID: cfg.WorkflowID, Err: err}
	}

	logger.Debug("child workflow started",
		"run_id", r.runID, "step", step.Key, "child_workflow", cfg.WorkflowID, "child_run_id", handle.RunID)

	// Propagate parent cancellation into the child.
	stop := context.AfterFunc(ctx, handle.Cancel)
	defer stop()

	childResult, err := handle.Result()
	if err != nil {
		return nil, &ChildWorkflowError{
			StepKey:    step.Key,
			WorkflowID: cfg.WorkflowID,
			ChildRunID: handle.RunID,
			Err:        err,
		}
	}

	parsed := map[string]any{
		"outcome": childResult.Outcome,
		"reason":  childResult.Reason,
		"runId":   childResult.RunID,
		"rounds":  len(childResult.Rounds),
		"details": toJSONValue(childResult),
	}

	if err := r.appendLog(ctx, r.label+"."+step.Key, map[string]any{
		"delegated":  cfg.WorkflowID,
		"childRunId": childResult.RunID,
		"outcome":    childResult.Outcome,
		"rounds":     len(childResult.Rounds),
	}); err != nil {
		return nil, err
	}

	return &StepResult{
		Type:   workflow.StepWorkflow,
		Key:    step.Key,
		Raw:    template.Stringify(parsed),
		Parsed: parsed,
	}, nil
}
