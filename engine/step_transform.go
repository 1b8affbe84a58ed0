package engine

import (
	"context"

	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// executeTransform reshapes data between steps: it renders the step's
// template tree over the scope, optionally augmented with a validated
// input. Transforms have no external side effects.
func (r *run) executeTransform(_ context.Context, step *workflow.Step, cfg *workflow.TransformStep, scope map[string]any) (*StepResult, error) {
	if cfg.Input != nil {
		input, err := template.RenderTree(cfg.Input, scope)
		if err != nil {
			return nil, err
		}
		if cfg.InputSchema != nil {
			validator, err := schema.Compile(cfg.InputSchema)
			if err != nil {
				return nil, err
			}
			if input, err = validator.Validate(input); err != nil {
				return nil, &InputValidationError{WorkflowID: r.doc.ID, Err: err}
			}
		}
		augmented := make(map[string]any, len(scope)+1)
		for k, v := range scope {
			augmented[k] = v
		}
		augmented["input"] = input
		scope = augmented
	}

	parsed, err := template.RenderTree(cfg.Template, scope)
	if err != nil {
		return nil, err
	}

	return &StepResult{
		Type:   workflow.StepTransform,
		Key:    step.Key,
		Raw:    template.Stringify(parsed),
		Parsed: parsed,
	}, nil
}
