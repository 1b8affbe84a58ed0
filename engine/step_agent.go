package engine

import (
	"context"
	"errors"

	"github.com/hyperagent/hyperagent/logger"
	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/provenance"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// executeAgent renders the step's prompts, sends them over the role's
// session and parses the final text part of the reply.
func (r *run) executeAgent(ctx context.Context, step *workflow.Step, cfg *workflow.AgentStep, scope map[string]any) (*StepResult, error) {
	parts := make([]providers.Part, 0, len(cfg.Prompt))
	prompts := make([]string, 0, len(cfg.Prompt))
	for _, tmpl := range cfg.Prompt {
		text, err := template.Render(tmpl, scope)
		if err != nil {
			return nil, err
		}
		parts = append(parts, providers.TextPart(text))
		prompts = append(prompts, text)
	}

	session, err := r.sessions.sessionFor(ctx, cfg.Role)
	if err != nil {
		return nil, err
	}

	if err := r.appendLog(ctx, "user", map[string]any{
		"step":    step.Key,
		"role":    cfg.Role,
		"prompts": prompts,
	}); err != nil {
		return nil, err
	}

	logger.AgentTurn(r.runID, cfg.Role, session.ID, len(parts), "step", step.Key)

	reply, err := r.provider.Prompt(ctx, session, parts, r.effectiveModel(), cfg.Role)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return nil, ErrCancelled
		}
		return nil, &ProviderError{Role: cfg.Role, Err: err}
	}

	raw, ok := providers.LastText(reply.Parts)
	if !ok {
		return nil, &ProviderError{Role: cfg.Role, Err: errors.New("reply carries no text part")}
	}

	parsed, err := parseReply(r.parsers[r.doc.Roles[cfg.Role].Parser], raw)
	if err != nil {
		return nil, &ParseError{StepKey: step.Key, Role: cfg.Role, Raw: raw, Err: err}
	}

	if err := r.appendLog(ctx, r.label+"."+cfg.Role, map[string]any{
		"step":      step.Key,
		"message":   provenance.Truncate(raw, r.outputCap),
		"messageId": reply.MessageID,
		"parsed":    parsed,
	}); err != nil {
		return nil, err
	}

	return &StepResult{
		Type:   workflow.StepAgent,
		Key:    step.Key,
		Raw:    raw,
		Parsed: parsed,
	}, nil
}
