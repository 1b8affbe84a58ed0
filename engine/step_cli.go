package engine

import (
	"context"
	"errors"
	"sort"

	"github.com/hyperagent/hyperagent/logger"
	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/provenance"
	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// executeCli renders the command line, pipes stdin from the scope when
// requested and invokes the process runner. A non-zero exit code is data
// in the parsed result, not a failure; only spawn errors are fatal.
func (r *run) executeCli(ctx context.Context, step *workflow.Step, cfg *workflow.CliStep, scope map[string]any) (*StepResult, error) {
	command, err := template.Render(cfg.Command, scope)
	if err != nil {
		return nil, err
	}

	argv, err := r.buildArgs(cfg, scope)
	if err != nil {
		return nil, err
	}

	cwd := ""
	if cfg.Cwd != "" {
		if cwd, err = template.Render(cfg.Cwd, scope); err != nil {
			return nil, err
		}
	}

	var stdin []byte
	if cfg.StdinFrom != "" {
		value, ok := template.Resolve(cfg.StdinFrom, scope)
		if !ok {
			return nil, &CliError{StepKey: step.Key, Command: command,
				Err: errors.New("stdinFrom path " + cfg.StdinFrom + " is undefined")}
		}
		switch v := value.(type) {
		case []byte:
			stdin = v
		case string:
			stdin = []byte(v)
		default:
			stdin = []byte(template.Stringify(v))
		}
	}

	result, err := r.runner(ctx, providers.ProcessRequest{
		Command: command,
		Args:    argv,
		Cwd:     cwd,
		Stdin:   stdin,
		Capture: providers.CaptureMode(captureMode(cfg)),
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrCancelled
		}
		return nil, &CliError{StepKey: step.Key, Command: command, Err: err}
	}

	logger.CliInvocation(r.runID, step.Key, command, result.ExitCode)

	args := make([]any, len(argv))
	for i, a := range argv {
		args[i] = a
	}
	parsed := map[string]any{
		"stdout":   result.Stdout,
		"stderr":   result.Stderr,
		"exitCode": result.ExitCode,
		"args":     args,
	}
	if result.StdoutBuffer != nil {
		parsed["stdoutBuffer"] = result.StdoutBuffer
	}
	if result.StderrBuffer != nil {
		parsed["stderrBuffer"] = result.StderrBuffer
	}

	if err := r.appendLog(ctx, r.label+".cli."+step.Key, map[string]any{
		"command":  command,
		"args":     argv,
		"exitCode": result.ExitCode,
		"stdout":   provenance.Truncate(result.Stdout, r.outputCap),
		"stderr":   provenance.Truncate(result.Stderr, r.outputCap),
	}); err != nil {
		return nil, err
	}

	return &StepResult{
		Type:   workflow.StepCli,
		Key:    step.Key,
		Raw:    result.Stdout,
		Parsed: parsed,
		Args:   argv,
	}, nil
}

// buildArgs renders either the args list or the argsObject map. Object
// args are coerced through argsSchema when present, then emitted as argv
// in lexicographic key order.
func (r *run) buildArgs(cfg *workflow.CliStep, scope map[string]any) ([]string, error) {
	if len(cfg.Args) > 0 {
		argv := make([]string, len(cfg.Args))
		for i, tmpl := range cfg.Args {
			rendered, err := template.Render(tmpl, scope)
			if err != nil {
				return nil, err
			}
			argv[i] = rendered
		}
		return r.coerceArgsList(cfg, argv)
	}

	if len(cfg.ArgsObject) == 0 {
		return nil, nil
	}

	rendered := make(map[string]any, len(cfg.ArgsObject))
	for key, tmpl := range cfg.ArgsObject {
		value, err := template.Render(tmpl, scope)
		if err != nil {
			return nil, err
		}
		rendered[key] = value
	}

	var object map[string]any = rendered
	if cfg.ArgsSchema != nil {
		validator, err := schema.Compile(cfg.ArgsSchema)
		if err != nil {
			return nil, err
		}
		coerced, err := validator.Validate(rendered)
		if err != nil {
			return nil, err
		}
		object = coerced.(map[string]any)
	}

	keys := make([]string, 0, len(object))
	for key := range object {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	argv := make([]string, 0, len(keys))
	for _, key := range keys {
		argv = append(argv, template.Stringify(object[key]))
	}
	return argv, nil
}

// coerceArgsList applies an array argsSchema to a rendered args list.
func (r *run) coerceArgsList(cfg *workflow.CliStep, argv []string) ([]string, error) {
	if cfg.ArgsSchema == nil {
		return argv, nil
	}
	validator, err := schema.Compile(cfg.ArgsSchema)
	if err != nil {
		return nil, err
	}
	values := make([]any, len(argv))
	for i, a := range argv {
		values[i] = a
	}
	coerced, err := validator.Validate(values)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(argv))
	for _, value := range coerced.([]any) {
		out = append(out, template.Stringify(value))
	}
	return out, nil
}

func captureMode(cfg *workflow.CliStep) workflow.CaptureMode {
	if cfg.Capture == "" {
		return workflow.CaptureText
	}
	return cfg.Capture
}
