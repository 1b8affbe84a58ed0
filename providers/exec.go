package providers

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/hyperagent/hyperagent/logger"
)

// ExecOption configures the exec-based process runner.
type ExecOption func(*execConfig)

type execConfig struct {
	gracePeriod time.Duration
}

// WithGracePeriod sets how long a cancelled process may run after SIGTERM
// before it is killed.
func WithGracePeriod(d time.Duration) ExecOption {
	return func(c *execConfig) {
		c.gracePeriod = d
	}
}

// ExecRunner returns a ProcessRunner built on os/exec.
//
// Cancellation sends SIGTERM and escalates to SIGKILL after the grace
// period. Stdin is piped in full before the call returns; stdout and
// stderr are captured according to the request's capture mode.
func ExecRunner(opts ...ExecOption) ProcessRunner {
	cfg := execConfig{gracePeriod: DefaultGracePeriod}
	for _, opt := range opts {
		opt(&cfg)
	}

	return func(ctx context.Context, req ProcessRequest) (*ProcessResult, error) {
		cmd := exec.CommandContext(ctx, req.Command, req.Args...)
		cmd.Dir = req.Cwd
		if req.Stdin != nil {
			cmd.Stdin = bytes.NewReader(req.Stdin)
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = cfg.gracePeriod

		err := cmd.Run()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var exitErr *exec.ExitError
			if !errors.As(err, &exitErr) {
				// Spawn failure: command not found, IO error.
				return nil, err
			}
		}

		result := &ProcessResult{ExitCode: cmd.ProcessState.ExitCode()}
		capture := req.Capture
		if capture == "" {
			capture = CaptureText
		}
		if capture == CaptureText || capture == CaptureBoth {
			result.Stdout = stdout.String()
			result.Stderr = stderr.String()
		}
		if capture == CaptureBuffer || capture == CaptureBoth {
			result.StdoutBuffer = bytes.Clone(stdout.Bytes())
			result.StderrBuffer = bytes.Clone(stderr.Bytes())
		}

		logger.Debug("process finished",
			"command", req.Command,
			"exit_code", result.ExitCode,
			"stdout_bytes", stdout.Len(),
			"stderr_bytes", stderr.Len(),
		)
		return result, nil
	}
}
