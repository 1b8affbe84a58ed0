package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hyperagent/hyperagent/logger"
	metrics "github.com/hyperagent/hyperagent/metrics/prometheus"
	"github.com/hyperagent/hyperagent/provenance"
	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

type timeFunc func() time.Time

// Options configures a run. Unknown option fields added by callers are
// ignored rather than forwarded to collaborators.
type Options struct {
	// User holds the run inputs, validated against the document's user
	// schema.
	User map[string]any

	// SessionDir roots provider sessions and provenance storage. Required.
	SessionDir string

	// Model overrides the document's default model.
	Model string

	// MaxRounds overrides the document's round limit when positive.
	MaxRounds int

	// OnStream receives an event after every step completion.
	OnStream StreamFunc

	// Workflows resolves workflow step references. Defaults to an empty
	// registry.
	Workflows workflow.Registry

	// RunCli overrides the process runner. Defaults to the exec runner.
	RunCli providers.ProcessRunner

	// Sessions is the LLM session provider. Required for documents with
	// agent steps.
	Sessions providers.SessionProvider

	// Provenance overrides the sink. Defaults to a file sink under
	// SessionDir.
	Provenance provenance.Sink

	// OutputCap bounds stdout/stderr sizes in provenance entries.
	// Defaults to provenance.DefaultOutputCap.
	OutputCap int

	// WorkflowLabel overrides the document id in provenance role labels.
	WorkflowLabel string

	// Now injects a clock for deterministic tests.
	Now func() time.Time
}

// Handle is the caller's view of an in-flight run. The run id is available
// synchronously; the result is delivered through Result.
type Handle struct {
	RunID string

	done   chan struct{}
	cancel context.CancelFunc
	result *RunResult
	err    error
}

// Done is closed when the run terminates.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Result blocks until the run terminates and returns its terminal result,
// or the fatal error that ended it.
func (h *Handle) Result() (*RunResult, error) {
	<-h.done
	return h.result, h.err
}

// Cancel aborts the run. In-flight prompts are aborted and in-flight
// processes killed; the result rejects with ErrCancelled.
func (h *Handle) Cancel() { h.cancel() }

// run owns the mutable state of one workflow execution. A run executes on
// a single worker goroutine; steps never run concurrently within a run,
// so the state bag needs no synchronization.
type run struct {
	doc   *workflow.Document
	runID string

	// label prefixes provenance role names.
	label string

	user      map[string]any
	state     map[string]string
	steps     map[string]any
	round     int
	maxRounds int
	rounds    []RoundRecord

	parsers map[string]*schema.Validator

	sessions   *sessionManager
	provider   providers.SessionProvider
	runner     providers.ProcessRunner
	registry   workflow.Registry
	sink       provenance.Sink
	sessionDir string
	model      string
	onStream   StreamFunc
	outputCap  int
	now        timeFunc
}

// RunWorkflow validates inputs, wires collaborators and starts the run on
// a dedicated worker. The returned handle carries the run id synchronously;
// the result future rejects on fatal errors (cancelled, schema, input,
// template, parse, cli, child, provider).
func RunWorkflow(doc *workflow.Document, opts Options) (*Handle, error) {
	if doc == nil {
		return nil, errors.New("engine: document is required")
	}
	if opts.SessionDir == "" {
		return nil, errors.New("engine: sessionDir is required")
	}

	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	handle := &Handle{
		RunID:  runID,
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(handle.done)
		defer cancel()
		handle.result, handle.err = execute(ctx, doc, opts, runID)
	}()

	return handle, nil
}

func execute(ctx context.Context, doc *workflow.Document, opts Options, runID string) (*RunResult, error) {
	now := timeFunc(time.Now)
	if opts.Now != nil {
		now = opts.Now
	}
	started := now()

	sink := opts.Provenance
	if sink == nil {
		fileSink, err := provenance.NewFileSink(opts.SessionDir)
		if err != nil {
			return nil, err
		}
		sink = fileSink
	}
	if err := sink.Open(ctx, runID, doc.ID, started); err != nil {
		return nil, err
	}

	metrics.RecordRunStart(doc.ID)
	logger.RunEvent("started", runID, doc.ID)

	result, err := prepareAndRun(ctx, doc, opts, runID, sink, now)
	finished := now()

	if err != nil {
		class := errorClass(err)
		_ = sink.Finalize(ctx, runID, map[string]any{
			"error":   class,
			"message": err.Error(),
		}, finished)
		metrics.RecordRunEnd(doc.ID, "error", finished.Sub(started).Seconds())
		logger.RunEvent("failed", runID, doc.ID, "error_class", class, "error", err)
		return nil, err
	}

	if ferr := sink.Finalize(ctx, runID, result, finished); ferr != nil {
		return nil, ferr
	}
	metrics.RecordRunEnd(doc.ID, result.Outcome, finished.Sub(started).Seconds())
	logger.RunEvent("terminated", runID, doc.ID, "outcome", result.Outcome, "rounds", len(result.Rounds))
	return result, nil
}

func prepareAndRun(ctx context.Context, doc *workflow.Document, opts Options, runID string, sink provenance.Sink, now timeFunc) (*RunResult, error) {
	if _, err := workflow.Validate(doc); err != nil {
		return nil, err
	}

	user, err := validateUser(doc, opts.User)
	if err != nil {
		return nil, err
	}

	// Validate guarantees these compile.
	parsers := make(map[string]*schema.Validator, len(doc.Parsers))
	for name, s := range doc.Parsers {
		parsers[name] = schema.MustCompile(s)
	}

	r := &run{
		doc:        doc,
		runID:      runID,
		label:      doc.ID,
		user:       user,
		state:      map[string]string{},
		steps:      map[string]any{},
		maxRounds:  doc.Flow.Round.MaxRounds,
		parsers:    parsers,
		provider:   opts.Sessions,
		runner:     opts.RunCli,
		registry:   opts.Workflows,
		sink:       sink,
		sessionDir: opts.SessionDir,
		model:      opts.Model,
		onStream:   opts.OnStream,
		outputCap:  opts.OutputCap,
		now:        now,
	}
	if opts.WorkflowLabel != "" {
		r.label = opts.WorkflowLabel
	}
	if opts.MaxRounds > 0 {
		r.maxRounds = opts.MaxRounds
	}
	if r.runner == nil {
		r.runner = providers.ExecRunner()
	}
	if r.registry == nil {
		r.registry = workflow.NewMemoryRegistry()
	}
	if r.outputCap == 0 {
		r.outputCap = provenance.DefaultOutputCap
	}

	if r.provider != nil {
		r.sessions = newSessionManager(r.provider, r.sessionDir, runID, doc, sink, r.effectiveModel(), now)
		if err := r.sessions.start(ctx); err != nil {
			return nil, err
		}
	} else if needsSessions(doc) {
		return nil, &ProviderError{Err: errors.New("no session provider configured")}
	}

	if doc.State != nil && doc.State.Initial != nil {
		r.round = 0
		initial, err := template.RenderMap(doc.State.Initial, r.scope(nil))
		if err != nil {
			return nil, err
		}
		r.state = initial
	}

	return r.executeFlow(ctx)
}

func validateUser(doc *workflow.Document, user map[string]any) (map[string]any, error) {
	if len(doc.User) == 0 {
		if user == nil {
			return map[string]any{}, nil
		}
		return user, nil
	}
	validator, err := schema.CompileMap(doc.User)
	if err != nil {
		return nil, &workflow.SchemaError{WorkflowID: doc.ID, Problems: []string{err.Error()}}
	}
	if user == nil {
		user = map[string]any{}
	}
	validated, err := validator.Validate(user)
	if err != nil {
		return nil, &InputValidationError{WorkflowID: doc.ID, Err: err}
	}
	return validated.(map[string]any), nil
}

func needsSessions(doc *workflow.Document) bool {
	if len(doc.Sessions.Roles) > 0 {
		return true
	}
	for _, step := range doc.Flow.Round.Steps {
		if step.Type == workflow.StepAgent {
			return true
		}
	}
	return doc.Flow.Bootstrap != nil && doc.Flow.Bootstrap.Type == workflow.StepAgent
}

func (r *run) effectiveModel() string {
	if r.model != "" {
		return r.model
	}
	return r.doc.Model
}

// appendLog writes one provenance log entry stamped with the run clock.
func (r *run) appendLog(ctx context.Context, role string, payload any) error {
	if err := r.sink.Append(ctx, r.runID, provenance.LogEntry{
		Role:      role,
		Timestamp: r.now(),
		Payload:   payload,
	}); err != nil {
		return fmt.Errorf("append provenance: %w", err)
	}
	return nil
}
