package engine

import (
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/workflow"
)

// streamRecorder collects stream events for assertions.
type streamRecorder struct {
	mu     sync.Mutex
	events []StreamEvent
}

func (s *streamRecorder) record(e StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *streamRecorder) all() []StreamEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamEvent, len(s.events))
	copy(out, s.events)
	return out
}

func singleAgentDocument() *workflow.Document {
	return &workflow.Document{
		ID: "single-agent",
		Sessions: workflow.Sessions{
			Roles: []workflow.SessionRole{{Role: "agent"}},
		},
		Parsers: map[string]*schema.Schema{"any": schema.Unknown()},
		Roles: map[string]*workflow.Role{
			"agent": {SystemPrompt: "You help.", Parser: "any"},
		},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:   "agent",
						Type:  workflow.StepAgent,
						Agent: &workflow.AgentStep{Role: "agent", Prompt: []string{"Go."}},
						Exits: []*workflow.Transition{
							{Condition: workflow.Always(), Outcome: "completed"},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}
}

func TestRunSingleAgentCompletes(t *testing.T) {
	provider := providers.NewMockSessionProvider()
	provider.Script("agent", `{"status":"ok"}`)

	recorder := &streamRecorder{}
	handle, err := RunWorkflow(singleAgentDocument(), Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
		OnStream:   recorder.record,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, handle.RunID)

	result, err := handle.Result()
	require.NoError(t, err)

	assert.Equal(t, "completed", result.Outcome)
	assert.Equal(t, handle.RunID, result.RunID)
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, []string{"agent"}, result.Rounds[0].Steps)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.Equal(t, "agent", events[0].Step)
	assert.Equal(t, 1, events[0].Round)
	require.Len(t, events[0].Parts, 1)
	assert.Equal(t, `{"status":"ok"}`, events[0].Parts[0].Text)
}

func verifierLoopDocument() *workflow.Document {
	return &workflow.Document{
		ID: "verifier-loop",
		Sessions: workflow.Sessions{
			Roles: []workflow.SessionRole{{Role: "worker"}, {Role: "verifier"}},
		},
		Parsers: map[string]*schema.Schema{
			"any": schema.Unknown(),
			"verdict": schema.Object(map[string]*schema.Schema{
				"status": {
					Type: schema.TypeString,
					Enum: []any{"instruct", "approve", "fail"},
				},
				"critique": schema.String(),
			}, "status"),
		},
		Roles: map[string]*workflow.Role{
			"worker":   {SystemPrompt: "Produce work.", Parser: "any"},
			"verifier": {SystemPrompt: "Judge work.", Parser: "verdict"},
		},
		State: &workflow.State{Initial: map[string]string{"latestCritique": ""}},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "work",
						Type: workflow.StepAgent,
						Agent: &workflow.AgentStep{
							Role:   "worker",
							Prompt: []string{`Critique: {{state.latestCritique||"none yet"}}`},
						},
					},
					{
						Key:   "verify",
						Type:  workflow.StepAgent,
						Agent: &workflow.AgentStep{Role: "verifier", Prompt: []string{"Judge."}},
						Transitions: []*workflow.Transition{
							{
								Condition:    workflow.Equals("parsed.status", "instruct"),
								StateUpdates: map[string]string{"latestCritique": "{{parsed.critique}}"},
							},
							{
								Condition: workflow.Equals("parsed.status", "fail"),
								Outcome:   "failed",
								Reason:    "{{parsed.critique}}",
							},
						},
						Exits: []*workflow.Transition{
							{Condition: workflow.Equals("parsed.status", "approve"), Outcome: "approved"},
						},
					},
				},
				MaxRounds:      5,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds", Reason: "no approval"},
			},
		},
	}
}

func TestRunVerifierLoop(t *testing.T) {
	provider := providers.NewMockSessionProvider()
	provider.Script("verifier",
		`{"status":"instruct","critique":"add tests"}`,
		`{"status":"instruct","critique":"fix lint"}`,
		`{"status":"approve"}`,
	)

	handle, err := RunWorkflow(verifierLoopDocument(), Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)

	assert.Equal(t, "approved", result.Outcome)
	require.Len(t, result.Rounds, 3)

	// State updates are visible to the next round's rendering: the worker
	// prompt of round N carries the critique from round N-1.
	var workerPrompts []string
	for _, prompt := range provider.Prompts() {
		if prompt.AgentName == "worker" {
			workerPrompts = append(workerPrompts, prompt.Parts[0].Text)
		}
	}
	require.Len(t, workerPrompts, 3)
	assert.Equal(t, "Critique: none yet", workerPrompts[0])
	assert.Equal(t, "Critique: add tests", workerPrompts[1])
	assert.Equal(t, "Critique: fix lint", workerPrompts[2])
}

func TestRunMaxRoundsDefaultOutcome(t *testing.T) {
	provider := providers.NewMockSessionProvider()
	provider.DefaultReply = `{"status":"instruct","critique":"again"}`

	handle, err := RunWorkflow(verifierLoopDocument(), Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
		MaxRounds:  2,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)

	assert.Equal(t, "max-rounds", result.Outcome)
	assert.Equal(t, "no approval", result.Reason)
	assert.Len(t, result.Rounds, 2)
}

func TestRunInvalidUserInput(t *testing.T) {
	doc := singleAgentDocument()
	doc.User = map[string]*schema.Schema{"goalFile": schema.String()}

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   providers.NewMockSessionProvider(),
		User:       map[string]any{"goalFile": 123},
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var inputErr *InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Regexp(t, regexp.MustCompile(`(?i)Invalid (user )?input`), err.Error())
}

func TestRunRejectsInvalidDocument(t *testing.T) {
	doc := singleAgentDocument()
	doc.Flow.Round.DefaultOutcome = workflow.Outcome{}

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   providers.NewMockSessionProvider(),
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var serr *workflow.SchemaError
	assert.ErrorAs(t, err, &serr)
}

func TestRunWorkflowRequiresSessionDir(t *testing.T) {
	_, err := RunWorkflow(singleAgentDocument(), Options{})
	assert.Error(t, err)
}

func TestRunBootstrapExit(t *testing.T) {
	doc := singleAgentDocument()
	doc.Flow.Bootstrap = &workflow.Step{
		Key:   "bootstrap",
		Type:  workflow.StepAgent,
		Agent: &workflow.AgentStep{Role: "agent", Prompt: []string{"Prepare."}},
		Exits: []*workflow.Transition{
			{Condition: workflow.Equals("parsed.abort", true), Outcome: "aborted"},
		},
	}

	provider := providers.NewMockSessionProvider()
	provider.Script("agent", `{"abort":true}`)

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "aborted", result.Outcome)
	assert.Empty(t, result.Rounds)
}

func TestRunBootstrapStateVisibleInRound(t *testing.T) {
	doc := singleAgentDocument()
	doc.Flow.Bootstrap = &workflow.Step{
		Key:          "bootstrap",
		Type:         workflow.StepAgent,
		Agent:        &workflow.AgentStep{Role: "agent", Prompt: []string{"Prepare."}},
		StateUpdates: map[string]string{"plan": "{{parsed.plan}}"},
	}
	doc.Flow.Round.Steps[0].Agent.Prompt = []string{"Plan: {{state.plan}}"}

	provider := providers.NewMockSessionProvider()
	provider.Script("agent", `{"plan":"two phases"}`, `{"done":true}`)

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "completed", result.Outcome)

	prompts := provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, "Plan: two phases", prompts[1].Parts[0].Text)
}

func TestRunTransitionNextLoopsWithinRound(t *testing.T) {
	doc := &workflow.Document{
		ID:      "retry-loop",
		Parsers: map[string]*schema.Schema{"any": schema.Unknown()},
		Roles: map[string]*workflow.Role{
			"agent": {SystemPrompt: "Try.", Parser: "any"},
		},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:   "try",
						Type:  workflow.StepAgent,
						Agent: &workflow.AgentStep{Role: "agent", Prompt: []string{"Try."}},
						Transitions: []*workflow.Transition{
							{Condition: workflow.Equals("parsed.retry", true), Next: "try"},
						},
						Exits: []*workflow.Transition{
							{Condition: workflow.Always(), Outcome: "done"},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}

	provider := providers.NewMockSessionProvider()
	provider.Script("agent", `{"retry":true}`, `{"retry":true}`, `{"retry":false}`)

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "done", result.Outcome)
	require.Len(t, result.Rounds, 1)
	assert.Equal(t, []string{"try", "try", "try"}, result.Rounds[0].Steps)
}

func TestRunParseErrorIsFatal(t *testing.T) {
	doc := verifierLoopDocument()
	provider := providers.NewMockSessionProvider()
	provider.Script("verifier", "this is not json at all")

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "verify", parseErr.StepKey)
	assert.Equal(t, "verifier", parseErr.Role)
}

func TestRunCancellation(t *testing.T) {
	doc := &workflow.Document{
		ID: "sleeper",
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "sleep",
						Type: workflow.StepCli,
						Cli:  &workflow.CliStep{Command: "sleep", Args: []string{"30"}},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		RunCli:     providers.ExecRunner(providers.WithGracePeriod(time.Second)),
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		handle.Cancel()
	}()

	start := time.Now()
	_, err = handle.Result()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunTransformStep(t *testing.T) {
	doc := &workflow.Document{
		ID: "reshape",
		State: &workflow.State{
			Initial: map[string]string{"label": "{{user.label}}"},
		},
		User: map[string]*schema.Schema{
			"label": schema.String(),
		},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "shape",
						Type: workflow.StepTransform,
						Transform: &workflow.TransformStep{
							Template: map[string]any{
								"title": "{{state.label}}",
								"round": "{{round}}",
							},
						},
						Exits: []*workflow.Transition{
							{
								Condition: workflow.Equals("parsed.title", "demo"),
								Outcome:   "shaped",
								Reason:    "{{parsed.title}} in round {{parsed.round}}",
							},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}

	handle, err := RunWorkflow(doc, Options{
		SessionDir: t.TempDir(),
		User:       map[string]any{"label": "demo"},
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "shaped", result.Outcome)
	assert.Equal(t, "demo in round 1", result.Reason)
}

func TestRunStreamSummaries(t *testing.T) {
	provider := providers.NewMockSessionProvider()
	provider.Script("agent", `{"status":"ok"}`)

	recorder := &streamRecorder{}
	handle, err := RunWorkflow(singleAgentDocument(), Options{
		SessionDir: t.TempDir(),
		Sessions:   provider,
		OnStream:   recorder.record,
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.NoError(t, err)

	events := recorder.all()
	require.Len(t, events, 1)
	assert.True(t, strings.Contains(events[0].ParsedSummary, `"status":"ok"`))
}
