package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperagent/hyperagent/schema"
	"github.com/hyperagent/hyperagent/workflow"
)

// referencedCliDocument writes its content input to its filename input.
func referencedCliDocument() *workflow.Document {
	return &workflow.Document{
		ID: "referenced-cli.v1",
		User: map[string]*schema.Schema{
			"filename": schema.String(),
			"content":  schema.String(),
		},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "write",
						Type: workflow.StepCli,
						Cli: &workflow.CliStep{
							Command:   "sh",
							Args:      []string{"-c", `cat > "$0"`, "{{user.filename}}"},
							StdinFrom: "user.content",
						},
						Exits: []*workflow.Transition{
							{Condition: workflow.Equals("parsed.exitCode", 0), Outcome: "written"},
							{Condition: workflow.Always(), Outcome: "write-failed"},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}
}

func parentDocument() *workflow.Document {
	return &workflow.Document{
		ID: "parent.v1",
		User: map[string]*schema.Schema{
			"goalFile": schema.String(),
			"content":  {Type: schema.TypeString, Default: "hello child"},
		},
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "delegate",
						Type: workflow.StepWorkflow,
						Workflow: &workflow.WorkflowStep{
							WorkflowID: "referenced-cli.v1",
							Input: map[string]any{
								"filename": "{{user.goalFile}}",
								"content":  "{{user.content}}",
							},
							InputSchema: schema.Object(map[string]*schema.Schema{
								"filename": schema.String(),
								"content":  schema.String(),
							}, "filename", "content"),
						},
						Transitions: []*workflow.Transition{
							{
								Condition: workflow.Equals("parsed.outcome", "written"),
								Outcome:   "child-completed",
								Reason:    "child run {{parsed.runId}} finished in {{parsed.rounds}} round(s)",
							},
						},
						Exits: []*workflow.Transition{
							{Condition: workflow.Always(), Outcome: "child-failed"},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}
}

func TestRunChildWorkflow(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "goal.txt")

	registry := workflow.NewMemoryRegistry()
	require.NoError(t, registry.Register(referencedCliDocument()))

	handle, err := RunWorkflow(parentDocument(), Options{
		SessionDir: dir,
		Workflows:  registry,
		User:       map[string]any{"goalFile": target},
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)

	assert.Equal(t, "child-completed", result.Outcome)
	assert.Contains(t, result.Reason, "1 round(s)")

	content, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "hello child", string(content))
}

func TestRunChildWorkflowInvalidUserInput(t *testing.T) {
	dir := t.TempDir()

	registry := workflow.NewMemoryRegistry()
	require.NoError(t, registry.Register(referencedCliDocument()))

	handle, err := RunWorkflow(parentDocument(), Options{
		SessionDir: dir,
		Workflows:  registry,
		User:       map[string]any{"goalFile": 123},
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var inputErr *InputValidationError
	require.ErrorAs(t, err, &inputErr)
	assert.Regexp(t, `(?i)Invalid (user )?input`, err.Error())

	// Nothing was written.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.Equal(t, ".hyperagent", entry.Name())
	}
}

func TestRunUnknownChildWorkflow(t *testing.T) {
	handle, err := RunWorkflow(parentDocument(), Options{
		SessionDir: t.TempDir(),
		User:       map[string]any{"goalFile": "out.txt"},
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var unknownErr *UnknownWorkflowError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "referenced-cli.v1", unknownErr.WorkflowID)
}

func TestRunChildFailurePropagates(t *testing.T) {
	// The child's cli command cannot spawn, so the child run fails and the
	// parent surfaces a ChildWorkflowError carrying the child run id.
	child := referencedCliDocument()
	child.Flow.Round.Steps[0].Cli.Command = "definitely-not-a-command-51c2"
	child.Flow.Round.Steps[0].Cli.Args = nil
	child.Flow.Round.Steps[0].Cli.StdinFrom = ""

	registry := workflow.NewMemoryRegistry()
	require.NoError(t, registry.Register(child))

	handle, err := RunWorkflow(parentDocument(), Options{
		SessionDir: t.TempDir(),
		Workflows:  registry,
		User:       map[string]any{"goalFile": "out.txt"},
	})
	require.NoError(t, err)

	_, err = handle.Result()
	require.Error(t, err)

	var childErr *ChildWorkflowError
	require.ErrorAs(t, err, &childErr)
	assert.Equal(t, "delegate", childErr.StepKey)
	assert.NotEmpty(t, childErr.ChildRunID)
}

func TestRunChildRoundsReported(t *testing.T) {
	// A child that exhausts its rounds reports its actual round count to
	// the parent scope.
	child := &workflow.Document{
		ID: "spinner.v1",
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:  "noop",
						Type: workflow.StepTransform,
						Transform: &workflow.TransformStep{
							Template: map[string]any{"round": "{{round}}"},
						},
					},
				},
				MaxRounds:      3,
				DefaultOutcome: workflow.Outcome{Outcome: "spun"},
			},
		},
	}

	parent := &workflow.Document{
		ID: "spinner-parent.v1",
		Flow: workflow.Flow{
			Round: workflow.Round{
				Steps: []*workflow.Step{
					{
						Key:      "delegate",
						Type:     workflow.StepWorkflow,
						Workflow: &workflow.WorkflowStep{WorkflowID: "spinner.v1"},
						Exits: []*workflow.Transition{
							{
								Condition: workflow.Equals("parsed.rounds", 3),
								Outcome:   "counted",
							},
							{Condition: workflow.Always(), Outcome: "miscounted"},
						},
					},
				},
				MaxRounds:      1,
				DefaultOutcome: workflow.Outcome{Outcome: "max-rounds"},
			},
		},
	}

	registry := workflow.NewMemoryRegistry()
	require.NoError(t, registry.Register(child))

	handle, err := RunWorkflow(parent, Options{
		SessionDir: t.TempDir(),
		Workflows:  registry,
	})
	require.NoError(t, err)

	result, err := handle.Result()
	require.NoError(t, err)
	assert.Equal(t, "counted", result.Outcome)
}
