package engine

import (
	"github.com/hyperagent/hyperagent/provenance"
	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/template"
)

// streamSummaryCap bounds the parsed summary attached to stream events.
const streamSummaryCap = 256

// StreamEvent is emitted to the run's OnStream callback after every step
// completion.
type StreamEvent struct {
	Step          string
	Round         int
	Parts         []providers.Part
	ParsedSummary string
}

// StreamFunc receives streaming events. Callbacks run on the run's worker;
// long work should be handed off.
type StreamFunc func(StreamEvent)

func (r *run) emitStream(result *StepResult) {
	if r.onStream == nil {
		return
	}

	var parts []providers.Part
	if raw, ok := result.Raw.(string); ok && raw != "" {
		parts = []providers.Part{providers.TextPart(raw)}
	}

	r.onStream(StreamEvent{
		Step:          result.Key,
		Round:         r.round,
		Parts:         parts,
		ParsedSummary: provenance.Truncate(template.Stringify(result.Parsed), streamSummaryCap),
	})
}
