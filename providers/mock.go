package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockSessionProvider is a SessionProvider for testing and development.
// It returns scripted replies without making any API calls.
//
// Replies are queued per agent name with Script; each Prompt pops the next
// reply for the prompted agent. When an agent's queue is empty the
// provider falls back to DefaultReply. All prompts are recorded for
// assertions.
type MockSessionProvider struct {
	mu sync.Mutex

	// DefaultReply is returned when no scripted reply remains.
	DefaultReply string

	sessions    map[string][]SessionInfo // by dir
	scripts     map[string][]string      // by agent name
	prompts     []RecordedPrompt
	diffs       map[string]string // by message id
	definitions map[string]AgentDefinition
	invalidated []string
	nextMessage int
}

// RecordedPrompt captures one Prompt call.
type RecordedPrompt struct {
	Session   SessionInfo
	AgentName string
	Model     string
	Parts     []Part
}

// AgentDefinition captures one RegisterAgentDefinition call.
type AgentDefinition struct {
	Dir          string
	Name         string
	Model        string
	SystemPrompt string
	Tools        ToolPermissions
}

// NewMockSessionProvider creates a mock provider with an empty script and
// a `{}` default reply.
func NewMockSessionProvider() *MockSessionProvider {
	return &MockSessionProvider{
		DefaultReply: "{}",
		sessions:     make(map[string][]SessionInfo),
		scripts:      make(map[string][]string),
		diffs:        make(map[string]string),
		definitions:  make(map[string]AgentDefinition),
	}
}

// Script queues replies for an agent name, in order.
func (m *MockSessionProvider) Script(agentName string, replies ...string) *MockSessionProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scripts[agentName] = append(m.scripts[agentName], replies...)
	return m
}

// SetDiff registers the diff returned for a message id.
func (m *MockSessionProvider) SetDiff(messageID, diff string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.diffs[messageID] = diff
}

// CreateSession opens a new in-memory session under dir.
func (m *MockSessionProvider) CreateSession(_ context.Context, dir string, opts CreateSessionOptions) (SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := SessionInfo{ID: uuid.NewString(), Name: opts.Name}
	m.sessions[dir] = append(m.sessions[dir], info)
	return info, nil
}

// ListSessions returns the sessions created under dir.
func (m *MockSessionProvider) ListSessions(_ context.Context, dir string) ([]SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SessionInfo, len(m.sessions[dir]))
	copy(out, m.sessions[dir])
	return out, nil
}

// Prompt records the call and returns the next scripted reply for the
// agent as a single text part.
func (m *MockSessionProvider) Prompt(ctx context.Context, session SessionInfo, parts []Part, model, agentName string) (*PromptResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.prompts = append(m.prompts, RecordedPrompt{
		Session:   session,
		AgentName: agentName,
		Model:     model,
		Parts:     parts,
	})

	reply := m.DefaultReply
	if queue := m.scripts[agentName]; len(queue) > 0 {
		reply = queue[0]
		m.scripts[agentName] = queue[1:]
	}

	m.nextMessage++
	return &PromptResult{
		Parts:     []Part{TextPart(reply)},
		MessageID: fmt.Sprintf("msg-%d", m.nextMessage),
	}, nil
}

// MessageDiff returns the diff registered for the message id, or "".
func (m *MockSessionProvider) MessageDiff(_ context.Context, _ SessionInfo, messageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.diffs[messageID], nil
}

// RegisterAgentDefinition records the definition under dir/name.
func (m *MockSessionProvider) RegisterAgentDefinition(_ context.Context, dir, name, model, systemPrompt string, tools ToolPermissions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.definitions[dir+"/"+name] = AgentDefinition{
		Dir:          dir,
		Name:         name,
		Model:        model,
		SystemPrompt: systemPrompt,
		Tools:        tools,
	}
	return nil
}

// Invalidate records the invalidation.
func (m *MockSessionProvider) Invalidate(dir string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, dir)
}

// Prompts returns the recorded prompts.
func (m *MockSessionProvider) Prompts() []RecordedPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedPrompt, len(m.prompts))
	copy(out, m.prompts)
	return out
}

// Definitions returns the recorded agent definitions keyed by dir/name.
func (m *MockSessionProvider) Definitions() map[string]AgentDefinition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]AgentDefinition, len(m.definitions))
	for k, v := range m.definitions {
		out[k] = v
	}
	return out
}

// Invalidations returns the dirs passed to Invalidate, in order.
func (m *MockSessionProvider) Invalidations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.invalidated))
	copy(out, m.invalidated)
	return out
}

var _ SessionProvider = (*MockSessionProvider)(nil)
