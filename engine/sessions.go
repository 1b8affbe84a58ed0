package engine

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/hyperagent/hyperagent/logger"
	"github.com/hyperagent/hyperagent/providers"
	"github.com/hyperagent/hyperagent/provenance"
	"github.com/hyperagent/hyperagent/template"
	"github.com/hyperagent/hyperagent/workflow"
)

// createGroup dedupes concurrent session creation for the same stable
// name. The provider is shared across runs; two runs rendering the same
// nameTemplate must end up reusing one session instead of racing two into
// existence.
var createGroup singleflight.Group

// sessionManager resolves a usable provider session per role for one run.
// Sessions declared in the document are opened at run start; roles used by
// agent steps without a declaration get a session lazily on first use.
type sessionManager struct {
	provider providers.SessionProvider
	dir      string
	runID    string
	doc      *workflow.Document
	sink     provenance.Sink
	model    string
	now      timeFunc

	mu       sync.Mutex
	sessions map[string]providers.SessionInfo
}

func newSessionManager(provider providers.SessionProvider, dir, runID string, doc *workflow.Document, sink provenance.Sink, model string, now timeFunc) *sessionManager {
	return &sessionManager{
		provider: provider,
		dir:      dir,
		runID:    runID,
		doc:      doc,
		sink:     sink,
		model:    model,
		now:      now,
		sessions: make(map[string]providers.SessionInfo),
	}
}

// start opens the sessions declared by sessions.roles.
func (m *sessionManager) start(ctx context.Context) error {
	for _, entry := range m.doc.Sessions.Roles {
		if _, err := m.ensure(ctx, entry.Role, entry.NameTemplate); err != nil {
			return err
		}
	}
	return nil
}

// sessionFor returns the session for a role, creating an unnamed one when
// the role was not declared in sessions.roles.
func (m *sessionManager) sessionFor(ctx context.Context, role string) (providers.SessionInfo, error) {
	m.mu.Lock()
	session, ok := m.sessions[role]
	m.mu.Unlock()
	if ok {
		return session, nil
	}
	return m.ensure(ctx, role, "")
}

func (m *sessionManager) ensure(ctx context.Context, role, nameTemplate string) (providers.SessionInfo, error) {
	m.mu.Lock()
	if session, ok := m.sessions[role]; ok {
		m.mu.Unlock()
		return session, nil
	}
	m.mu.Unlock()

	def := m.doc.Roles[role]
	if def == nil {
		return providers.SessionInfo{}, &ProviderError{Role: role, Err: fmt.Errorf("role is not defined")}
	}

	name := ""
	if nameTemplate != "" {
		rendered, err := template.Render(nameTemplate, map[string]any{"runId": m.runID})
		if err != nil {
			return providers.SessionInfo{}, err
		}
		name = rendered
	}

	session, err := m.open(ctx, role, def, name)
	if err != nil {
		return providers.SessionInfo{}, &ProviderError{Role: role, Err: err}
	}

	m.mu.Lock()
	m.sessions[role] = session
	m.mu.Unlock()

	entry := provenance.AgentEntry{
		Role:      m.runID + "." + role,
		SessionID: session.ID,
		Name:      name,
	}
	if err := m.sink.RegisterAgent(ctx, m.runID, entry); err != nil {
		return providers.SessionInfo{}, err
	}

	logger.Debug("session ready", "run_id", m.runID, "role", role, "session_id", session.ID, "name", name)
	return session, nil
}

// open publishes the role definition, then finds or creates the session.
// Stable names are resolved through a process-wide singleflight group so
// concurrent runs sharing a name reuse one session.
func (m *sessionManager) open(ctx context.Context, role string, def *workflow.Role, name string) (providers.SessionInfo, error) {
	tools := normalizeTools(def.Tools)
	if err := m.provider.RegisterAgentDefinition(ctx, m.dir, role, m.model, def.SystemPrompt, tools); err != nil {
		return providers.SessionInfo{}, err
	}
	// Definitions change session behavior; drop any cached state.
	m.provider.Invalidate(m.dir)

	if name == "" {
		return m.provider.CreateSession(ctx, m.dir, providers.CreateSessionOptions{})
	}

	result, err, _ := createGroup.Do(m.dir+"\x00"+name, func() (any, error) {
		existing, err := m.provider.ListSessions(ctx, m.dir)
		if err != nil {
			return providers.SessionInfo{}, err
		}
		for _, session := range existing {
			if session.Name == name {
				return session, nil
			}
		}
		return m.provider.CreateSession(ctx, m.dir, providers.CreateSessionOptions{Name: name})
	})
	if err != nil {
		return providers.SessionInfo{}, err
	}
	return result.(providers.SessionInfo), nil
}

// normalizeTools fills every known tool key, defaulting omitted keys to
// false.
func normalizeTools(tools map[string]bool) providers.ToolPermissions {
	out := make(providers.ToolPermissions, len(providers.KnownTools))
	for _, key := range providers.KnownTools {
		out[key] = tools[key]
	}
	return out
}
