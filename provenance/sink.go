package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// File system constants.
const (
	dirPermissions  = 0750
	filePermissions = 0600
)

// Sentinel errors for sink operations.
var (
	// ErrUnknownRun is returned when appending to a run that was never opened.
	ErrUnknownRun = errors.New("provenance: unknown run")

	// ErrFinalized is returned when appending to a finalized run.
	ErrFinalized = errors.New("provenance: run already finalized")
)

// Sink receives provenance for runs. Entries must be persisted in call
// order and durably before the next step of the run starts.
type Sink interface {
	// Open starts the record for a run.
	Open(ctx context.Context, runID, workflowID string, startedAt time.Time) error

	// RegisterAgent appends a session registration.
	RegisterAgent(ctx context.Context, runID string, agent AgentEntry) error

	// Append appends a log entry.
	Append(ctx context.Context, runID string, entry LogEntry) error

	// Finalize writes the terminal result and closes the record.
	Finalize(ctx context.Context, runID string, result any, finishedAt time.Time) error
}

// FileSink persists one JSON file per run under <root>/.hyperagent.
// Every mutation rewrites the file via a temp file and rename, so readers
// never observe a partial record.
type FileSink struct {
	dir string

	mu        sync.Mutex
	records   map[string]*Record
	finalized map[string]bool
}

// NewFileSink creates a sink rooted at the session dir.
func NewFileSink(sessionDir string) (*FileSink, error) {
	dir := filepath.Join(sessionDir, Dir)
	if err := os.MkdirAll(dir, dirPermissions); err != nil {
		return nil, fmt.Errorf("create provenance directory: %w", err)
	}
	return &FileSink{
		dir:       dir,
		records:   make(map[string]*Record),
		finalized: make(map[string]bool),
	}, nil
}

// Path returns the record file path for a run.
func (s *FileSink) Path(runID string) string {
	return filepath.Join(s.dir, runID+".json")
}

// Open starts the record for a run.
func (s *FileSink) Open(_ context.Context, runID, workflowID string, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[runID] = &Record{
		ID:         runID,
		WorkflowID: workflowID,
		StartedAt:  startedAt,
		Agents:     []AgentEntry{},
		Log:        []LogEntry{},
	}
	return s.flushLocked(runID)
}

// RegisterAgent appends a session registration.
func (s *FileSink) RegisterAgent(_ context.Context, runID string, agent AgentEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.openRecordLocked(runID)
	if err != nil {
		return err
	}
	record.Agents = append(record.Agents, agent)
	return s.flushLocked(runID)
}

// Append appends a log entry.
func (s *FileSink) Append(_ context.Context, runID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.openRecordLocked(runID)
	if err != nil {
		return err
	}
	record.Log = append(record.Log, entry)
	return s.flushLocked(runID)
}

// Finalize writes the terminal result and closes the record.
func (s *FileSink) Finalize(_ context.Context, runID string, result any, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, err := s.openRecordLocked(runID)
	if err != nil {
		return err
	}
	record.Result = result
	record.FinishedAt = &finishedAt
	s.finalized[runID] = true
	return s.flushLocked(runID)
}

// Load reads a persisted record back from disk.
func (s *FileSink) Load(runID string) (*Record, error) {
	data, err := os.ReadFile(s.Path(runID))
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse provenance record: %w", err)
	}
	return &record, nil
}

func (s *FileSink) openRecordLocked(runID string) (*Record, error) {
	record, ok := s.records[runID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
	}
	if s.finalized[runID] {
		return nil, fmt.Errorf("%w: %s", ErrFinalized, runID)
	}
	return record, nil
}

func (s *FileSink) flushLocked(runID string) error {
	record := s.records[runID]
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize provenance record: %w", err)
	}

	path := s.Path(runID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePermissions); err != nil {
		return fmt.Errorf("write provenance record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("publish provenance record: %w", err)
	}
	return nil
}

var _ Sink = (*FileSink)(nil)
