package provenance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTLHours = 24

// RedisSink stores run records in Redis. Suitable when runs execute on
// hosts without a shared filesystem; records are keyed by run id and
// expire after the configured TTL.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisSink.
type RedisOption func(*RedisSink)

// WithTTL sets the record time-to-live. Zero means no expiration.
// Default is 24 hours.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisSink) {
		s.ttl = ttl
	}
}

// WithPrefix sets the Redis key prefix. Default is "hyperagent".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisSink) {
		s.prefix = prefix
	}
}

// NewRedisSink creates a Redis-backed provenance sink.
//
// Example:
//
//	sink := NewRedisSink(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(48 * time.Hour),
//	)
func NewRedisSink(client *redis.Client, opts ...RedisOption) *RedisSink {
	sink := &RedisSink{
		client: client,
		ttl:    defaultTTLHours * time.Hour,
		prefix: "hyperagent",
	}
	for _, opt := range opts {
		opt(sink)
	}
	return sink
}

func (s *RedisSink) key(runID string) string {
	return fmt.Sprintf("%s:run:%s", s.prefix, runID)
}

// Open starts the record for a run.
func (s *RedisSink) Open(ctx context.Context, runID, workflowID string, startedAt time.Time) error {
	return s.store(ctx, runID, &Record{
		ID:         runID,
		WorkflowID: workflowID,
		StartedAt:  startedAt,
		Agents:     []AgentEntry{},
		Log:        []LogEntry{},
	})
}

// RegisterAgent appends a session registration.
func (s *RedisSink) RegisterAgent(ctx context.Context, runID string, agent AgentEntry) error {
	return s.update(ctx, runID, func(record *Record) {
		record.Agents = append(record.Agents, agent)
	})
}

// Append appends a log entry.
func (s *RedisSink) Append(ctx context.Context, runID string, entry LogEntry) error {
	return s.update(ctx, runID, func(record *Record) {
		record.Log = append(record.Log, entry)
	})
}

// Finalize writes the terminal result.
func (s *RedisSink) Finalize(ctx context.Context, runID string, result any, finishedAt time.Time) error {
	return s.update(ctx, runID, func(record *Record) {
		record.Result = result
		record.FinishedAt = &finishedAt
	})
}

// Load reads a record back.
func (s *RedisSink) Load(ctx context.Context, runID string) (*Record, error) {
	data, err := s.client.Get(ctx, s.key(runID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownRun, runID)
		}
		return nil, fmt.Errorf("load provenance record: %w", err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse provenance record: %w", err)
	}
	return &record, nil
}

func (s *RedisSink) update(ctx context.Context, runID string, mutate func(*Record)) error {
	record, err := s.Load(ctx, runID)
	if err != nil {
		return err
	}
	if record.FinishedAt != nil {
		return fmt.Errorf("%w: %s", ErrFinalized, runID)
	}
	mutate(record)
	return s.store(ctx, runID, record)
}

func (s *RedisSink) store(ctx context.Context, runID string, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("serialize provenance record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(runID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store provenance record: %w", err)
	}
	return nil
}

var _ Sink = (*RedisSink)(nil)
