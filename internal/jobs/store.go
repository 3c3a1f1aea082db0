package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spherical/text-extractor/internal/domain"
)

// DefaultRecordTTL is how long Redis keeps a job record.
const DefaultRecordTTL = 24 * time.Hour

// Store holds the latest record of every job. Put replaces the whole record.
type Store interface {
	Put(ctx context.Context, rec *domain.JobRecord) error
	// Get fails with a not_found DomainError for unknown ids.
	Get(ctx context.Context, taskID string) (*domain.JobRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

func recordNotFound(taskID string) error {
	return domain.NotFound(fmt.Sprintf("task %s not found", taskID))
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.JobRecord)}
}

func (s *MemoryStore) Put(ctx context.Context, rec *domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.TaskID] = *rec
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, taskID string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[taskID]
	if !ok {
		return nil, recordNotFound(taskID)
	}
	return &rec, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

// RedisStore keeps records as JSON strings that expire after ttl.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore uses client without taking ownership of it.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "te:"
	}
	if ttl <= 0 {
		ttl = DefaultRecordTTL
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(taskID string) string {
	return s.prefix + "job:" + taskID
}

func (s *RedisStore) Put(ctx context.Context, rec *domain.JobRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.TaskID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, taskID string) (*domain.JobRecord, error) {
	data, err := s.client.Get(ctx, s.key(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, recordNotFound(taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec domain.JobRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal job record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the connection belongs to the caller.
func (s *RedisStore) Close() error { return nil }
