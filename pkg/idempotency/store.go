package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/syncmap"

	"github.com/rail-service/cctp_transfer/internal/infrastructure/cache"
)

const keyPrefix = "cctp:idempotency:"

// Record is a stored response for one idempotency key
type Record struct {
	RequestHash string    `json:"request_hash"`
	Status      int       `json:"status"`
	ContentType string    `json:"content_type,omitempty"`
	Body        []byte    `json:"body,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (r *Record) contentType() string {
	if r.ContentType == "" {
		return "application/json; charset=utf-8"
	}
	return r.ContentType
}

// Store persists replayable responses. Get returns nil, nil for unknown keys.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Save(ctx context.Context, key string, record *Record, ttl time.Duration) error
}

// RedisStore shares idempotency records between replicas
type RedisStore struct {
	client cache.RedisClient
}

func NewRedisStore(client cache.RedisClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	var record Record
	if err := s.client.Get(ctx, keyPrefix+key, &record); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, nil
		}
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	return &record, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, record *Record, ttl time.Duration) error {
	if err := s.client.Set(ctx, keyPrefix+key, record, ttl); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

// MemoryStore keeps records in process
type MemoryStore struct {
	store gokv.Store
	now   func() time.Time
}

type memoryRecord struct {
	Record    Record    `json:"record"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		store: syncmap.NewStore(syncmap.Options{Codec: encoding.JSON}),
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Record, error) {
	var entry memoryRecord
	found, err := s.store.Get(keyPrefix+key, &entry)
	if err != nil {
		return nil, fmt.Errorf("load idempotency record: %w", err)
	}
	if !found {
		return nil, nil
	}
	if !entry.ExpiresAt.IsZero() && s.now().After(entry.ExpiresAt) {
		_ = s.store.Delete(keyPrefix + key)
		return nil, nil
	}
	return &entry.Record, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, record *Record, ttl time.Duration) error {
	entry := memoryRecord{Record: *record}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
	}
	if err := s.store.Set(keyPrefix+key, entry); err != nil {
		return fmt.Errorf("save idempotency record: %w", err)
	}
	return nil
}

func (s *MemoryStore) Close() error {
	return s.store.Close()
}
