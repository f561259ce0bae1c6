package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/cache"
)

// RedisStore keeps sessions as JSON values with a sliding TTL
type RedisStore struct {
	client cache.RedisClient
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(client cache.RedisClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*entities.TransferSession, error) {
	var sess entities.TransferSession
	if err := s.client.Get(ctx, key(id), &sess); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, domainerrors.ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *entities.TransferSession) error {
	if err := s.client.Set(ctx, key(sess.ID), sess, s.ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, key(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
