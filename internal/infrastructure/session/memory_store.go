package session

import (
	"context"
	"fmt"
	"time"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/syncmap"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
)

// MemoryStore keeps sessions in process. Used for development and tests;
// sessions are lost on restart and are not shared between replicas.
type MemoryStore struct {
	store gokv.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewMemoryStore creates an in-process store. A zero ttl never expires sessions.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		store: syncmap.NewStore(syncmap.Options{Codec: encoding.JSON}),
		ttl:   ttl,
		now:   time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*entities.TransferSession, error) {
	var sess entities.TransferSession
	found, err := s.store.Get(key(id), &sess)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !found {
		return nil, domainerrors.ErrSessionNotFound
	}
	if s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl {
		_ = s.store.Delete(key(id))
		return nil, domainerrors.ErrSessionNotFound
	}
	return &sess, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *entities.TransferSession) error {
	if err := s.store.Set(key(sess.ID), sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	if err := s.store.Delete(key(id)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Close releases the underlying store
func (s *MemoryStore) Close() error {
	return s.store.Close()
}
