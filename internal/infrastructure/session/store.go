package session

import (
	"context"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
)

// Store persists transfer sessions between HTTP requests.
// Get returns domainerrors.ErrSessionNotFound for unknown or expired ids.
type Store interface {
	Get(ctx context.Context, id string) (*entities.TransferSession, error)
	Save(ctx context.Context, sess *entities.TransferSession) error
	Delete(ctx context.Context, id string) error
}

const keyPrefix = "cctp:session:"

func key(id string) string {
	return keyPrefix + id
}
