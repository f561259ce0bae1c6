package session

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/cache"
)

func sampleSession() *entities.TransferSession {
	sess := entities.NewTransferSession("")
	sess.State = entities.TransferStateBurned
	sess.SourceChain = "ETH-SEPOLIA"
	sess.DestinationChain = "AVAX-FUJI"
	sess.Amount = decimal.RequireFromString("12.5")
	sess.BurnTxHash = "0xburn"
	sess.Attestation = &entities.Attestation{Message: "0xm", Attestation: "0xa", TxHash: "0xburn"}
	return sess
}

func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()
	sess := sampleSession()

	_, err := store.Get(ctx, sess.ID)
	assert.True(t, errors.Is(err, domainerrors.ErrSessionNotFound))

	require.NoError(t, store.Save(ctx, sess))

	loaded, err := store.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.State, loaded.State)
	assert.True(t, sess.Amount.Equal(loaded.Amount))
	assert.Equal(t, "0xburn", loaded.Attestation.TxHash)

	require.NoError(t, store.Delete(ctx, sess.ID))
	_, err = store.Get(ctx, sess.ID)
	assert.True(t, errors.Is(err, domainerrors.ErrSessionNotFound))
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(time.Hour)
	defer store.Close()
	exerciseStore(t, store)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	now := time.Now()
	store.now = func() time.Time { return now }

	sess := sampleSession()
	sess.UpdatedAt = now.Add(-2 * time.Minute)
	require.NoError(t, store.Save(context.Background(), sess))

	_, err := store.Get(context.Background(), sess.ID)
	assert.True(t, errors.Is(err, domainerrors.ErrSessionNotFound))
}

// Runs against a real server when TEST_REDIS_ADDR is set, e.g. localhost:6379
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()
	require.NoError(t, rdb.Ping(context.Background()).Err())

	exerciseStore(t, NewRedisStore(cache.NewRedisClientFrom(rdb, nil), time.Minute))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "cctp:session:abc", key("abc"))
}
