package transfer

import (
	"context"
	"time"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
)

// WalletProvider is the custody API the transfer flow signs through
type WalletProvider interface {
	CreateWallets(ctx context.Context, req entities.CircleWalletCreateRequest) ([]entities.CircleWalletData, error)
	CreateContractExecution(ctx context.Context, req entities.CircleContractExecutionRequest) (*entities.CircleTransactionData, error)
	GetTransaction(ctx context.Context, transactionID string) (*entities.CircleTransactionData, error)
}

// AttestationProvider is satisfied by the Iris client
type AttestationProvider = cctp.CCTPClient

// SessionRepository persists sessions after each step. Get returns
// domainerrors.ErrSessionNotFound for unknown ids.
type SessionRepository interface {
	Get(ctx context.Context, id string) (*entities.TransferSession, error)
	Save(ctx context.Context, sess *entities.TransferSession) error
	Delete(ctx context.Context, id string) error
}

// JournalRepository records every step outcome. Optional.
type JournalRepository interface {
	Record(ctx context.Context, entry *entities.TransferJournalEntry) error
}

// StepRecorder receives step and polling measurements. Optional.
type StepRecorder interface {
	ObserveStep(step, outcome string, duration time.Duration)
	ObservePollAttempts(kind, outcome string, attempts int)
}

type noopRecorder struct{}

func (noopRecorder) ObserveStep(string, string, time.Duration) {}
func (noopRecorder) ObservePollAttempts(string, string, int) {}
