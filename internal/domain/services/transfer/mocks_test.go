package transfer

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
)

type MockWalletProvider struct {
	mock.Mock
}

func (m *MockWalletProvider) CreateWallets(ctx context.Context, req entities.CircleWalletCreateRequest) ([]entities.CircleWalletData, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.CircleWalletData), args.Error(1)
}

func (m *MockWalletProvider) CreateContractExecution(ctx context.Context, req entities.CircleContractExecutionRequest) (*entities.CircleTransactionData, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CircleTransactionData), args.Error(1)
}

func (m *MockWalletProvider) GetTransaction(ctx context.Context, transactionID string) (*entities.CircleTransactionData, error) {
	args := m.Called(ctx, transactionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CircleTransactionData), args.Error(1)
}

type MockAttestationProvider struct {
	mock.Mock
}

func (m *MockAttestationProvider) GetMessages(ctx context.Context, sourceDomain uint32, txHash string) (*cctp.MessagesResponse, error) {
	args := m.Called(ctx, sourceDomain, txHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cctp.MessagesResponse), args.Error(1)
}

func (m *MockAttestationProvider) GetFees(ctx context.Context, sourceDomain, destDomain uint32) ([]cctp.Fee, error) {
	args := m.Called(ctx, sourceDomain, destDomain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cctp.Fee), args.Error(1)
}

// memorySessions keeps a copy of the last saved version of each session
type memorySessions struct {
	mu      sync.Mutex
	saved   map[string]entities.TransferSession
	saves   int
	deleted []string
}

func newMemorySessions() *memorySessions {
	return &memorySessions{saved: make(map[string]entities.TransferSession)}
}

func (m *memorySessions) Get(_ context.Context, id string) (*entities.TransferSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.saved[id]
	if !ok {
		return nil, domainerrors.ErrSessionNotFound
	}
	return &sess, nil
}

// seed stores sess as an earlier request would have, without counting a save
func (m *memorySessions) seed(sess *entities.TransferSession) *entities.TransferSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[sess.ID] = *sess
	return sess
}

func (m *memorySessions) Save(_ context.Context, sess *entities.TransferSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[sess.ID] = *sess
	m.saves++
	return nil
}

func (m *memorySessions) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.saved, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *memorySessions) get(id string) (entities.TransferSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.saved[id]
	return sess, ok
}

type memoryJournal struct {
	mu      sync.Mutex
	entries []entities.TransferJournalEntry
}

func (j *memoryJournal) Record(_ context.Context, entry *entities.TransferJournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, *entry)
	return nil
}

func (j *memoryJournal) steps() []entities.TransferStep {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]entities.TransferStep, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e.Step)
	}
	return out
}

type countingRecorder struct {
	mu    sync.Mutex
	steps map[string]int
	polls map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{steps: map[string]int{}, polls: map[string]int{}}
}

func (r *countingRecorder) ObserveStep(step, outcome string, _ time.Duration) {
	r.mu.Lock()
	r.steps[step+"/"+outcome]++
	r.mu.Unlock()
}

func (r *countingRecorder) ObservePollAttempts(kind, outcome string, attempts int) {
	r.mu.Lock()
	r.polls[kind+"/"+outcome] += attempts
	r.mu.Unlock()
}

func fastTransactionPolicy(attempts int) TransactionPolicy {
	return TransactionPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      1.5,
		MaxAttempts:     attempts,
		MaxElapsed:      5 * time.Second,
	}
}

func fastAttestationPolicy(attempts int) AttestationPolicy {
	return AttestationPolicy{
		Interval:    time.Millisecond,
		MaxAttempts: attempts,
	}
}
