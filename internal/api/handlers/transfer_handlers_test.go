package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/cctp_transfer/internal/api/middleware"
	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/domain/services/transfer"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/session"
	"github.com/rail-service/cctp_transfer/pkg/logger"
)

const burnHash = "0x4a1b2c3d4e5f60718293a4b5c6d7e8f90a1b2c3d4e5f60718293a4b5c6d7e8f9"

func init() {
	gin.SetMode(gin.TestMode)
	if err := RegisterValidators(); err != nil {
		panic(err)
	}
}

type MockTransferService struct {
	mock.Mock
}

func (m *MockTransferService) Chains() []entities.ChainConfig {
	args := m.Called()
	return args.Get(0).([]entities.ChainConfig)
}

func (m *MockTransferService) Fees(ctx context.Context, sourceChain, destinationChain string) ([]cctp.Fee, error) {
	args := m.Called(ctx, sourceChain, destinationChain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cctp.Fee), args.Error(1)
}

func (m *MockTransferService) Setup(ctx context.Context, sess *entities.TransferSession, in transfer.SetupInput) error {
	args := m.Called(ctx, sess, in)
	return args.Error(0)
}

func (m *MockTransferService) CreateWallet(ctx context.Context, sess *entities.TransferSession, chain string) ([]entities.CircleWalletData, error) {
	args := m.Called(ctx, sess, chain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.CircleWalletData), args.Error(1)
}

func (m *MockTransferService) Approve(ctx context.Context, sess *entities.TransferSession, in transfer.ApproveInput) (*entities.CircleTransactionData, error) {
	args := m.Called(ctx, sess, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CircleTransactionData), args.Error(1)
}

func (m *MockTransferService) Burn(ctx context.Context, sess *entities.TransferSession, in transfer.BurnInput) (*entities.CircleTransactionData, error) {
	args := m.Called(ctx, sess, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CircleTransactionData), args.Error(1)
}

func (m *MockTransferService) ReceiveAttestation(ctx context.Context, sess *entities.TransferSession) (*entities.Attestation, error) {
	args := m.Called(ctx, sess)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Attestation), args.Error(1)
}

func (m *MockTransferService) Mint(ctx context.Context, sess *entities.TransferSession, in transfer.MintInput) (*entities.CircleTransactionData, error) {
	args := m.Called(ctx, sess, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.CircleTransactionData), args.Error(1)
}

func (m *MockTransferService) Reset(ctx context.Context, sess *entities.TransferSession) error {
	args := m.Called(ctx, sess)
	return args.Error(0)
}

type stubJournal struct {
	entries []entities.TransferJournalEntry
}

func (s stubJournal) History(_ context.Context, _ string) ([]entities.TransferJournalEntry, error) {
	return s.entries, nil
}

func newTestRouter(svc TransferService, journal JournalReader, store session.Store) *gin.Engine {
	log := logger.NewNop()
	h := NewTransferHandlers(svc, journal, log)
	ch := NewChainHandlers(svc, log)

	r := gin.New()
	v1 := r.Group("/api/v1")
	v1.GET("/chains", ch.ListChains)
	v1.GET("/fees", ch.GetFees)

	t := v1.Group("/transfer", middleware.Session(store, middleware.SessionOptions{TTL: time.Hour}, log))
	t.GET("", h.GetTransfer)
	t.DELETE("", h.Reset)
	t.GET("/history", h.History)
	t.POST("/setup", h.Setup)
	t.POST("/wallets", h.CreateWallet)
	t.POST("/approve", h.Approve)
	t.POST("/burn", h.Burn)
	t.POST("/attestation", h.ReceiveAttestation)
	t.POST("/mint", h.Mint)
	return r
}

func doJSON(r http.Handler, method, path string, body interface{}, sessionID string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) entities.ErrorResponse {
	t.Helper()
	var resp entities.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func savedSession(t *testing.T, store session.Store, state entities.TransferState) *entities.TransferSession {
	t.Helper()
	sess := entities.NewTransferSession("")
	sess.State = state
	sess.SourceChain = "ETH-SEPOLIA"
	sess.DestinationChain = "BASE-SEPOLIA"
	require.NoError(t, store.Save(context.Background(), sess))
	return sess
}

func TestSetupHandler(t *testing.T) {
	svc := new(MockTransferService)
	store := session.NewMemoryStore(time.Hour)
	r := newTestRouter(svc, nil, store)

	svc.On("Setup", mock.Anything, mock.AnythingOfType("*entities.TransferSession"), transfer.SetupInput{
		SourceChain:      "ETH-SEPOLIA",
		DestinationChain: "BASE-SEPOLIA",
	}).Run(func(args mock.Arguments) {
		sess := args.Get(1).(*entities.TransferSession)
		sess.SourceChain = "ETH-SEPOLIA"
		sess.DestinationChain = "BASE-SEPOLIA"
	}).Return(nil)

	w := doJSON(r, http.MethodPost, "/api/v1/transfer/setup", SetupRequest{
		SourceChain:      "ETH-SEPOLIA",
		DestinationChain: "BASE-SEPOLIA",
	}, "")

	require.Equal(t, http.StatusOK, w.Code)
	var view TransferView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, w.Header().Get(middleware.SessionHeader), view.SessionID)
	assert.Equal(t, "Setup", view.State)
	assert.Equal(t, []string{"setup", "create_wallet"}, view.NextSteps)
	assert.Equal(t, "BASE-SEPOLIA", view.DestinationChain)
	svc.AssertExpectations(t)
}

func TestSetupHandlerAcceptsForm(t *testing.T) {
	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, session.NewMemoryStore(time.Hour))
	svc.On("Setup", mock.Anything, mock.Anything, transfer.SetupInput{
		SourceChain:      "AVAX-FUJI",
		DestinationChain: "ETH-SEPOLIA",
	}).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfer/setup",
		bytes.NewBufferString("source_chain=AVAX-FUJI&destination_chain=ETH-SEPOLIA"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestApproveHandler(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateWalletCreated)

	t.Run("rejects more than six decimals", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/approve", ApproveRequest{Amount: "1.1234567"}, sess.ID)

		require.Equal(t, http.StatusBadRequest, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, ErrCodeInvalidRequest, resp.Code)
		assert.Equal(t, "usdc_amount", resp.Details["amount"])
		svc.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejects missing amount", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/approve", map[string]string{}, sess.ID)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "required", decodeError(t, w).Details["amount"])
	})

	t.Run("returns the confirmed transaction", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)
		svc.On("Approve", mock.Anything, mock.MatchedBy(func(s *entities.TransferSession) bool {
			return s.ID == sess.ID
		}), mock.MatchedBy(func(in transfer.ApproveInput) bool {
			return in.Amount.Equal(decimal.NewFromInt(10)) && in.SourceWalletID == ""
		})).Return(&entities.CircleTransactionData{
			ID:     "tx-approve",
			State:  entities.CircleTxStateConfirmed,
			TxHash: burnHash,
		}, nil)

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/approve", ApproveRequest{Amount: "10"}, sess.ID)

		require.Equal(t, http.StatusOK, w.Code)
		var resp StepResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.NotNil(t, resp.Transaction)
		assert.Equal(t, "tx-approve", resp.Transaction.ID)
		assert.Equal(t, "0x4a1b...e8f9", resp.Transaction.TxHashDisplay)
		svc.AssertExpectations(t)
	})
}

func TestBurnHandler(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateApproved)

	t.Run("rejects a malformed destination", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/burn", BurnRequest{DestinationAddress: "0x1234"}, sess.ID)

		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "eth_addr", decodeError(t, w).Details["destination_address"])
	})

	t.Run("empty amount burns the approved amount", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)
		svc.On("Burn", mock.Anything, mock.Anything, mock.MatchedBy(func(in transfer.BurnInput) bool {
			return in.Amount.IsZero()
		})).Return(&entities.CircleTransactionData{ID: "tx-burn", TxHash: burnHash}, nil)

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/burn", BurnRequest{}, sess.ID)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("confirmation timeout maps to 504", func(t *testing.T) {
		svc := new(MockTransferService)
		r := newTestRouter(svc, nil, store)
		svc.On("Burn", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, domainerrors.ConfirmationTimeoutError("burn", "tx-burn", 60))

		w := doJSON(r, http.MethodPost, "/api/v1/transfer/burn", BurnRequest{Amount: "5"}, sess.ID)

		require.Equal(t, http.StatusGatewayTimeout, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, "CONFIRMATION_TIMEOUT", resp.Code)
		assert.Equal(t, "tx-burn", resp.Details["transaction_id"])
	})
}

func TestAttestationAndMintHandlers(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateBurned)

	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, store)
	svc.On("ReceiveAttestation", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		s := args.Get(1).(*entities.TransferSession)
		s.State = entities.TransferStateAttestationReceived
		s.Attestation = &entities.Attestation{
			Message:     "0x000000010000000000000006abcdef0123456789",
			Attestation: "0xa1b2c3d4e5f6a7b8c9d0e1f2",
			TxHash:      burnHash,
		}
	}).Return(&entities.Attestation{}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/transfer/attestation", nil, sess.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var view TransferView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	require.NotNil(t, view.Attestation)
	assert.Equal(t, "0x0000...6789", view.Attestation.MessageDisplay)
	assert.Equal(t, []string{"mint"}, view.NextSteps)

	svc.On("Mint", mock.Anything, mock.Anything, transfer.MintInput{}).
		Return(nil, domainerrors.TransactionFailedError("mint", "tx-mint", "FAILED"))

	w = doJSON(r, http.MethodPost, "/api/v1/transfer/mint", nil, sess.ID)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "TRANSACTION_FAILED", decodeError(t, w).Code)
}

func TestOutOfOrderStepReturnsConflict(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateSetup)

	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, store)
	svc.On("ReceiveAttestation", mock.Anything, mock.Anything).
		Return(nil, domainerrors.PreconditionError("attestation", "Setup", "Burned"))

	w := doJSON(r, http.MethodPost, "/api/v1/transfer/attestation", nil, sess.ID)

	require.Equal(t, http.StatusConflict, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "PRECONDITION_FAILED", resp.Code)
	assert.Equal(t, "Setup", resp.Details["state"])
}

func TestCreateWalletHandler(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateSetup)

	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, store)
	svc.On("CreateWallet", mock.Anything, mock.Anything, "AVAX-FUJI").
		Return([]entities.CircleWalletData{{ID: "w-1", Address: "0x1111111111111111111111111111111111111111", Blockchain: "AVAX-FUJI", AccountType: "EOA"}}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/transfer/wallets", CreateWalletRequest{Blockchain: "AVAX-FUJI"}, sess.ID)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp WalletsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Wallets, 1)
	assert.Equal(t, "EOA", resp.Wallets[0].AccountType)
}

func TestResetAndGetTransfer(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateApproved)

	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, store)

	w := doJSON(r, http.MethodGet, "/api/v1/transfer", nil, sess.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var view TransferView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "Approved", view.State)
	assert.Equal(t, []string{"setup", "burn"}, view.NextSteps)

	svc.On("Reset", mock.Anything, mock.Anything).Return(nil)
	w = doJSON(r, http.MethodDelete, "/api/v1/transfer", nil, sess.ID)
	assert.Equal(t, http.StatusNoContent, w.Code)
	svc.AssertExpectations(t)
}

func TestHistoryHandler(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateApproved)

	w := doJSON(newTestRouter(new(MockTransferService), nil, store), http.MethodGet, "/api/v1/transfer/history", nil, sess.ID)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, ErrCodeHistoryDisabled, decodeError(t, w).Code)

	journal := stubJournal{entries: []entities.TransferJournalEntry{
		{SessionID: sess.ID, Step: entities.TransferStepApprove, State: entities.TransferStateApproved},
	}}
	w = doJSON(newTestRouter(new(MockTransferService), journal, store), http.MethodGet, "/api/v1/transfer/history", nil, sess.ID)
	require.Equal(t, http.StatusOK, w.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, sess.ID, resp.SessionID)
	assert.Len(t, resp.Entries, 1)
}

func TestChainHandlers(t *testing.T) {
	svc := new(MockTransferService)
	r := newTestRouter(svc, nil, session.NewMemoryStore(time.Hour))

	svc.On("Chains").Return([]entities.ChainConfig{
		{Name: "ETH-SEPOLIA", Domain: 0},
		{Name: "AVAX-FUJI", Domain: 1},
	})
	w := doJSON(r, http.MethodGet, "/api/v1/chains", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var chains []ChainView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &chains))
	require.Len(t, chains, 2)
	assert.Equal(t, entities.AccountTypeSCA, chains[0].AccountType)
	assert.Equal(t, entities.AccountTypeEOA, chains[1].AccountType)

	w = doJSON(r, http.MethodGet, "/api/v1/fees?source=ETH-SEPOLIA", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	svc.On("Fees", mock.Anything, "ETH-SEPOLIA", "MARS").Return(nil, domainerrors.UnsupportedChainError("MARS"))
	w = doJSON(r, http.MethodGet, "/api/v1/fees?source=ETH-SEPOLIA&destination=MARS", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED_CHAIN", decodeError(t, w).Code)

	svc.On("Fees", mock.Anything, "ETH-SEPOLIA", "BASE-SEPOLIA").
		Return([]cctp.Fee{{FinalityThreshold: 1000, MinimumFee: 1}, {FinalityThreshold: 2000, MinimumFee: 0}}, nil)
	w = doJSON(r, http.MethodGet, "/api/v1/fees?source=ETH-SEPOLIA&destination=BASE-SEPOLIA", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var fees FeesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fees))
	assert.Len(t, fees.Fees, 2)
}

func TestErrorFor(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"precondition", domainerrors.MissingSessionDataError("mint", "attestation"), http.StatusConflict, "MISSING_SESSION_DATA"},
		{"step in progress", domainerrors.StepInProgressError("s"), http.StatusConflict, "STEP_IN_PROGRESS"},
		{"validation", domainerrors.ValidationError("destination_chain", "same chain"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid amount", domainerrors.InvalidAmountError("0", "amount must be positive"), http.StatusBadRequest, "INVALID_AMOUNT"},
		{"attestation timeout", domainerrors.AttestationTimeoutError(0, burnHash, 30), http.StatusGatewayTimeout, "ATTESTATION_TIMEOUT"},
		{"session missing", domainerrors.ErrSessionNotFound, http.StatusNotFound, ErrCodeSessionNotFound},
		{"breaker open", fmt.Errorf("create wallet failed: %w", gobreaker.ErrOpenState), http.StatusServiceUnavailable, ErrCodeServiceUnavailable},
		{"circle error", fmt.Errorf("contract execution failed: %w", &entities.CircleAPIError{StatusCode: 400, Message: "bad"}), http.StatusBadGateway, ErrCodeUpstreamError},
		{"iris error", fmt.Errorf("get fees: %w", &cctp.ErrorResponse{StatusCode: 400}), http.StatusBadGateway, ErrCodeUpstreamError},
		{"circle server error while polling", fmt.Errorf("get approve transaction status: %w", &entities.CircleAPIError{StatusCode: 500}), http.StatusBadGateway, ErrCodeUpstreamError},
		{"iris server error", fmt.Errorf("get messages failed: %w", &cctp.ErrorResponse{StatusCode: 500}), http.StatusBadGateway, ErrCodeUpstreamError},
		{"transport failure", fmt.Errorf("get transaction failed: %w", &url.Error{Op: "Get", URL: "https://api.circle.com/v1/w3s/transactions/tx-1", Err: errors.New("connection refused")}), http.StatusBadGateway, ErrCodeUpstreamError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := errorFor(tt.err)
			assert.Equal(t, tt.status, resp.status)
			assert.Equal(t, tt.code, resp.code)
		})
	}
}

func TestTransportFailureNamesHostOnly(t *testing.T) {
	err := &url.Error{Op: "Get", URL: "https://api.circle.com/v1/w3s/transactions/tx-1", Err: errors.New("connection refused")}
	resp := errorFor(err)
	assert.Equal(t, "api.circle.com", resp.details["upstream_host"])
	assert.NotContains(t, resp.message, "connection refused")
}

func TestUnknownErrorDoesNotLeakMessage(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	sess := savedSession(t, store, entities.TransferStateSetup)

	svc := new(MockTransferService)
	svc.On("CreateWallet", mock.Anything, mock.Anything, "ETH-SEPOLIA").
		Return(nil, errors.New("dial tcp 10.0.0.5:443: connection refused"))

	w := doJSON(newTestRouter(svc, nil, store), http.MethodPost, "/api/v1/transfer/wallets", CreateWalletRequest{Blockchain: "ETH-SEPOLIA"}, sess.ID)

	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")
}
