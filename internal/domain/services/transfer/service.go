package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
)

const (
	approveSignature        = "approve(address,uint256)"
	depositForBurnSignature = "depositForBurn(uint256,uint32,bytes32,address,bytes32,uint256,uint32)"
	receiveMessageSignature = "receiveMessage(bytes,bytes)"
)

// Config holds the service settings that do not come from the chain table
type Config struct {
	WalletSetID          string
	MinFinalityThreshold uint32
	MaxFeeDivisor        int64
}

// SetupInput selects the chains of a transfer
type SetupInput struct {
	SourceChain      string
	DestinationChain string
}

// ApproveInput authorizes the source token messenger to spend Amount.
// An empty SourceWalletID falls back to the session's source wallet.
type ApproveInput struct {
	SourceWalletID string
	Amount         decimal.Decimal
}

// BurnInput starts the cross-chain transfer. Zero Amount burns the approved amount;
// an empty DestinationAddress mints to the session's destination wallet.
type BurnInput struct {
	SourceWalletID     string
	DestinationAddress string
	Amount             decimal.Decimal
}

// MintInput selects the wallet that submits receiveMessage on the destination chain
type MintInput struct {
	RecipientWalletID string
}

// stepResult is what a step reports back for journaling
type stepResult struct {
	txID   string
	txHash string
}

// Service orchestrates CCTP transfers through developer-controlled wallets
type Service struct {
	wallets  WalletProvider
	iris     AttestationProvider
	poller   *Poller
	sessions SessionRepository
	journal  JournalRepository
	chains   entities.ChainRegistry
	recorder StepRecorder
	tracer   trace.Tracer
	config   Config
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewService creates a new transfer service. journal and recorder may be nil.
func NewService(
	wallets WalletProvider,
	iris AttestationProvider,
	poller *Poller,
	sessions SessionRepository,
	journal JournalRepository,
	chains entities.ChainRegistry,
	recorder StepRecorder,
	config Config,
	logger *zap.Logger,
) *Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MinFinalityThreshold == 0 {
		config.MinFinalityThreshold = DefaultMinFinalityThreshold
	}
	if config.MaxFeeDivisor <= 0 {
		config.MaxFeeDivisor = DefaultMaxFeeDivisor
	}
	return &Service{
		wallets:  wallets,
		iris:     iris,
		poller:   poller,
		sessions: sessions,
		journal:  journal,
		chains:   chains,
		recorder: recorder,
		tracer:   otel.Tracer("cctp_transfer/transfer"),
		config:   config,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// Chains lists the configured chains ordered by CCTP domain
func (s *Service) Chains() []entities.ChainConfig {
	return s.chains.List()
}

// Fees returns the Iris fee quote for a chain pair
func (s *Service) Fees(ctx context.Context, sourceChain, destinationChain string) ([]cctp.Fee, error) {
	src, err := s.lookupChain(sourceChain)
	if err != nil {
		return nil, err
	}
	dst, err := s.lookupChain(destinationChain)
	if err != nil {
		return nil, err
	}
	fees, err := s.iris.GetFees(ctx, src.Domain, dst.Domain)
	if err != nil {
		return nil, fmt.Errorf("get fees: %w", err)
	}
	return fees, nil
}

// Setup selects the chain pair and starts the session over
func (s *Service) Setup(ctx context.Context, sess *entities.TransferSession, in SetupInput) error {
	return s.run(ctx, entities.TransferStepSetup, sess, func(ctx context.Context) (stepResult, error) {
		src, err := s.lookupChain(in.SourceChain)
		if err != nil {
			return stepResult{}, err
		}
		dst, err := s.lookupChain(in.DestinationChain)
		if err != nil {
			return stepResult{}, err
		}
		if src.Name == dst.Name {
			return stepResult{}, domainerrors.ValidationError("destination_chain", "source and destination chains must differ")
		}

		fresh := entities.NewTransferSession(sess.ID)
		fresh.CreatedAt = sess.CreatedAt
		fresh.SourceChain = src.Name
		fresh.DestinationChain = dst.Name
		*sess = *fresh
		return stepResult{}, nil
	})
}

// CreateWallet creates one wallet on chain, which must be the session's source or
// destination chain, and returns the wallets exactly as the custody API reported them
func (s *Service) CreateWallet(ctx context.Context, sess *entities.TransferSession, chain string) ([]entities.CircleWalletData, error) {
	var wallets []entities.CircleWalletData
	err := s.run(ctx, entities.TransferStepCreateWallet, sess, func(ctx context.Context) (stepResult, error) {
		cfg, err := s.lookupChain(chain)
		if err != nil {
			return stepResult{}, err
		}
		if sess.SourceChain == "" || sess.DestinationChain == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepCreateWallet), "source_chain")
		}
		if cfg.Name != sess.SourceChain && cfg.Name != sess.DestinationChain {
			return stepResult{}, domainerrors.ValidationError("blockchain",
				fmt.Sprintf("chain %s is neither the source (%s) nor the destination (%s) of this transfer",
					cfg.Name, sess.SourceChain, sess.DestinationChain))
		}

		wallets, err = s.wallets.CreateWallets(ctx, entities.CircleWalletCreateRequest{
			IdempotencyKey: uuid.NewString(),
			Blockchains:    []string{cfg.Name},
			Count:          1,
			AccountType:    string(entities.AccountTypeFor(cfg.Name)),
			WalletSetID:    s.config.WalletSetID,
		})
		if err != nil {
			return stepResult{}, err
		}
		if len(wallets) == 0 {
			return stepResult{}, fmt.Errorf("create wallet: no wallets returned")
		}

		w := wallets[0]
		if cfg.Name == sess.SourceChain {
			sess.SourceWalletID = w.ID
			sess.SourceWalletAddress = w.Address
		} else {
			sess.DestinationWalletID = w.ID
			sess.DestinationWalletAddress = w.Address
		}
		return stepResult{}, nil
	})
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

// Approve lets the source token messenger spend the amount and waits for confirmation
func (s *Service) Approve(ctx context.Context, sess *entities.TransferSession, in ApproveInput) (*entities.CircleTransactionData, error) {
	var confirmed *entities.CircleTransactionData
	err := s.run(ctx, entities.TransferStepApprove, sess, func(ctx context.Context) (stepResult, error) {
		src, err := s.lookupChain(sess.SourceChain)
		if err != nil {
			return stepResult{}, err
		}
		walletID := firstNonEmpty(in.SourceWalletID, sess.SourceWalletID)
		if walletID == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepApprove), "source_wallet_id")
		}
		base, err := ToBaseUnits(in.Amount)
		if err != nil {
			return stepResult{}, err
		}

		tx, err := s.wallets.CreateContractExecution(ctx, entities.CircleContractExecutionRequest{
			IdempotencyKey:       uuid.NewString(),
			WalletID:             walletID,
			ContractAddress:      src.USDC,
			AbiFunctionSignature: approveSignature,
			AbiParameters:        []interface{}{src.TokenMessenger, base.String()},
			FeeLevel:             entities.FeeLevelLow,
			RefID:                refID(sess, entities.TransferStepApprove),
		})
		if err != nil {
			return stepResult{}, err
		}
		sess.SourceWalletID = walletID
		sess.Amount = in.Amount
		sess.ApproveTxID = tx.ID
		s.checkpoint(ctx, sess)

		confirmed, err = s.poller.WaitForTransaction(ctx, entities.TransferStepApprove, tx.ID)
		if err != nil {
			return stepResult{txID: tx.ID}, err
		}
		sess.ApproveTxHash = confirmed.TxHash
		return stepResult{txID: tx.ID, txHash: confirmed.TxHash}, nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Burn calls depositForBurn on the source token messenger and records the burn hash
// that the attestation lookup is keyed on
func (s *Service) Burn(ctx context.Context, sess *entities.TransferSession, in BurnInput) (*entities.CircleTransactionData, error) {
	var confirmed *entities.CircleTransactionData
	err := s.run(ctx, entities.TransferStepBurn, sess, func(ctx context.Context) (stepResult, error) {
		src, err := s.lookupChain(sess.SourceChain)
		if err != nil {
			return stepResult{}, err
		}
		dst, err := s.lookupChain(sess.DestinationChain)
		if err != nil {
			return stepResult{}, err
		}
		walletID := firstNonEmpty(in.SourceWalletID, sess.SourceWalletID)
		if walletID == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepBurn), "source_wallet_id")
		}

		amount := in.Amount
		if amount.IsZero() {
			amount = sess.Amount
		}
		base, err := ToBaseUnits(amount)
		if err != nil {
			return stepResult{}, err
		}
		if amount.GreaterThan(sess.Amount) {
			return stepResult{}, domainerrors.InvalidAmountError(amount.String(),
				fmt.Sprintf("burn amount exceeds the approved amount %s", sess.Amount.String()))
		}

		recipient := firstNonEmpty(in.DestinationAddress, sess.DestinationWalletAddress)
		if recipient == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepBurn), "destination_address")
		}
		mintRecipient, err := MintRecipientBytes32(recipient)
		if err != nil {
			return stepResult{}, err
		}
		maxFee := maxBurnFeeWithDivisor(base, s.config.MaxFeeDivisor)

		tx, err := s.wallets.CreateContractExecution(ctx, entities.CircleContractExecutionRequest{
			IdempotencyKey:       uuid.NewString(),
			WalletID:             walletID,
			ContractAddress:      src.TokenMessenger,
			AbiFunctionSignature: depositForBurnSignature,
			AbiParameters: []interface{}{
				base.String(),
				fmt.Sprintf("%d", dst.Domain),
				mintRecipient,
				src.USDC,
				ZeroBytes32,
				maxFee.String(),
				fmt.Sprintf("%d", s.config.MinFinalityThreshold),
			},
			FeeLevel: entities.FeeLevelMedium,
			RefID:    refID(sess, entities.TransferStepBurn),
		})
		if err != nil {
			return stepResult{}, err
		}
		sess.SourceWalletID = walletID
		sess.Amount = amount
		sess.DestinationAddress = common.HexToAddress(recipient).Hex()
		sess.BurnTxID = tx.ID
		s.checkpoint(ctx, sess)

		confirmed, err = s.poller.WaitForTransaction(ctx, entities.TransferStepBurn, tx.ID)
		if err != nil {
			return stepResult{txID: tx.ID}, err
		}
		if confirmed.TxHash == "" {
			return stepResult{txID: tx.ID}, fmt.Errorf("burn transaction %s confirmed without a tx hash", tx.ID)
		}
		sess.BurnTxHash = confirmed.TxHash
		return stepResult{txID: tx.ID, txHash: confirmed.TxHash}, nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// ReceiveAttestation waits for Iris to attest the session's burn
func (s *Service) ReceiveAttestation(ctx context.Context, sess *entities.TransferSession) (*entities.Attestation, error) {
	var att *entities.Attestation
	err := s.run(ctx, entities.TransferStepAttestation, sess, func(ctx context.Context) (stepResult, error) {
		if sess.BurnTxHash == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepAttestation), "burn_tx_hash")
		}
		src, err := s.lookupChain(sess.SourceChain)
		if err != nil {
			return stepResult{}, err
		}

		att, err = s.poller.WaitForAttestation(ctx, src.Domain, sess.BurnTxHash)
		if err != nil {
			return stepResult{txHash: sess.BurnTxHash}, err
		}
		sess.Attestation = att
		return stepResult{txHash: sess.BurnTxHash}, nil
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// Mint submits receiveMessage on the destination message transmitter. It only runs
// with a complete attestation fetched for this session's burn hash.
func (s *Service) Mint(ctx context.Context, sess *entities.TransferSession, in MintInput) (*entities.CircleTransactionData, error) {
	var confirmed *entities.CircleTransactionData
	err := s.run(ctx, entities.TransferStepMint, sess, func(ctx context.Context) (stepResult, error) {
		att := sess.Attestation
		if att == nil || att.Message == "" || att.Attestation == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepMint), "attestation")
		}
		if !strings.EqualFold(att.TxHash, sess.BurnTxHash) {
			return stepResult{}, domainerrors.AttestationMismatchError(att.TxHash, sess.BurnTxHash)
		}
		dst, err := s.lookupChain(sess.DestinationChain)
		if err != nil {
			return stepResult{}, err
		}
		walletID := firstNonEmpty(in.RecipientWalletID, sess.DestinationWalletID)
		if walletID == "" {
			return stepResult{}, domainerrors.MissingSessionDataError(string(entities.TransferStepMint), "destination_wallet_id")
		}

		tx, err := s.wallets.CreateContractExecution(ctx, entities.CircleContractExecutionRequest{
			IdempotencyKey:       uuid.NewString(),
			WalletID:             walletID,
			ContractAddress:      dst.MessageTransmitter,
			AbiFunctionSignature: receiveMessageSignature,
			AbiParameters:        []interface{}{att.Message, att.Attestation},
			FeeLevel:             entities.FeeLevelMedium,
			RefID:                refID(sess, entities.TransferStepMint),
		})
		if err != nil {
			return stepResult{}, err
		}
		sess.MintTxID = tx.ID
		s.checkpoint(ctx, sess)

		confirmed, err = s.poller.WaitForTransaction(ctx, entities.TransferStepMint, tx.ID)
		if err != nil {
			return stepResult{txID: tx.ID}, err
		}
		sess.MintTxHash = confirmed.TxHash
		return stepResult{txID: tx.ID, txHash: confirmed.TxHash}, nil
	})
	if err != nil {
		return nil, err
	}
	return confirmed, nil
}

// Reset abandons the transfer and removes the session. Funds already burned stay
// claimable on-chain with the burn hash, which is kept in the journal.
func (s *Service) Reset(ctx context.Context, sess *entities.TransferSession) error {
	if !s.tryLock(sess.ID) {
		return domainerrors.StepInProgressError(sess.ID)
	}
	defer s.unlock(sess.ID)

	// a session already gone is reset all the same
	if err := s.reload(ctx, sess); err != nil && !errors.Is(err, domainerrors.ErrSessionNotFound) {
		return err
	}

	ctx, span := s.startSpan(ctx, entities.TransferStepReset, sess)
	defer span.End()
	start := time.Now()

	previous := sess.State
	sess.State = entities.TransferStateAbandoned
	sess.Touch()

	s.record(ctx, sess, entities.TransferStepReset, stepResult{txHash: sess.BurnTxHash}, nil)
	if err := s.sessions.Delete(ctx, sess.ID); err != nil {
		s.finishSpan(span, err)
		s.recorder.ObserveStep(string(entities.TransferStepReset), "error", time.Since(start))
		return fmt.Errorf("delete session: %w", err)
	}

	if previous == entities.TransferStateBurned || previous == entities.TransferStateAttestationReceived {
		s.logger.Warn("Transfer abandoned after burn",
			zap.String("sessionId", sess.ID),
			zap.String("previousState", string(previous)),
			zap.String("burnTxHash", sess.BurnTxHash))
	} else {
		s.logger.Info("Transfer reset",
			zap.String("sessionId", sess.ID),
			zap.String("previousState", string(previous)))
	}
	s.finishSpan(span, nil)
	s.recorder.ObserveStep(string(entities.TransferStepReset), "success", time.Since(start))
	return nil
}

// run executes one step: state check, the step body, then save, journal and measure.
// Only one step may run per session at a time.
func (s *Service) run(ctx context.Context, step entities.TransferStep, sess *entities.TransferSession, fn func(ctx context.Context) (stepResult, error)) error {
	if sess == nil {
		return domainerrors.ErrSessionNotFound
	}
	if !s.tryLock(sess.ID) {
		return domainerrors.StepInProgressError(sess.ID)
	}
	defer s.unlock(sess.ID)

	// the caller loaded sess before taking the lock. Setup starts over, so it
	// may run on a session that is gone.
	if err := s.reload(ctx, sess); err != nil {
		if step != entities.TransferStepSetup || !errors.Is(err, domainerrors.ErrSessionNotFound) {
			return err
		}
	}

	if err := checkState(step, sess); err != nil {
		s.recorder.ObserveStep(string(step), "rejected", 0)
		return err
	}

	ctx, span := s.startSpan(ctx, step, sess)
	defer span.End()
	start := time.Now()

	res, err := fn(ctx)
	if err != nil {
		s.fail(ctx, step, sess, res, err)
		s.finishSpan(span, err)
		s.recorder.ObserveStep(string(step), outcomeFor(err), time.Since(start))
		return err
	}

	advance(step, sess)
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.finishSpan(span, err)
		s.recorder.ObserveStep(string(step), "error", time.Since(start))
		return fmt.Errorf("save session: %w", err)
	}
	s.record(ctx, sess, step, res, nil)

	s.logger.Info("Transfer step completed",
		zap.String("sessionId", sess.ID),
		zap.String("step", string(step)),
		zap.String("state", string(sess.State)),
		zap.String("txId", res.txID),
		zap.String("txHash", res.txHash),
		zap.Duration("duration", time.Since(start)))
	s.finishSpan(span, nil)
	s.recorder.ObserveStep(string(step), "success", time.Since(start))
	return nil
}

// fail keeps the session in its current state with the error attached. Input
// errors raised before anything was submitted are not persisted.
func (s *Service) fail(ctx context.Context, step entities.TransferStep, sess *entities.TransferSession, res stepResult, stepErr error) {
	if domainerrors.IsBadRequest(stepErr) || domainerrors.IsPrecondition(stepErr) {
		s.logger.Debug("Transfer step rejected",
			zap.String("sessionId", sess.ID),
			zap.String("step", string(step)),
			zap.Error(stepErr))
		return
	}

	sess.LastError = stepErr.Error()
	sess.Touch()
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Error("Failed to save session after step error",
			zap.String("sessionId", sess.ID),
			zap.String("step", string(step)),
			zap.Error(err))
	}
	s.record(ctx, sess, step, res, stepErr)

	s.logger.Error("Transfer step failed",
		zap.String("sessionId", sess.ID),
		zap.String("step", string(step)),
		zap.String("state", string(sess.State)),
		zap.String("txId", res.txID),
		zap.Error(stepErr))
}

func (s *Service) record(ctx context.Context, sess *entities.TransferSession, step entities.TransferStep, res stepResult, stepErr error) {
	if s.journal == nil {
		return
	}
	entry := &entities.TransferJournalEntry{
		ID:          uuid.New(),
		SessionID:   sess.ID,
		Step:        step,
		State:       sess.State,
		SourceChain: sess.SourceChain,
		DestChain:   sess.DestinationChain,
		TxID:        res.txID,
		TxHash:      res.txHash,
		CreatedAt:   time.Now().UTC(),
	}
	if !sess.Amount.IsZero() {
		entry.Amount = sess.Amount.String()
	}
	if stepErr != nil {
		entry.ErrorMessage = stepErr.Error()
	}
	// The journal is an audit trail; a write failure must not fail the transfer.
	if err := s.journal.Record(ctx, entry); err != nil {
		s.logger.Warn("Failed to record transfer journal entry",
			zap.String("sessionId", sess.ID),
			zap.String("step", string(step)),
			zap.Error(err))
	}
}

// checkpoint saves a submitted transaction id before polling starts
func (s *Service) checkpoint(ctx context.Context, sess *entities.TransferSession) {
	sess.Touch()
	if err := s.sessions.Save(ctx, sess); err != nil {
		s.logger.Warn("Failed to checkpoint session",
			zap.String("sessionId", sess.ID),
			zap.Error(err))
	}
}

func (s *Service) lookupChain(chain string) (entities.ChainConfig, error) {
	if strings.TrimSpace(chain) == "" {
		return entities.ChainConfig{}, domainerrors.ValidationError("chain", "chain is required")
	}
	cfg, ok := s.chains.Lookup(chain)
	if !ok {
		return entities.ChainConfig{}, domainerrors.UnsupportedChainError(chain)
	}
	return cfg, nil
}

func (s *Service) startSpan(ctx context.Context, step entities.TransferStep, sess *entities.TransferSession) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "transfer."+string(step),
		trace.WithAttributes(
			attribute.String("transfer.session_id", sess.ID),
			attribute.String("transfer.state", string(sess.State)),
			attribute.String("transfer.source_chain", sess.SourceChain),
			attribute.String("transfer.destination_chain", sess.DestinationChain),
		))
}

func (s *Service) finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// reload replaces the caller's snapshot with the stored session. Only a session
// that was never set up may be missing from the store; any other missing
// session was reset or swept.
func (s *Service) reload(ctx context.Context, sess *entities.TransferSession) error {
	current, err := s.sessions.Get(ctx, sess.ID)
	switch {
	case err == nil:
		*sess = *current
		return nil
	case errors.Is(err, domainerrors.ErrSessionNotFound):
		if sess.State == entities.TransferStateSetup && sess.SourceChain == "" {
			return nil
		}
		return err
	default:
		return fmt.Errorf("load session: %w", err)
	}
}

// TryLock claims a session for exclusive work. Steps, Reset and the stale
// transfer sweeper all go through it.
func (s *Service) TryLock(id string) bool {
	return s.tryLock(id)
}

// Unlock releases a session claimed with TryLock
func (s *Service) Unlock(id string) {
	s.unlock(id)
}

func (s *Service) tryLock(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.active[id]; busy {
		return false
	}
	s.active[id] = struct{}{}
	return true
}

func (s *Service) unlock(id string) {
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
}

func outcomeFor(err error) string {
	switch {
	case domainerrors.IsBadRequest(err), domainerrors.IsPrecondition(err):
		return "rejected"
	case domainerrors.IsTransactionFailed(err):
		return "failed"
	case domainerrors.IsTimeout(err):
		return "timeout"
	default:
		return "error"
	}
}

func refID(sess *entities.TransferSession, step entities.TransferStep) string {
	return fmt.Sprintf("%s:%s", sess.ID, step)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
