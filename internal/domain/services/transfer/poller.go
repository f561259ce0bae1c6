package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rail-service/cctp_transfer/internal/domain/entities"
	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
	"github.com/rail-service/cctp_transfer/internal/infrastructure/adapters/cctp"
)

// TransactionPolicy bounds confirmation polling with exponential backoff
type TransactionPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
	MaxElapsed      time.Duration
}

// AttestationPolicy polls Iris at a constant interval after an initial delay
type AttestationPolicy struct {
	InitialDelay time.Duration
	Interval     time.Duration
	MaxAttempts  int
}

// DefaultTransactionPolicy returns the confirmation polling defaults
func DefaultTransactionPolicy() TransactionPolicy {
	return TransactionPolicy{
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
		Multiplier:      1.5,
		MaxAttempts:     60,
		MaxElapsed:      5 * time.Minute,
	}
}

// DefaultAttestationPolicy returns 2s initial delay, 10s interval, 30 attempts
func DefaultAttestationPolicy() AttestationPolicy {
	return AttestationPolicy{
		InitialDelay: 2 * time.Second,
		Interval:     10 * time.Second,
		MaxAttempts:  30,
	}
}

var errTxPending = errors.New("transaction not yet confirmed")

// Poller waits for custody transactions and Iris attestations
type Poller struct {
	wallets   WalletProvider
	iris      AttestationProvider
	txPolicy  TransactionPolicy
	attPolicy AttestationPolicy
	recorder  StepRecorder
	logger    *zap.Logger
}

// NewPoller creates a poller. A nil recorder disables measurements.
func NewPoller(wallets WalletProvider, iris AttestationProvider, txPolicy TransactionPolicy, attPolicy AttestationPolicy, recorder StepRecorder, logger *zap.Logger) *Poller {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		wallets:   wallets,
		iris:      iris,
		txPolicy:  txPolicy,
		attPolicy: attPolicy,
		recorder:  recorder,
		logger:    logger,
	}
}

func (p *Poller) transactionBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.txPolicy.InitialInterval
	b.MaxInterval = p.txPolicy.MaxInterval
	if p.txPolicy.Multiplier > 0 {
		b.Multiplier = p.txPolicy.Multiplier
	}
	b.RandomizationFactor = 0.1
	return b
}

// WaitForTransaction polls until the transaction is CONFIRMED or COMPLETE.
// FAILED, CANCELLED and DENIED stop polling at once with ErrTransactionFailed.
func (p *Poller) WaitForTransaction(ctx context.Context, step entities.TransferStep, txID string) (*entities.CircleTransactionData, error) {
	attempts := 0
	lastState := entities.CircleTransactionState("")

	op := func() (*entities.CircleTransactionData, error) {
		attempts++
		tx, err := p.wallets.GetTransaction(ctx, txID)
		if err != nil {
			// only non-terminal states are polled again
			return nil, backoff.Permanent(err)
		}
		lastState = tx.State

		switch {
		case tx.State.IsSuccess():
			return tx, nil
		case tx.State.IsFailure():
			return nil, backoff.Permanent(domainerrors.TransactionFailedError(string(step), txID, string(tx.State)))
		default:
			return nil, errTxPending
		}
	}

	tx, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(p.transactionBackOff()),
		backoff.WithMaxTries(uint(p.txPolicy.MaxAttempts)),
		backoff.WithMaxElapsedTime(p.txPolicy.MaxElapsed),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Debug("Transaction not confirmed yet",
				zap.String("step", string(step)),
				zap.String("transactionId", txID),
				zap.String("state", string(lastState)),
				zap.Int("attempt", attempts),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	err = unwrapPermanent(err)

	switch {
	case err == nil:
		p.recorder.ObservePollAttempts("transaction", "confirmed", attempts)
		p.logger.Info("Transaction confirmed",
			zap.String("step", string(step)),
			zap.String("transactionId", txID),
			zap.String("state", string(tx.State)),
			zap.String("txHash", tx.TxHash),
			zap.Int("attempts", attempts))
		return tx, nil
	case domainerrors.IsTransactionFailed(err):
		p.recorder.ObservePollAttempts("transaction", "failed", attempts)
		return nil, err
	case ctx.Err() != nil:
		p.recorder.ObservePollAttempts("transaction", "cancelled", attempts)
		return nil, fmt.Errorf("waiting for %s transaction: %w", step, ctx.Err())
	case errors.Is(err, errTxPending):
		p.recorder.ObservePollAttempts("transaction", "timeout", attempts)
		p.logger.Warn("Gave up waiting for transaction",
			zap.String("step", string(step)),
			zap.String("transactionId", txID),
			zap.String("state", string(lastState)),
			zap.Int("attempts", attempts))
		return nil, domainerrors.ConfirmationTimeoutError(string(step), txID, attempts)
	default:
		p.recorder.ObservePollAttempts("transaction", "error", attempts)
		return nil, fmt.Errorf("get %s transaction status: %w", step, err)
	}
}

// WaitForAttestation polls Iris for the burn's message. 404, 429, an empty message
// list and a non-complete status are retried; any other error ends polling.
func (p *Poller) WaitForAttestation(ctx context.Context, sourceDomain uint32, txHash string) (*entities.Attestation, error) {
	if p.attPolicy.InitialDelay > 0 {
		timer := time.NewTimer(p.attPolicy.InitialDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("waiting for attestation: %w", ctx.Err())
		case <-timer.C:
		}
	}

	attempts := 0
	op := func() (*entities.Attestation, error) {
		attempts++
		resp, err := p.iris.GetMessages(ctx, sourceDomain, txHash)
		if err != nil {
			if cctp.IsNotFound(err) || cctp.IsRateLimited(err) || errors.Is(err, cctp.ErrNoMessages) {
				return nil, domainerrors.ErrAttestationNotReady
			}
			return nil, backoff.Permanent(err)
		}

		if resp == nil || len(resp.Messages) == 0 {
			return nil, domainerrors.ErrAttestationNotReady
		}
		msg := resp.Messages[0]
		if !msg.IsComplete() {
			return nil, domainerrors.ErrAttestationNotReady
		}
		return &entities.Attestation{
			Message:     msg.Message,
			Attestation: msg.Attestation,
			TxHash:      txHash,
		}, nil
	}

	att, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(p.attPolicy.Interval)),
		backoff.WithMaxTries(uint(p.attPolicy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Info("Attestation not ready, retrying",
				zap.Uint32("sourceDomain", sourceDomain),
				zap.String("txHash", txHash),
				zap.Int("attempt", attempts),
				zap.Duration("next", next))
		}),
	)
	err = unwrapPermanent(err)

	switch {
	case err == nil:
		p.recorder.ObservePollAttempts("attestation", "complete", attempts)
		p.logger.Info("Attestation received",
			zap.Uint32("sourceDomain", sourceDomain),
			zap.String("txHash", txHash),
			zap.Int("attempts", attempts))
		return att, nil
	case ctx.Err() != nil:
		p.recorder.ObservePollAttempts("attestation", "cancelled", attempts)
		return nil, fmt.Errorf("waiting for attestation: %w", ctx.Err())
	case errors.Is(err, domainerrors.ErrAttestationNotReady):
		p.recorder.ObservePollAttempts("attestation", "timeout", attempts)
		p.logger.Warn("Timeout waiting for attestation",
			zap.Uint32("sourceDomain", sourceDomain),
			zap.String("txHash", txHash),
			zap.Int("attempts", attempts))
		return nil, domainerrors.AttestationTimeoutError(sourceDomain, txHash, attempts)
	default:
		p.recorder.ObservePollAttempts("attestation", "error", attempts)
		p.logger.Error("Failed to get attestation",
			zap.Uint32("sourceDomain", sourceDomain),
			zap.String("txHash", txHash),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get attestation: %w", err)
	}
}

// unwrapPermanent strips the backoff wrapper, which Retry leaves in place
// when the permanent error lands on the last allowed attempt
func unwrapPermanent(err error) error {
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}
