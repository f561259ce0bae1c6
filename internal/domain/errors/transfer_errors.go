package errors

import (
	"errors"
	"fmt"
)

// Transfer-specific errors
var (
	// ErrTransactionFailed means the custody provider reported FAILED, CANCELLED or DENIED
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrAttestationNotReady is transient: Iris returned 404 or a non-complete status
	ErrAttestationNotReady = errors.New("attestation not ready")

	ErrAttestationTimeout  = errors.New("timeout waiting for attestation")
	ErrConfirmationTimeout = errors.New("timeout waiting for transaction confirmation")

	// ErrPrecondition is returned when a step runs out of order or session data is missing
	ErrPrecondition = errors.New("transfer precondition not met")

	ErrUnsupportedChain = errors.New("unsupported chain")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrSessionNotFound  = errors.New("transfer session not found")
)

// TransactionFailedError reports a terminal custody transaction state
func TransactionFailedError(step, txID, state string) *DomainError {
	return &DomainError{
		Err:     ErrTransactionFailed,
		Code:    "TRANSACTION_FAILED",
		Message: fmt.Sprintf("%s transaction failed with state %s", step, state),
		Details: map[string]interface{}{
			"step":           step,
			"transaction_id": txID,
			"state":          state,
		},
	}
}

// ConfirmationTimeoutError is returned when polling gives up on a transaction
func ConfirmationTimeoutError(step, txID string, attempts int) *DomainError {
	return &DomainError{
		Err:     ErrConfirmationTimeout,
		Code:    "CONFIRMATION_TIMEOUT",
		Message: fmt.Sprintf("timeout waiting for %s transaction confirmation", step),
		Details: map[string]interface{}{
			"step":           step,
			"transaction_id": txID,
			"attempts":       attempts,
		},
		Retryable: true,
	}
}

// AttestationTimeoutError is returned after the last failed attestation attempt
func AttestationTimeoutError(domain uint32, txHash string, attempts int) *DomainError {
	return &DomainError{
		Err:     ErrAttestationTimeout,
		Code:    "ATTESTATION_TIMEOUT",
		Message: "timeout waiting for attestation",
		Details: map[string]interface{}{
			"source_domain": domain,
			"tx_hash":       txHash,
			"attempts":      attempts,
		},
		Retryable: true,
	}
}

// PreconditionError reports an out-of-order step
func PreconditionError(step, state string, allowed ...string) *DomainError {
	return &DomainError{
		Err:     ErrPrecondition,
		Code:    "PRECONDITION_FAILED",
		Message: fmt.Sprintf("cannot %s while transfer is in state %s", step, state),
		Details: map[string]interface{}{
			"step":           step,
			"state":          state,
			"allowed_states": allowed,
		},
	}
}

// MissingSessionDataError reports a step that needs data an earlier step should have stored
func MissingSessionDataError(step, field string) *DomainError {
	return &DomainError{
		Err:     ErrPrecondition,
		Code:    "MISSING_SESSION_DATA",
		Message: fmt.Sprintf("cannot %s: %s is not set on the transfer", step, field),
		Details: map[string]interface{}{
			"step":  step,
			"field": field,
		},
	}
}

// AttestationMismatchError rejects a mint whose attestation was fetched for a different burn
func AttestationMismatchError(attestedTxHash, burnTxHash string) *DomainError {
	return &DomainError{
		Err:     ErrPrecondition,
		Code:    "ATTESTATION_MISMATCH",
		Message: "attestation does not belong to the burn transaction of this transfer",
		Details: map[string]interface{}{
			"attestation_tx_hash": attestedTxHash,
			"burn_tx_hash":        burnTxHash,
		},
	}
}

// StepInProgressError rejects a step while another one is running on the same transfer
func StepInProgressError(sessionID string) *DomainError {
	return &DomainError{
		Err:     ErrPrecondition,
		Code:    "STEP_IN_PROGRESS",
		Message: "another step is already running for this transfer",
		Details: map[string]interface{}{
			"session_id": sessionID,
		},
		Retryable: true,
	}
}

// UnsupportedChainError creates an error for a blockchain missing from the chain table
func UnsupportedChainError(chain string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedChain,
		Code:    "UNSUPPORTED_CHAIN",
		Message: fmt.Sprintf("chain %s is not supported", chain),
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// InvalidAmountError creates an amount validation error
func InvalidAmountError(amount, reason string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidAmount,
		Code:    "INVALID_AMOUNT",
		Message: reason,
		Details: map[string]interface{}{
			"amount": amount,
		},
	}
}

func IsPrecondition(err error) bool {
	return errors.Is(err, ErrPrecondition)
}

func IsTransactionFailed(err error) bool {
	return errors.Is(err, ErrTransactionFailed)
}

// IsTimeout covers both confirmation and attestation polling timeouts
func IsTimeout(err error) bool {
	return errors.Is(err, ErrConfirmationTimeout) || errors.Is(err, ErrAttestationTimeout)
}

// IsBadRequest covers input the caller can fix
func IsBadRequest(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnsupportedChain) ||
		errors.Is(err, ErrInvalidAmount)
}
