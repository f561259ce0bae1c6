package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransferErrorCategories(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"transaction failed", TransactionFailedError("burn", "tx-1", "FAILED"), IsTransactionFailed},
		{"confirmation timeout", ConfirmationTimeoutError("approve", "tx-1", 20), IsTimeout},
		{"attestation timeout", AttestationTimeoutError(0, "0xabc", 30), IsTimeout},
		{"precondition", PreconditionError("burn", "Setup", "Approved"), IsPrecondition},
		{"missing data", MissingSessionDataError("mint", "burn_tx_hash"), IsPrecondition},
		{"unsupported chain", UnsupportedChainError("SOL-DEVNET"), IsBadRequest},
		{"invalid amount", InvalidAmountError("0", "amount must be positive"), IsBadRequest},
		{"validation", ValidationError("amount", "required"), IsBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			wrapped := fmt.Errorf("step: %w", tt.err)
			assert.True(t, tt.check(wrapped))
		})
	}
}

func TestPreconditionError_Details(t *testing.T) {
	err := PreconditionError("mint", "Burned", "AttestationReceived")

	assert.Equal(t, "PRECONDITION_FAILED", GetErrorCode(err))
	assert.Equal(t, "cannot mint while transfer is in state Burned", err.Error())
	details := GetErrorDetails(err)
	assert.Equal(t, []string{"AttestationReceived"}, details["allowed_states"])
}

func TestGetErrorCode_Unknown(t *testing.T) {
	assert.Equal(t, "UNKNOWN_ERROR", GetErrorCode(errors.New("plain")))
	assert.Nil(t, GetErrorDetails(errors.New("plain")))
}

func TestTimeoutsAreRetryable(t *testing.T) {
	assert.True(t, ConfirmationTimeoutError("burn", "tx", 1).IsRetryable())
	assert.True(t, AttestationTimeoutError(1, "0x", 30).IsRetryable())
	assert.False(t, TransactionFailedError("burn", "tx", "DENIED").IsRetryable())
}
