package entities

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircleTransactionResponse_Unmarshal(t *testing.T) {
	t.Run("lookup shape", func(t *testing.T) {
		body := `{"data":{"transaction":{"id":"tx-1","state":"CONFIRMED","txHash":"0xabc"}}}`
		var resp CircleTransactionResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "tx-1", resp.Transaction.ID)
		assert.Equal(t, CircleTxStateConfirmed, resp.Transaction.State)
		assert.Equal(t, "0xabc", resp.Transaction.TxHash)
	})

	t.Run("contract execution shape", func(t *testing.T) {
		body := `{"data":{"id":"tx-2","state":"INITIATED"}}`
		var resp CircleTransactionResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "tx-2", resp.Transaction.ID)
		assert.Equal(t, CircleTxStateInitiated, resp.Transaction.State)
	})

	t.Run("empty", func(t *testing.T) {
		var resp CircleTransactionResponse
		require.NoError(t, json.Unmarshal([]byte(`{}`), &resp))
		assert.Empty(t, resp.Transaction.ID)
	})
}

func TestCircleWalletCreateResponse_Unmarshal(t *testing.T) {
	body := `{"data":{"wallets":[{"id":"w-1","address":"0x1111111111111111111111111111111111111111","blockchain":"ETH-SEPOLIA","accountType":"SCA"}]}}`
	var resp CircleWalletCreateResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Wallets, 1)
	assert.Equal(t, "w-1", resp.Wallets[0].ID)
	assert.Equal(t, "ETH-SEPOLIA", resp.Wallets[0].Blockchain)
}

func TestCircleTransactionState(t *testing.T) {
	assert.True(t, CircleTxStateConfirmed.IsSuccess())
	assert.True(t, CircleTxStateComplete.IsSuccess())
	assert.False(t, CircleTxStateSent.IsSuccess())

	for _, s := range []CircleTransactionState{CircleTxStateFailed, CircleTxStateCancelled, CircleTxStateDenied} {
		assert.True(t, s.IsFailure(), s)
	}
	assert.False(t, CircleTxStateQueued.IsFailure())
}

func TestNewCircleAPIError(t *testing.T) {
	err := NewCircleAPIError(429, CircleErrorResponse{Message: "slow down"}, "req-1", nil)
	assert.Equal(t, "rate_limit", err.Type)
	assert.True(t, err.IsRetryable())

	err = NewCircleAPIError(400, CircleErrorResponse{
		Code:    2,
		Message: "invalid",
		Errors:  []CircleFieldError{{Field: "walletId", Message: "required"}},
	}, "", nil)
	assert.Equal(t, "validation", err.Type)
	assert.False(t, err.IsRetryable())
	assert.Contains(t, err.Error(), "walletId: required")
}
