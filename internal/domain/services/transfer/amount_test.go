package transfer

import (
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in       string
		expected string
	}{
		{"5", "5000000"},
		{"10", "10000000"},
		{"0.5", "500000"},
		{"1.234567", "1234567"},
		{"1000000", "1000000000000"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, err := ToBaseUnits(decimal.RequireFromString(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, base.String())
		})
	}
}

func TestToBaseUnits_Rejects(t *testing.T) {
	for _, in := range []string{"0", "-1", "0.0000001"} {
		t.Run(in, func(t *testing.T) {
			_, err := ToBaseUnits(decimal.RequireFromString(in))
			require.Error(t, err)
			assert.ErrorIs(t, err, domainerrors.ErrInvalidAmount)
		})
	}
}

func TestMaxBurnFee(t *testing.T) {
	assert.Equal(t, "1000", MaxBurnFee(big.NewInt(5000000)).String())
	assert.Equal(t, "2000", MaxBurnFee(big.NewInt(10000000)).String())
	// integer division truncates
	assert.Equal(t, "0", MaxBurnFee(big.NewInt(4999)).String())
	assert.Equal(t, "200", maxBurnFeeWithDivisor(big.NewInt(10000000), 50000).String())
}

func TestMintRecipientBytes32(t *testing.T) {
	out, err := MintRecipientBytes32("0xAbC0000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "0x000000000000000000000000abc0000000000000000000000000000000000001", out)
	assert.Len(t, out, 66)

	_, err = MintRecipientBytes32("0x1234")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidInput)
}

func TestParseAmount(t *testing.T) {
	amount, err := ParseAmount(" 12.5 ")
	require.NoError(t, err)
	assert.True(t, amount.Equal(decimal.RequireFromString("12.5")))

	_, err = ParseAmount("")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidAmount)

	_, err = ParseAmount("ten")
	assert.ErrorIs(t, err, domainerrors.ErrInvalidAmount)
}

func TestZeroBytes32(t *testing.T) {
	assert.Equal(t, "0x0000000000000000000000000000000000000000000000000000000000000000", ZeroBytes32)
}
