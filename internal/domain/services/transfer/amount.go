package transfer

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	domainerrors "github.com/rail-service/cctp_transfer/internal/domain/errors"
)

const (
	// USDCDecimals is the token precision on every CCTP EVM chain
	USDCDecimals = 6

	// DefaultMaxFeeDivisor caps the fast-transfer fee at 0.02% of the burn amount
	DefaultMaxFeeDivisor = 5000

	// DefaultMinFinalityThreshold requests a fast (soft finality) attestation
	DefaultMinFinalityThreshold = 1000
)

// ZeroBytes32 is used as destinationCaller so anyone may relay the mint
var ZeroBytes32 = common.Hash{}.Hex()

// ParseAmount parses a user supplied decimal USDC amount
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, domainerrors.InvalidAmountError(raw, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, domainerrors.InvalidAmountError(raw, "amount must be a decimal number")
	}
	return amount, nil
}

// ToBaseUnits converts a USDC amount to its 6-decimal integer representation
func ToBaseUnits(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, domainerrors.InvalidAmountError(amount.String(), "amount must be positive")
	}
	scaled := amount.Shift(USDCDecimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, domainerrors.InvalidAmountError(amount.String(), "amount has more than 6 decimal places")
	}
	return scaled.BigInt(), nil
}

// MaxBurnFee returns the largest fee depositForBurn may deduct, base / 5000
func MaxBurnFee(base *big.Int) *big.Int {
	return maxBurnFeeWithDivisor(base, DefaultMaxFeeDivisor)
}

func maxBurnFeeWithDivisor(base *big.Int, divisor int64) *big.Int {
	if divisor <= 0 {
		divisor = DefaultMaxFeeDivisor
	}
	return new(big.Int).Quo(base, big.NewInt(divisor))
}

// MintRecipientBytes32 left-pads a 20-byte EVM address to the bytes32 form depositForBurn expects
func MintRecipientBytes32(address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", domainerrors.ValidationError("destination_address", "destination address is not a valid EVM address")
	}
	addr := common.HexToAddress(address)
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), common.HashLength)).Hex(), nil
}
