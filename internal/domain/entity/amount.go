package entity

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ValidateAmount checks that amount can be sent on-chain as a uint256.
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return fmt.Errorf("amount must not be nil")
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("amount must be non-negative, got %s", amount)
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return fmt.Errorf("amount %s overflows uint256", amount)
	}
	return nil
}

// FormatUnits converts a smallest-denomination integer to its decimal form,
// e.g. FormatUnits(1500000000000000000, 18) == "1.5".
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, -int32(decimals)).String()
}

// ParseUnits converts a decimal string to smallest-denomination units.
// Inputs with more fractional digits than decimals are rejected rather
// than rounded.
func ParseUnits(s string, decimals uint8) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must be non-negative, got %s", s)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%q has more than %d decimal places", s, decimals)
	}
	return scaled.BigInt(), nil
}

// Pow10 returns 10^n as a big.Int.
func Pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
