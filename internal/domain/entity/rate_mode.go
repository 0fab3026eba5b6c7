package entity

import (
	"fmt"
	"math/big"
)

// InterestRateMode selects the debt type on borrow and repay.
type InterestRateMode uint8

const (
	RateModeStable   InterestRateMode = 1
	RateModeVariable InterestRateMode = 2
)

// ParseRateMode accepts "stable", "variable" or the numeric mode.
func ParseRateMode(s string) (InterestRateMode, error) {
	switch s {
	case "1", "stable":
		return RateModeStable, nil
	case "2", "variable":
		return RateModeVariable, nil
	default:
		return 0, fmt.Errorf("unknown interest rate mode %q", s)
	}
}

// Validate rejects modes the lending pool does not know.
func (m InterestRateMode) Validate() error {
	if m != RateModeStable && m != RateModeVariable {
		return fmt.Errorf("invalid interest rate mode %d", m)
	}
	return nil
}

// BigInt returns the mode as the uint256 the pool ABI expects.
func (m InterestRateMode) BigInt() *big.Int {
	return big.NewInt(int64(m))
}

func (m InterestRateMode) String() string {
	switch m {
	case RateModeStable:
		return "stable"
	case RateModeVariable:
		return "variable"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}
