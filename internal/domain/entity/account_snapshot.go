package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AccountSnapshot is the aggregate position of an account inside a lending
// market, as returned by getUserAccountData. Collateral, debt and available
// borrows are denominated in the market's unit of account (smallest units).
type AccountSnapshot struct {
	Account          common.Address
	TotalCollateral  *big.Int
	TotalDebt        *big.Int
	AvailableBorrows *big.Int

	// LiquidationThreshold and LTV are in basis points (8000 = 80%).
	LiquidationThreshold *big.Int
	LTV                  *big.Int

	// HealthFactor has 18 decimals (1e18 = 1.0).
	HealthFactor *big.Int
}

// HasDebt reports whether the account owes anything.
func (s *AccountSnapshot) HasDebt() bool {
	return s.TotalDebt != nil && s.TotalDebt.Sign() > 0
}
