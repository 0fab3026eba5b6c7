package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Allowance mirrors an ERC20 allowance record: Spender may pull up to
// Amount of Asset from Owner.
type Allowance struct {
	Asset   common.Address
	Owner   common.Address
	Spender common.Address
	Amount  *big.Int
}

// Covers reports whether the allowance is enough to transfer amount.
func (a *Allowance) Covers(amount *big.Int) bool {
	return a.Amount != nil && amount != nil && a.Amount.Cmp(amount) >= 0
}
