package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PriceQuote is an oracle price for one whole unit of Asset, expressed in
// smallest units of the market's unit of account.
type PriceQuote struct {
	Asset common.Address
	Price *big.Int
}

// Valid reports whether the quote can be used as a divisor.
func (q *PriceQuote) Valid() bool {
	return q != nil && q.Price != nil && q.Price.Sign() > 0
}
