package entity

import (
	"github.com/ethereum/go-ethereum/common"
)

// Receipt status values, matching go-ethereum's types.ReceiptStatus*.
const (
	ReceiptStatusFailed     uint64 = 0
	ReceiptStatusSuccessful uint64 = 1
)

// Receipt describes a confirmed transaction.
type Receipt struct {
	Method        string
	TxHash        common.Hash
	BlockNumber   uint64
	GasUsed       uint64
	Status        uint64
	Confirmations uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r.Status == ReceiptStatusSuccessful
}
