package entity

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinel errors for errors.Is checks. The typed errors below match them.
var (
	ErrChainExecution = errors.New("chain execution failed")
	ErrInvalidPrice   = errors.New("invalid price")
	ErrTransport      = errors.New("transport failure")
)

// ChainExecutionError reports a transaction that reverted, failed to
// confirm, or a call the node rejected during execution.
type ChainExecutionError struct {
	Method string
	TxHash common.Hash
	Reason string
	Err    error
}

func (e *ChainExecutionError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Method, ErrChainExecution)
	if e.TxHash != (common.Hash{}) {
		msg += " (tx " + e.TxHash.Hex() + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ChainExecutionError) Unwrap() error { return e.Err }

func (e *ChainExecutionError) Is(target error) bool { return target == ErrChainExecution }

// InvalidPriceError reports a zero, negative or missing oracle price.
type InvalidPriceError struct {
	Asset common.Address
	Price *big.Int
}

func (e *InvalidPriceError) Error() string {
	price := "<nil>"
	if e.Price != nil {
		price = e.Price.String()
	}
	if e.Asset == (common.Address{}) {
		return fmt.Sprintf("%s: %s", ErrInvalidPrice, price)
	}
	return fmt.Sprintf("%s for %s: %s", ErrInvalidPrice, e.Asset.Hex(), price)
}

func (e *InvalidPriceError) Is(target error) bool { return target == ErrInvalidPrice }

// TransportError reports that the node could not be reached.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrTransport, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }
