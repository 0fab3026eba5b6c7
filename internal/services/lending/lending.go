// Package lending implements the lending-market operations the workflow is
// built from: ERC20 allowances, pool positions, account data reads and
// oracle-based capacity conversion. Every component talks to the chain only
// through outbound.ExecutionClient.
package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Market holds the contract addresses of one deployed lending market.
type Market struct {
	Pool   common.Address
	Oracle common.Address
}

func (m Market) validate() error {
	if m.Pool == (common.Address{}) {
		return fmt.Errorf("lending pool address is required")
	}
	if m.Oracle == (common.Address{}) {
		return fmt.Errorf("price oracle address is required")
	}
	return nil
}

// submit sends a transaction and turns a non-successful receipt into a
// ChainExecutionError, so callers never observe a reverted receipt as success.
func submit(ctx context.Context, tx outbound.Transactor, req outbound.TxRequest) (*entity.Receipt, error) {
	receipt, err := tx.Transact(ctx, req)
	if err != nil {
		return receipt, err
	}
	if receipt == nil {
		return nil, &entity.ChainExecutionError{Method: req.Method, Reason: "no receipt returned"}
	}
	if !receipt.Succeeded() {
		return receipt, &entity.ChainExecutionError{
			Method: req.Method,
			TxHash: receipt.TxHash,
			Reason: fmt.Sprintf("receipt status %d", receipt.Status),
		}
	}
	return receipt, nil
}

// call performs an eth_call and unpacks the named method's outputs.
func call(ctx context.Context, caller outbound.ContractCaller, contract *abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	ret, err := callRaw(ctx, caller, contract, to, method, args...)
	if err != nil {
		return nil, err
	}
	return unpack(contract, method, ret)
}

// callRaw performs an eth_call and returns the undecoded return data.
func callRaw(ctx context.Context, caller outbound.ContractCaller, contract *abi.ABI, to common.Address, method string, args ...any) ([]byte, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("packing %s: %w", method, err)
	}
	ret, err := caller.Call(ctx, to, data)
	if err != nil {
		return nil, fmt.Errorf("calling %s on %s: %w", method, to.Hex(), err)
	}
	return ret, nil
}

func unpack(contract *abi.ABI, method string, ret []byte) ([]any, error) {
	out, err := contract.Unpack(method, ret)
	if err != nil {
		return nil, fmt.Errorf("unpacking %s: %w", method, err)
	}
	return out, nil
}
