package outbound

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
)

// TxRequest is a contract call to be signed by From and submitted.
type TxRequest struct {
	// Method names the contract method for logs and errors ("approve", "deposit", ...).
	Method string
	From   common.Address
	To     common.Address
	Data   []byte
}

// ContractCaller executes read-only calls against the latest state.
type ContractCaller interface {
	// Call performs an eth_call and returns the raw return data.
	// Node-side execution errors are returned as *entity.ChainExecutionError,
	// unreachable nodes as *entity.TransportError.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

// Transactor submits transactions and blocks until they are final.
type Transactor interface {
	// Transact signs, submits and waits for the transaction to reach the
	// configured confirmation depth. A reverted transaction is returned as
	// *entity.ChainExecutionError together with its receipt.
	Transact(ctx context.Context, req TxRequest) (*entity.Receipt, error)
}

// ExecutionClient is the blockchain execution collaborator.
type ExecutionClient interface {
	ContractCaller
	Transactor
}
