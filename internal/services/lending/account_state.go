package lending

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// AccountStateReader reads an account's aggregate position from the pool.
type AccountStateReader struct {
	caller  outbound.ContractCaller
	pool    common.Address
	poolABI *abi.ABI
}

// NewAccountStateReader creates a new AccountStateReader.
func NewAccountStateReader(caller outbound.ContractCaller, pool common.Address) (*AccountStateReader, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if pool == (common.Address{}) {
		return nil, fmt.Errorf("lending pool address is required")
	}
	poolABI, err := abis.GetLendingPoolABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPool ABI: %w", err)
	}
	return &AccountStateReader{caller: caller, pool: pool, poolABI: poolABI}, nil
}

// GetSnapshot returns a fresh AccountSnapshot. Nothing is cached: every
// call is a new eth_call against the latest block.
func (r *AccountStateReader) GetSnapshot(ctx context.Context, account common.Address) (*entity.AccountSnapshot, error) {
	out, err := call(ctx, r.caller, r.poolABI, r.pool, "getUserAccountData", account)
	if err != nil {
		return nil, err
	}
	if len(out) != 6 {
		return nil, fmt.Errorf("getUserAccountData returned %d values, expected 6", len(out))
	}

	values := make([]*big.Int, len(out))
	for i, v := range out {
		b, ok := v.(*big.Int)
		if !ok {
			return nil, fmt.Errorf("getUserAccountData value %d has type %T", i, v)
		}
		values[i] = b
	}

	return &entity.AccountSnapshot{
		Account:              account,
		TotalCollateral:      values[0],
		TotalDebt:            values[1],
		AvailableBorrows:     values[2],
		LiquidationThreshold: values[3],
		LTV:                  values[4],
		HealthFactor:         values[5],
	}, nil
}
