package lending

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// PositionManager submits deposit, borrow and repay transactions to the
// lending pool. Each call returns only after the transaction is confirmed.
type PositionManager struct {
	exec    outbound.ExecutionClient
	pool    common.Address
	poolABI *abi.ABI
	logger  *slog.Logger
}

// NewPositionManager creates a new PositionManager for the given pool.
func NewPositionManager(exec outbound.ExecutionClient, pool common.Address, logger *slog.Logger) (*PositionManager, error) {
	if exec == nil {
		return nil, fmt.Errorf("execution client cannot be nil")
	}
	if pool == (common.Address{}) {
		return nil, fmt.Errorf("lending pool address is required")
	}
	poolABI, err := abis.GetLendingPoolABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPool ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PositionManager{
		exec:    exec,
		pool:    pool,
		poolABI: poolABI,
		logger:  logger.With("component", "position-manager", "pool", pool.Hex()),
	}, nil
}

// Pool returns the pool address, which is also the spender for deposits and repays.
func (m *PositionManager) Pool() common.Address {
	return m.pool
}

// Deposit supplies amount of asset as collateral credited to onBehalfOf.
// The caller must already have approved the pool for amount.
func (m *PositionManager) Deposit(ctx context.Context, asset common.Address, amount *big.Int, onBehalfOf common.Address, referralCode uint16) (*entity.Receipt, error) {
	if err := entity.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("deposit: %w", err)
	}
	data, err := m.poolABI.Pack("deposit", asset, amount, onBehalfOf, referralCode)
	if err != nil {
		return nil, fmt.Errorf("packing deposit: %w", err)
	}
	return m.send(ctx, "deposit", onBehalfOf, data, asset, amount)
}

// Borrow draws amount of asset against the account's collateral.
func (m *PositionManager) Borrow(ctx context.Context, asset common.Address, amount *big.Int, mode entity.InterestRateMode, referralCode uint16, account common.Address) (*entity.Receipt, error) {
	if err := entity.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("borrow: %w", err)
	}
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("borrow: %w", err)
	}
	data, err := m.poolABI.Pack("borrow", asset, amount, mode.BigInt(), referralCode, account)
	if err != nil {
		return nil, fmt.Errorf("packing borrow: %w", err)
	}
	return m.send(ctx, "borrow", account, data, asset, amount)
}

// Repay pays back amount of asset debt of the given rate mode. The caller
// must already have approved the pool for amount.
func (m *PositionManager) Repay(ctx context.Context, asset common.Address, amount *big.Int, mode entity.InterestRateMode, account common.Address) (*entity.Receipt, error) {
	if err := entity.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("repay: %w", err)
	}
	if err := mode.Validate(); err != nil {
		return nil, fmt.Errorf("repay: %w", err)
	}
	data, err := m.poolABI.Pack("repay", asset, amount, mode.BigInt(), account)
	if err != nil {
		return nil, fmt.Errorf("packing repay: %w", err)
	}
	return m.send(ctx, "repay", account, data, asset, amount)
}

func (m *PositionManager) send(ctx context.Context, method string, from common.Address, data []byte, asset common.Address, amount *big.Int) (*entity.Receipt, error) {
	receipt, err := submit(ctx, m.exec, outbound.TxRequest{
		Method: method,
		From:   from,
		To:     m.pool,
		Data:   data,
	})
	if err != nil {
		return receipt, err
	}
	m.logger.Debug("position updated",
		"method", method,
		"asset", asset.Hex(),
		"amount", amount.String(),
		"txHash", receipt.TxHash.Hex(),
		"blockNumber", receipt.BlockNumber)
	return receipt, nil
}
