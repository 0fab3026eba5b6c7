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

// AllowanceGranter sets ERC20 allowances so the pool can pull funds.
type AllowanceGranter struct {
	exec     outbound.ExecutionClient
	erc20ABI *abi.ABI
	logger   *slog.Logger
}

// NewAllowanceGranter creates a new AllowanceGranter.
func NewAllowanceGranter(exec outbound.ExecutionClient, logger *slog.Logger) (*AllowanceGranter, error) {
	if exec == nil {
		return nil, fmt.Errorf("execution client cannot be nil")
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AllowanceGranter{
		exec:     exec,
		erc20ABI: erc20ABI,
		logger:   logger.With("component", "allowance-granter"),
	}, nil
}

// GrantAllowance approves spender to pull amount of asset from account and
// waits for the approval to confirm. The allowance is set, not added to.
func (g *AllowanceGranter) GrantAllowance(ctx context.Context, asset, spender common.Address, amount *big.Int, account common.Address) (*entity.Receipt, error) {
	if err := entity.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("approve: %w", err)
	}

	data, err := g.erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, fmt.Errorf("packing approve: %w", err)
	}

	receipt, err := submit(ctx, g.exec, outbound.TxRequest{
		Method: "approve",
		From:   account,
		To:     asset,
		Data:   data,
	})
	if err != nil {
		return receipt, err
	}

	g.logger.Debug("allowance granted",
		"asset", asset.Hex(),
		"spender", spender.Hex(),
		"amount", amount.String(),
		"txHash", receipt.TxHash.Hex())
	return receipt, nil
}

// Allowance reads the current allowance of spender over owner's asset.
func (g *AllowanceGranter) Allowance(ctx context.Context, asset, owner, spender common.Address) (*entity.Allowance, error) {
	out, err := call(ctx, g.exec, g.erc20ABI, asset, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	amount, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected allowance return type %T", out[0])
	}
	return &entity.Allowance{
		Asset:   asset,
		Owner:   owner,
		Spender: spender,
		Amount:  amount,
	}, nil
}
