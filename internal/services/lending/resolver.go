package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// MarketResolver discovers pool and oracle addresses by calling
// getLendingPool() and getPriceOracle() on a LendingPoolAddressesProvider.
type MarketResolver struct {
	caller      outbound.ContractCaller
	providerABI *abi.ABI
}

// NewMarketResolver creates a new MarketResolver.
func NewMarketResolver(caller outbound.ContractCaller) (*MarketResolver, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	providerABI, err := abis.GetLendingPoolAddressesProviderABI()
	if err != nil {
		return nil, fmt.Errorf("loading LendingPoolAddressesProvider ABI: %w", err)
	}
	return &MarketResolver{caller: caller, providerABI: providerABI}, nil
}

// Resolve fills the zero fields of known from the provider. Explicit
// addresses are kept as given; the provider is only called for what is missing.
func (r *MarketResolver) Resolve(ctx context.Context, known Market, provider common.Address) (Market, error) {
	if known.validate() == nil {
		return known, nil
	}
	if provider == (common.Address{}) {
		return Market{}, fmt.Errorf("resolving market: %w", known.validate())
	}

	m := known
	if m.Pool == (common.Address{}) {
		pool, err := r.address(ctx, provider, "getLendingPool")
		if err != nil {
			return Market{}, err
		}
		m.Pool = pool
	}
	if m.Oracle == (common.Address{}) {
		oracle, err := r.address(ctx, provider, "getPriceOracle")
		if err != nil {
			return Market{}, err
		}
		m.Oracle = oracle
	}
	if err := m.validate(); err != nil {
		return Market{}, fmt.Errorf("provider %s returned %w", provider.Hex(), err)
	}
	return m, nil
}

func (r *MarketResolver) address(ctx context.Context, provider common.Address, method string) (common.Address, error) {
	out, err := call(ctx, r.caller, r.providerABI, provider, method)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolving market: %w", err)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s return type %T", method, out[0])
	}
	return addr, nil
}
