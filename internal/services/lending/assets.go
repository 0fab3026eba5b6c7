package lending

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// AssetReader reads token metadata from the ERC20 contract itself.
type AssetReader struct {
	caller   outbound.ContractCaller
	erc20ABI *abi.ABI
}

// NewAssetReader creates a new AssetReader.
func NewAssetReader(caller outbound.ContractCaller) (*AssetReader, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	return &AssetReader{caller: caller, erc20ABI: erc20ABI}, nil
}

// Decimals calls decimals() on token.
func (r *AssetReader) Decimals(ctx context.Context, token common.Address) (uint8, error) {
	ret, err := callRaw(ctx, r.caller, r.erc20ABI, token, "decimals")
	if err != nil {
		return 0, err
	}
	if len(ret) == 0 {
		return 0, fmt.Errorf("token %s returned no data for decimals; not a contract?", token.Hex())
	}
	out, err := unpack(r.erc20ABI, "decimals", ret)
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals return type %T", out[0])
	}
	return decimals, nil
}

// Verify checks the configured decimals of asset against the token contract.
func (r *AssetReader) Verify(ctx context.Context, asset *entity.Asset) error {
	if asset == nil {
		return fmt.Errorf("asset cannot be nil")
	}
	onChain, err := r.Decimals(ctx, asset.Address)
	if err != nil {
		return fmt.Errorf("reading decimals of %s: %w", asset.Symbol, err)
	}
	if onChain != asset.Decimals {
		return fmt.Errorf("asset %s (%s): configured decimals %d, token reports %d",
			asset.Symbol, asset.Address.Hex(), asset.Decimals, onChain)
	}
	return nil
}
