package lending

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// MaxBps is 100% in basis points.
const MaxBps = 10_000

// ConversionMode selects how a capacity becomes a smallest-unit borrow amount.
type ConversionMode int

const (
	// ConversionPrecise computes capacity * 10^decimals / price in one division.
	ConversionPrecise ConversionMode = iota

	// ConversionWholeUnits divides capacity by price to whole tokens first and
	// scales afterwards, dropping any fractional token.
	ConversionWholeUnits
)

// ParseConversionMode accepts "precise" or "whole-units".
func ParseConversionMode(s string) (ConversionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "precise":
		return ConversionPrecise, nil
	case "whole-units", "whole":
		return ConversionWholeUnits, nil
	default:
		return 0, fmt.Errorf("unknown conversion mode %q", s)
	}
}

func (m ConversionMode) String() string {
	if m == ConversionWholeUnits {
		return "whole-units"
	}
	return "precise"
}

// RateConverter reads oracle prices and converts unit-of-account amounts
// into asset amounts.
type RateConverter struct {
	caller    outbound.ContractCaller
	oracle    common.Address
	oracleABI *abi.ABI
}

// NewRateConverter creates a new RateConverter for the given oracle.
func NewRateConverter(caller outbound.ContractCaller, oracle common.Address) (*RateConverter, error) {
	if caller == nil {
		return nil, fmt.Errorf("contract caller cannot be nil")
	}
	if oracle == (common.Address{}) {
		return nil, fmt.Errorf("price oracle address is required")
	}
	oracleABI, err := abis.GetPriceOracleABI()
	if err != nil {
		return nil, fmt.Errorf("loading price oracle ABI: %w", err)
	}
	return &RateConverter{caller: caller, oracle: oracle, oracleABI: oracleABI}, nil
}

// QuotePrice reads the oracle price of one whole unit of asset. A zero
// price is returned as-is; Convert rejects it. An oracle that returns no
// data at all (an EOA or a wrong address) yields *entity.InvalidPriceError.
func (c *RateConverter) QuotePrice(ctx context.Context, asset common.Address) (*entity.PriceQuote, error) {
	ret, err := callRaw(ctx, c.caller, c.oracleABI, c.oracle, "getAssetPrice", asset)
	if err != nil {
		return nil, err
	}
	if len(ret) == 0 {
		return nil, &entity.InvalidPriceError{Asset: asset}
	}
	out, err := unpack(c.oracleABI, "getAssetPrice", ret)
	if err != nil {
		return nil, err
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getAssetPrice return type %T", out[0])
	}
	return &entity.PriceQuote{Asset: asset, Price: price}, nil
}

// Convert returns amount / price truncated toward zero.
func (c *RateConverter) Convert(amount, price *big.Int) (*big.Int, error) {
	return Convert(amount, price)
}

// Convert returns amount / price truncated toward zero. A nil or
// non-positive price yields *entity.InvalidPriceError.
func Convert(amount, price *big.Int) (*big.Int, error) {
	if price == nil || price.Sign() <= 0 {
		return nil, &entity.InvalidPriceError{Price: price}
	}
	if amount == nil {
		return nil, fmt.Errorf("amount must not be nil")
	}
	return new(big.Int).Quo(amount, price), nil
}

// BorrowAmount converts a borrow capacity (unit of account) into a
// smallest-unit amount of the quoted asset. bps scales the capacity first;
// MaxBps borrows all of it.
func BorrowAmount(capacity *big.Int, quote *entity.PriceQuote, decimals uint8, bps uint32, mode ConversionMode) (*big.Int, error) {
	if !quote.Valid() {
		invalid := &entity.InvalidPriceError{}
		if quote != nil {
			invalid.Asset, invalid.Price = quote.Asset, quote.Price
		}
		return nil, invalid
	}
	if capacity == nil || capacity.Sign() < 0 {
		return nil, fmt.Errorf("capacity must be non-negative")
	}
	if bps == 0 || bps > MaxBps {
		return nil, fmt.Errorf("borrow bps must be in (0, %d], got %d", MaxBps, bps)
	}

	scaled := new(big.Int).Mul(capacity, big.NewInt(int64(bps)))
	scaled.Quo(scaled, big.NewInt(MaxBps))

	unit := entity.Pow10(decimals)
	switch mode {
	case ConversionWholeUnits:
		whole, err := Convert(scaled, quote.Price)
		if err != nil {
			return nil, err
		}
		return whole.Mul(whole, unit), nil
	default:
		return Convert(scaled.Mul(scaled, unit), quote.Price)
	}
}
