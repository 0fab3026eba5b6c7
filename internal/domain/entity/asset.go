package entity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Asset is an ERC20 token known to the workflow by its logical symbol.
type Asset struct {
	Symbol   string
	Address  common.Address
	Decimals uint8
}

// NewAsset creates a new Asset entity with validation.
func NewAsset(symbol string, address common.Address, decimals uint8) (*Asset, error) {
	a := &Asset{
		Symbol:   symbol,
		Address:  address,
		Decimals: decimals,
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Asset) validate() error {
	if a.Symbol == "" {
		return fmt.Errorf("symbol must not be empty")
	}
	if a.Address == (common.Address{}) {
		return fmt.Errorf("asset %s: address must not be zero", a.Symbol)
	}
	if a.Decimals > 77 {
		return fmt.Errorf("asset %s: decimals must be at most 77, got %d", a.Symbol, a.Decimals)
	}
	return nil
}

// Format renders a smallest-denomination amount of this asset for display.
func (a *Asset) Format(amount *big.Int) string {
	return FormatUnits(amount, a.Decimals)
}

// Parse converts a human decimal string into smallest units of this asset.
func (a *Asset) Parse(s string) (*big.Int, error) {
	amount, err := ParseUnits(s, a.Decimals)
	if err != nil {
		return nil, fmt.Errorf("parsing %s amount: %w", a.Symbol, err)
	}
	return amount, nil
}

func (a *Asset) String() string {
	return fmt.Sprintf("%s(%s)", a.Symbol, a.Address.Hex())
}
