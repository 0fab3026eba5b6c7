// Package netconfig loads the per-network address table: lending market,
// oracle and logical asset names keyed by network.
//
// The table is owned by whoever deploys the workflow. This package only
// decodes it and answers lookups; the resulting Network value is handed to
// the workflow explicitly.
package netconfig

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/archon-research/stl-lend/internal/domain/entity"
)

// File is the decoded YAML document.
type File struct {
	Networks []Network `yaml:"networks"`
}

// Network holds the addresses for one chain.
type Network struct {
	Name    string `yaml:"name"`
	ChainID uint64 `yaml:"chain_id"`

	// LendingPoolAddressesProvider is used to discover the pool and oracle
	// when they are not listed explicitly.
	LendingPoolAddressesProvider string `yaml:"lending_pool_addresses_provider"`
	LendingPool                  string `yaml:"lending_pool"`
	PriceOracle                  string `yaml:"price_oracle"`

	UnitOfAccount UnitOfAccount          `yaml:"unit_of_account"`
	Assets        map[string]AssetConfig `yaml:"assets"`
}

// UnitOfAccount describes the denomination of getUserAccountData and oracle prices.
// An omitted block means ETH with 18 decimals.
type UnitOfAccount struct {
	Symbol   string `yaml:"symbol"`
	Decimals *uint8 `yaml:"decimals"`
}

// AssetConfig is one entry of the logical asset table. Decimals is required;
// a pointer keeps an explicit zero distinct from a missing field.
type AssetConfig struct {
	Address  string `yaml:"address"`
	Decimals *uint8 `yaml:"decimals"`
}

const defaultUnitDecimals uint8 = 18

// Load reads the YAML table from disk.
func Load(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("network config path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read network config: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML table.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode network config: %w", err)
	}
	for i := range f.Networks {
		f.Networks[i].normalize()
		if err := f.Networks[i].validate(); err != nil {
			return nil, fmt.Errorf("network %q: %w", f.Networks[i].Name, err)
		}
	}
	return &f, nil
}

// Lookup finds a network by name (case-insensitive) or decimal chain id.
func (f *File) Lookup(nameOrChainID string) (*Network, error) {
	key := strings.ToLower(strings.TrimSpace(nameOrChainID))
	if id, err := strconv.ParseUint(key, 10, 64); err == nil {
		return f.ByChainID(id)
	}
	for i := range f.Networks {
		if strings.ToLower(f.Networks[i].Name) == key {
			return &f.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("network %q not found in config", nameOrChainID)
}

// ByChainID finds the network for a chain id reported by the node.
func (f *File) ByChainID(chainID uint64) (*Network, error) {
	for i := range f.Networks {
		if f.Networks[i].ChainID == chainID {
			return &f.Networks[i], nil
		}
	}
	return nil, fmt.Errorf("chain id %d not found in config", chainID)
}

// Asset resolves a logical asset name to an entity.Asset.
func (n *Network) Asset(symbol string) (*entity.Asset, error) {
	cfg, ok := n.Assets[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("asset %q not configured for network %s", symbol, n.Name)
	}
	if cfg.Decimals == nil {
		return nil, fmt.Errorf("asset %q on network %s: decimals not configured", symbol, n.Name)
	}
	return entity.NewAsset(strings.ToUpper(symbol), common.HexToAddress(cfg.Address), *cfg.Decimals)
}

// Unit returns the unit of account symbol and decimals.
func (n *Network) Unit() (string, uint8) {
	if n.UnitOfAccount.Decimals == nil {
		return n.UnitOfAccount.Symbol, defaultUnitDecimals
	}
	return n.UnitOfAccount.Symbol, *n.UnitOfAccount.Decimals
}

// PoolAddress returns the configured pool, or the zero address if it must be resolved.
func (n *Network) PoolAddress() common.Address {
	return addressOrZero(n.LendingPool)
}

// OracleAddress returns the configured oracle, or the zero address if it must be resolved.
func (n *Network) OracleAddress() common.Address {
	return addressOrZero(n.PriceOracle)
}

// ProviderAddress returns the LendingPoolAddressesProvider, or the zero address.
func (n *Network) ProviderAddress() common.Address {
	return addressOrZero(n.LendingPoolAddressesProvider)
}

func addressOrZero(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (n *Network) normalize() {
	n.Name = strings.TrimSpace(n.Name)
	n.LendingPoolAddressesProvider = strings.TrimSpace(n.LendingPoolAddressesProvider)
	n.LendingPool = strings.TrimSpace(n.LendingPool)
	n.PriceOracle = strings.TrimSpace(n.PriceOracle)
	n.UnitOfAccount.Symbol = strings.TrimSpace(n.UnitOfAccount.Symbol)
	if n.UnitOfAccount.Symbol == "" && n.UnitOfAccount.Decimals == nil {
		n.UnitOfAccount.Symbol = "ETH"
		d := defaultUnitDecimals
		n.UnitOfAccount.Decimals = &d
	}
	assets := make(map[string]AssetConfig, len(n.Assets))
	for symbol, a := range n.Assets {
		a.Address = strings.TrimSpace(a.Address)
		assets[strings.ToUpper(strings.TrimSpace(symbol))] = a
	}
	n.Assets = assets
}

func (n *Network) validate() error {
	if n.Name == "" {
		return fmt.Errorf("name is required")
	}
	if n.ChainID == 0 {
		return fmt.Errorf("chain_id is required")
	}
	for field, value := range map[string]string{
		"lending_pool_addresses_provider": n.LendingPoolAddressesProvider,
		"lending_pool":                    n.LendingPool,
		"price_oracle":                    n.PriceOracle,
	} {
		if value != "" && !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", field, value)
		}
	}
	if n.LendingPool == "" && n.LendingPoolAddressesProvider == "" {
		return fmt.Errorf("either lending_pool or lending_pool_addresses_provider is required")
	}
	if n.UnitOfAccount.Symbol == "" || n.UnitOfAccount.Decimals == nil {
		return fmt.Errorf("unit_of_account: symbol and decimals are both required when the block is set")
	}
	for symbol, a := range n.Assets {
		if !common.IsHexAddress(a.Address) {
			return fmt.Errorf("asset %s: invalid address %q", symbol, a.Address)
		}
		if a.Decimals == nil {
			return fmt.Errorf("asset %s: decimals is required", symbol)
		}
	}
	return nil
}
