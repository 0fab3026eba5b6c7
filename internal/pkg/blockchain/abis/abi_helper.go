// Package abis holds the contract interfaces the workflow calls, as parsed
// go-ethereum ABIs.
package abis

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParseABI parses a JSON ABI definition.
func ParseABI(abiJSON string) (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// lazyABI parses its definition once and hands out the same *abi.ABI.
func lazyABI(abiJSON string) func() (*abi.ABI, error) {
	return sync.OnceValues(func() (*abi.ABI, error) {
		return ParseABI(abiJSON)
	})
}
