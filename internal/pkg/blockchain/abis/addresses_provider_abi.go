package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var addressesProviderABI = lazyABI(`[
	{
		"inputs": [],
		"name": "getLendingPool",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getPriceOracle",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// GetLendingPoolAddressesProviderABI returns the Aave V2
// LendingPoolAddressesProvider ABI, used to discover the pool and oracle.
func GetLendingPoolAddressesProviderABI() (*abi.ABI, error) {
	return addressesProviderABI()
}
