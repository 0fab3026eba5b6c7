package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var priceOracleABI = lazyABI(`[
	{
		"inputs": [{"name": "asset", "type": "address"}],
		"name": "getAssetPrice",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// GetPriceOracleABI returns the IPriceOracleGetter ABI.
func GetPriceOracleABI() (*abi.ABI, error) {
	return priceOracleABI()
}
