package abis

import "github.com/ethereum/go-ethereum/accounts/abi"

var lendingPoolABI = lazyABI(`[
	{
		"inputs": [
			{"name": "asset", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "onBehalfOf", "type": "address"},
			{"name": "referralCode", "type": "uint16"}
		],
		"name": "deposit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "asset", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "interestRateMode", "type": "uint256"},
			{"name": "referralCode", "type": "uint16"},
			{"name": "onBehalfOf", "type": "address"}
		],
		"name": "borrow",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "asset", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "rateMode", "type": "uint256"},
			{"name": "onBehalfOf", "type": "address"}
		],
		"name": "repay",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "user", "type": "address"}],
		"name": "getUserAccountData",
		"outputs": [
			{"name": "totalCollateralETH", "type": "uint256"},
			{"name": "totalDebtETH", "type": "uint256"},
			{"name": "availableBorrowsETH", "type": "uint256"},
			{"name": "currentLiquidationThreshold", "type": "uint256"},
			{"name": "ltv", "type": "uint256"},
			{"name": "healthFactor", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`)

// GetLendingPoolABI returns the Aave V2 LendingPool methods used by the
// workflow: deposit, borrow, repay and getUserAccountData.
func GetLendingPoolABI() (*abi.ABI, error) {
	return lendingPoolABI()
}
