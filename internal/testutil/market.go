package testutil

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that MockMarket implements outbound.ExecutionClient
var _ outbound.ExecutionClient = (*MockMarket)(nil)

// Default addresses used by MockMarket.
var (
	MockPoolAddress     = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	MockOracleAddress   = common.HexToAddress("0x00000000000000000000000000000000000000A2")
	MockProviderAddress = common.HexToAddress("0x00000000000000000000000000000000000000A3")
	MockAccount         = common.HexToAddress("0x00000000000000000000000000000000000000C1")
	MockWETH            = common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	MockDAI             = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
)

// MaxUint256 is returned as the health factor of an account without debt.
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

type allowanceKey struct {
	asset, owner, spender common.Address
}

// MockMarket is an in-memory Aave V2 style lending market, ERC20 set and
// price oracle behind the outbound.ExecutionClient port. It decodes real ABI
// calldata, so it exercises the same encoding the node adapter sends.
type MockMarket struct {
	mu sync.Mutex

	Pool     common.Address
	Oracle   common.Address
	Provider common.Address

	// LTVBps and LiquidationThresholdBps drive getUserAccountData.
	LTVBps                  int64
	LiquidationThresholdBps int64

	// CapacityFn, when set, replaces the computed availableBorrows.
	CapacityFn func(account common.Address) *big.Int

	// Errors injects a failure per method name ("deposit", "getAssetPrice", ...).
	Errors map[string]error

	// OnTransact is called before a transaction is applied.
	OnTransact func(req outbound.TxRequest)

	decimals   map[common.Address]uint8
	prices     map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	collateral map[common.Address]map[common.Address]*big.Int
	debt       map[common.Address]map[common.Address]*big.Int

	calls []string
	block uint64
	nonce uint64

	poolABI     *abi.ABI
	erc20ABI    *abi.ABI
	oracleABI   *abi.ABI
	providerABI *abi.ABI
}

// NewMockMarket creates a market with an 80% LTV and 85% liquidation threshold.
func NewMockMarket() *MockMarket {
	poolABI, _ := abis.GetLendingPoolABI()
	erc20ABI, _ := abis.GetERC20ABI()
	oracleABI, _ := abis.GetPriceOracleABI()
	providerABI, _ := abis.GetLendingPoolAddressesProviderABI()

	return &MockMarket{
		Pool:                    MockPoolAddress,
		Oracle:                  MockOracleAddress,
		Provider:                MockProviderAddress,
		LTVBps:                  8000,
		LiquidationThresholdBps: 8500,
		Errors:                  make(map[string]error),
		decimals:                make(map[common.Address]uint8),
		prices:                  make(map[common.Address]*big.Int),
		balances:                make(map[common.Address]map[common.Address]*big.Int),
		allowances:              make(map[allowanceKey]*big.Int),
		collateral:              make(map[common.Address]map[common.Address]*big.Int),
		debt:                    make(map[common.Address]map[common.Address]*big.Int),
		block:                   100,
		poolABI:                 poolABI,
		erc20ABI:                erc20ABI,
		oracleABI:               oracleABI,
		providerABI:             providerABI,
	}
}

// AddAsset lists an asset with its decimals and oracle price (unit of
// account smallest units per whole token).
func (m *MockMarket) AddAsset(asset common.Address, decimals uint8, price *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decimals[asset] = decimals
	m.prices[asset] = new(big.Int).Set(price)
}

// SetPrice changes the oracle price of an asset.
func (m *MockMarket) SetPrice(asset common.Address, price *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[asset] = new(big.Int).Set(price)
}

// Mint credits amount of asset to owner.
func (m *MockMarket) Mint(asset, owner common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	add(m.balances, asset, owner, amount)
}

// Calls returns the method names seen so far, in order.
func (m *MockMarket) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how many times method was called.
func (m *MockMarket) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == method {
			n++
		}
	}
	return n
}

// AllowanceOf returns the current allowance.
func (m *MockMarket) AllowanceOf(asset, owner, spender common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return value(m.allowances[allowanceKey{asset, owner, spender}])
}

// BalanceOf returns the wallet balance of owner.
func (m *MockMarket) BalanceOf(asset, owner common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return get(m.balances, asset, owner)
}

// CollateralOf returns the deposited amount of asset for account.
func (m *MockMarket) CollateralOf(account, asset common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return get(m.collateral, account, asset)
}

// DebtOf returns the outstanding debt of asset for account.
func (m *MockMarket) DebtOf(account, asset common.Address) *big.Int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return get(m.debt, account, asset)
}

// Call implements outbound.ContractCaller.
func (m *MockMarket) Call(_ context.Context, to common.Address, data []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	method, args, err := m.decode(to, data)
	if err != nil {
		return nil, err
	}
	m.calls = append(m.calls, method.Name)
	if injected := m.Errors[method.Name]; injected != nil {
		return nil, injected
	}

	switch method.Name {
	case "getUserAccountData":
		return method.Outputs.Pack(m.accountData(args[0].(common.Address))...)
	case "getAssetPrice":
		return method.Outputs.Pack(value(m.prices[args[0].(common.Address)]))
	case "allowance":
		return method.Outputs.Pack(value(m.allowances[allowanceKey{to, args[0].(common.Address), args[1].(common.Address)}]))
	case "balanceOf":
		return method.Outputs.Pack(get(m.balances, to, args[0].(common.Address)))
	case "decimals":
		return method.Outputs.Pack(m.decimals[to])
	case "getLendingPool":
		return method.Outputs.Pack(m.Pool)
	case "getPriceOracle":
		return method.Outputs.Pack(m.Oracle)
	default:
		return nil, &entity.ChainExecutionError{Method: method.Name, Reason: method.Name + " is not a view"}
	}
}

// Transact implements outbound.Transactor. Reverts return a receipt with
// status 0 and a *entity.ChainExecutionError, like the node adapter.
func (m *MockMarket) Transact(_ context.Context, req outbound.TxRequest) (*entity.Receipt, error) {
	if m.OnTransact != nil {
		m.OnTransact(req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	method, args, err := m.decode(req.To, req.Data)
	if err != nil {
		return nil, err
	}
	m.calls = append(m.calls, method.Name)
	if injected := m.Errors[method.Name]; injected != nil {
		return nil, injected
	}

	m.block++
	m.nonce++
	receipt := &entity.Receipt{
		Method:        method.Name,
		TxHash:        txHash(m.nonce),
		BlockNumber:   m.block,
		GasUsed:       21000,
		Status:        entity.ReceiptStatusSuccessful,
		Confirmations: 1,
	}

	if revert := m.apply(req, method.Name, args); revert != "" {
		receipt.Status = entity.ReceiptStatusFailed
		return receipt, &entity.ChainExecutionError{Method: method.Name, TxHash: receipt.TxHash, Reason: revert}
	}
	return receipt, nil
}

func (m *MockMarket) apply(req outbound.TxRequest, method string, args []any) string {
	switch method {
	case "approve":
		m.allowances[allowanceKey{req.To, req.From, args[0].(common.Address)}] = new(big.Int).Set(args[1].(*big.Int))
		return ""

	case "deposit":
		asset, amount, onBehalfOf := args[0].(common.Address), args[1].(*big.Int), args[2].(common.Address)
		if revert := m.pull(asset, req.From, amount); revert != "" {
			return revert
		}
		add(m.collateral, onBehalfOf, asset, amount)
		return ""

	case "borrow":
		asset, amount, onBehalfOf := args[0].(common.Address), args[1].(*big.Int), args[4].(common.Address)
		if _, ok := m.prices[asset]; !ok {
			return "reserve not listed"
		}
		available := m.accountData(onBehalfOf)[2].(*big.Int)
		if m.valueOf(asset, amount).Cmp(available) > 0 {
			return "collateral cannot cover new borrow"
		}
		add(m.debt, onBehalfOf, asset, amount)
		add(m.balances, asset, req.From, amount)
		return ""

	case "repay":
		asset, amount, onBehalfOf := args[0].(common.Address), args[1].(*big.Int), args[3].(common.Address)
		owed := get(m.debt, onBehalfOf, asset)
		if owed.Sign() == 0 {
			return "no debt of selected type"
		}
		paid := amount
		if paid.Cmp(owed) > 0 {
			paid = owed
		}
		if revert := m.pull(asset, req.From, paid); revert != "" {
			return revert
		}
		add(m.debt, onBehalfOf, asset, new(big.Int).Neg(paid))
		return ""

	default:
		return method + " is not a transaction"
	}
}

// pull moves amount from owner to the pool using the pool's allowance.
func (m *MockMarket) pull(asset, owner common.Address, amount *big.Int) string {
	key := allowanceKey{asset, owner, m.Pool}
	if value(m.allowances[key]).Cmp(amount) < 0 {
		return "ERC20: transfer amount exceeds allowance"
	}
	if get(m.balances, asset, owner).Cmp(amount) < 0 {
		return "ERC20: transfer amount exceeds balance"
	}
	m.allowances[key] = new(big.Int).Sub(m.allowances[key], amount)
	add(m.balances, asset, owner, new(big.Int).Neg(amount))
	return ""
}

func (m *MockMarket) accountData(account common.Address) []any {
	totalCollateral := m.totalValue(m.collateral[account])
	totalDebt := m.totalValue(m.debt[account])

	available := new(big.Int).Mul(totalCollateral, big.NewInt(m.LTVBps))
	available.Quo(available, big.NewInt(10_000))
	available.Sub(available, totalDebt)
	if available.Sign() < 0 {
		available.SetInt64(0)
	}
	if m.CapacityFn != nil {
		available = m.CapacityFn(account)
	}

	health := new(big.Int).Set(MaxUint256)
	if totalDebt.Sign() > 0 {
		health = new(big.Int).Mul(totalCollateral, big.NewInt(m.LiquidationThresholdBps))
		health.Mul(health, big.NewInt(1e18))
		health.Quo(health, big.NewInt(10_000))
		health.Quo(health, totalDebt)
	}

	return []any{
		totalCollateral,
		totalDebt,
		available,
		big.NewInt(m.LiquidationThresholdBps),
		big.NewInt(m.LTVBps),
		health,
	}
}

func (m *MockMarket) totalValue(positions map[common.Address]*big.Int) *big.Int {
	total := new(big.Int)
	for asset, amount := range positions {
		total.Add(total, m.valueOf(asset, amount))
	}
	return total
}

func (m *MockMarket) valueOf(asset common.Address, amount *big.Int) *big.Int {
	v := new(big.Int).Mul(amount, value(m.prices[asset]))
	return v.Quo(v, entity.Pow10(m.decimals[asset]))
}

func (m *MockMarket) decode(to common.Address, data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("calldata too short")
	}

	var contract *abi.ABI
	switch {
	case to == m.Pool:
		contract = m.poolABI
	case to == m.Oracle:
		contract = m.oracleABI
	case to == m.Provider:
		contract = m.providerABI
	default:
		if _, ok := m.decimals[to]; !ok {
			return nil, nil, &entity.ChainExecutionError{Reason: "call to unknown contract " + to.Hex()}
		}
		contract = m.erc20ABI
	}

	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, &entity.ChainExecutionError{Reason: err.Error()}
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, fmt.Errorf("unpacking %s: %w", method.Name, err)
	}
	return method, args, nil
}

func txHash(nonce uint64) common.Hash {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], nonce)
	return crypto.Keccak256Hash(b[:])
}

func value(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func get(m map[common.Address]map[common.Address]*big.Int, outer, inner common.Address) *big.Int {
	return value(m[outer][inner])
}

func add(m map[common.Address]map[common.Address]*big.Int, outer, inner common.Address, delta *big.Int) {
	if m[outer] == nil {
		m[outer] = make(map[common.Address]*big.Int)
	}
	m[outer][inner] = new(big.Int).Add(value(m[outer][inner]), delta)
}
