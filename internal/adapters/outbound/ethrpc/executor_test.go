package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/blockchain/abis"
	"github.com/archon-research/stl-lend/internal/pkg/retry"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
	"github.com/archon-research/stl-lend/internal/testutil"
)

const testChainID = 31337

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), entity.Pow10(18))
}

func testConfig(t *testing.T) Config {
	t.Helper()
	key, err := crypto.HexToECDSA(testutil.TestPrivateKey)
	if err != nil {
		t.Fatalf("parsing key: %v", err)
	}
	return Config{
		PrivateKey:      key,
		Confirmations:   2,
		PollInterval:    5 * time.Millisecond,
		ReceiptTimeout:  5 * time.Second,
		GasHeadroomPct:  20,
		RateLimitPerSec: 10_000,
		Retry: retry.Config{
			MaxRetries:     3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
			BackoffFactor:  2.0,
		},
		Logger: testutil.DiscardLogger(),
	}
}

func setup(t *testing.T) (*Executor, *testutil.MockNode) {
	t.Helper()
	market := testutil.NewMockMarket()
	market.AddAsset(testutil.MockWETH, 18, ether(2000))
	node := testutil.StartMockNode(t, testChainID, market)

	client, err := ethclient.Dial(node.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(client.Close)

	executor, err := NewExecutor(context.Background(), client, testConfig(t))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	return executor, node
}

func approveRequest(t *testing.T, from, spender common.Address, amount *big.Int) outbound.TxRequest {
	t.Helper()
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatalf("loading ERC20 ABI: %v", err)
	}
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		t.Fatalf("packing approve: %v", err)
	}
	return outbound.TxRequest{Method: "approve", From: from, To: testutil.MockWETH, Data: data}
}

func depositRequest(t *testing.T, from common.Address, amount *big.Int) outbound.TxRequest {
	t.Helper()
	poolABI, err := abis.GetLendingPoolABI()
	if err != nil {
		t.Fatalf("loading pool ABI: %v", err)
	}
	data, err := poolABI.Pack("deposit", testutil.MockWETH, amount, from, uint16(0))
	if err != nil {
		t.Fatalf("packing deposit: %v", err)
	}
	return outbound.TxRequest{Method: "deposit", From: from, To: testutil.MockPoolAddress, Data: data}
}

func TestNewExecutor_ReadsChainID(t *testing.T) {
	executor, node := setup(t)

	if executor.ChainID().Int64() != testChainID {
		t.Errorf("expected chain ID %d, got %s", testChainID, executor.ChainID())
	}
	if executor.Account() != testutil.TestKeyAddress(t) {
		t.Errorf("expected account %s, got %s", testutil.TestKeyAddress(t).Hex(), executor.Account().Hex())
	}
	if got := node.Requests("eth_chainId"); got != 1 {
		t.Errorf("expected 1 eth_chainId request, got %d", got)
	}
}

func TestNewExecutor_Validation(t *testing.T) {
	if _, err := NewExecutor(context.Background(), nil, testConfig(t)); err == nil {
		t.Error("expected error for nil backend")
	}

	market := testutil.NewMockMarket()
	node := testutil.StartMockNode(t, testChainID, market)
	client, err := ethclient.Dial(node.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	cfg := testConfig(t)
	cfg.PrivateKey = nil
	if _, err := NewExecutor(context.Background(), client, cfg); err == nil {
		t.Error("expected error for missing private key")
	}

	cfg = testConfig(t)
	cfg.ChainID = big.NewInt(0)
	if _, err := NewExecutor(context.Background(), client, cfg); err == nil {
		t.Error("expected error for zero chain ID")
	}

	cfg = testConfig(t)
	cfg.RateLimitPerSec = -1
	if _, err := NewExecutor(context.Background(), client, cfg); err == nil {
		t.Error("expected error for negative rate limit")
	}
}

func TestExecutor_GasHeadroom(t *testing.T) {
	tests := []struct {
		name     string
		headroom uint64
		wantGas  uint64
	}{
		{name: "raw estimate", headroom: 0, wantGas: 200_000},
		{name: "default", headroom: ConfigDefaults().GasHeadroomPct, wantGas: 240_000},
		{name: "doubled", headroom: 100, wantGas: 400_000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			market := testutil.NewMockMarket()
			market.AddAsset(testutil.MockWETH, 18, ether(2000))
			node := testutil.StartMockNode(t, testChainID, market)
			client, err := ethclient.Dial(node.URL)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			defer client.Close()

			cfg := testConfig(t)
			cfg.GasHeadroomPct = tt.headroom
			executor, err := NewExecutor(context.Background(), client, cfg)
			if err != nil {
				t.Fatalf("NewExecutor: %v", err)
			}
			if _, err := executor.Transact(context.Background(), approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1))); err != nil {
				t.Fatalf("Transact: %v", err)
			}
			sent := node.Sent()
			if len(sent) != 1 {
				t.Fatalf("expected 1 transaction, got %d", len(sent))
			}
			if sent[0].Gas() != tt.wantGas {
				t.Errorf("expected gas %d, got %d", tt.wantGas, sent[0].Gas())
			}
		})
	}
}

func TestExecutor_TransactConfirms(t *testing.T) {
	ctx := context.Background()
	executor, node := setup(t)
	from := executor.Account()

	first, err := executor.Transact(ctx, approveRequest(t, from, testutil.MockPoolAddress, ether(1)))
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	second, err := executor.Transact(ctx, approveRequest(t, from, testutil.MockPoolAddress, ether(2)))
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}

	for _, r := range []*entity.Receipt{first, second} {
		if !r.Succeeded() {
			t.Errorf("expected success, got status %d", r.Status)
		}
		if r.Confirmations < 2 {
			t.Errorf("expected at least 2 confirmations, got %d", r.Confirmations)
		}
		if r.Method != "approve" {
			t.Errorf("expected method approve, got %q", r.Method)
		}
	}

	sent := node.Sent()
	if len(sent) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(sent))
	}
	if sent[0].Nonce() != 0 || sent[1].Nonce() != 1 {
		t.Errorf("expected nonces 0 and 1, got %d and %d", sent[0].Nonce(), sent[1].Nonce())
	}
	if sent[0].Hash() != first.TxHash {
		t.Errorf("receipt hash %s does not match sent %s", first.TxHash.Hex(), sent[0].Hash().Hex())
	}
	// 200k estimate plus 20% headroom
	if sent[0].Gas() != 240_000 {
		t.Errorf("expected gas 240000, got %d", sent[0].Gas())
	}
	if got := node.Market.AllowanceOf(testutil.MockWETH, from, testutil.MockPoolAddress); got.Cmp(ether(2)) != 0 {
		t.Errorf("expected allowance %s, got %s", ether(2), got)
	}
}

func TestExecutor_RevertedTransaction(t *testing.T) {
	executor, node := setup(t)
	from := executor.Account()
	node.Market.Mint(testutil.MockWETH, from, ether(1))

	// No allowance, so the pool cannot pull the collateral.
	receipt, err := executor.Transact(context.Background(), depositRequest(t, from, ether(1)))

	var chainErr *entity.ChainExecutionError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected *ChainExecutionError, got %v", err)
	}
	if chainErr.Method != "deposit" {
		t.Errorf("expected method deposit, got %q", chainErr.Method)
	}
	if receipt == nil {
		t.Fatal("expected the reverted receipt")
	}
	if receipt.Succeeded() || chainErr.TxHash != receipt.TxHash {
		t.Errorf("unexpected receipt %+v for error %v", receipt, chainErr)
	}
}

func TestExecutor_EstimateRevertIsNotRetried(t *testing.T) {
	executor, node := setup(t)
	node.EstimateError = func(common.Address, []byte) string { return "paused" }

	_, err := executor.Transact(context.Background(), approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1)))
	if !errors.Is(err, entity.ErrChainExecution) {
		t.Fatalf("expected ErrChainExecution, got %v", err)
	}
	if errors.Is(err, entity.ErrTransport) {
		t.Error("node errors must not be reported as transport failures")
	}
	if got := node.Requests("eth_estimateGas"); got != 1 {
		t.Errorf("expected 1 eth_estimateGas request, got %d", got)
	}
	if len(node.Sent()) != 0 {
		t.Error("expected nothing to be sent")
	}
}

func TestExecutor_RetriesTransportFailures(t *testing.T) {
	ctx := context.Background()
	executor, node := setup(t)

	node.FailNext(2)
	receipt, err := executor.Transact(ctx, approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1)))
	if err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if !receipt.Succeeded() {
		t.Errorf("expected success, got status %d", receipt.Status)
	}
}

func TestExecutor_TransportFailureExhaustsRetries(t *testing.T) {
	executor, node := setup(t)

	node.FailNext(100)
	_, err := executor.Call(context.Background(), testutil.MockWETH, nil)

	var transportErr *entity.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if transportErr.Op != "eth_call" {
		t.Errorf("expected op eth_call, got %q", transportErr.Op)
	}
}

func TestExecutor_WaitsForReceipt(t *testing.T) {
	executor, node := setup(t)
	node.ReceiptDelay = 3

	if _, err := executor.Transact(context.Background(), approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1))); err != nil {
		t.Fatalf("Transact: %v", err)
	}
	if got := node.Requests("eth_getTransactionReceipt"); got < 4 {
		t.Errorf("expected at least 4 receipt polls, got %d", got)
	}
}

func TestExecutor_ReceiptTimeout(t *testing.T) {
	market := testutil.NewMockMarket()
	market.AddAsset(testutil.MockWETH, 18, ether(2000))
	node := testutil.StartMockNode(t, testChainID, market)
	node.ReceiptDelay = 1 << 30

	client, err := ethclient.Dial(node.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	cfg := testConfig(t)
	cfg.ReceiptTimeout = 50 * time.Millisecond
	executor, err := NewExecutor(context.Background(), client, cfg)
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}

	_, err = executor.Transact(context.Background(), approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1)))
	var chainErr *entity.ChainExecutionError
	if !errors.As(err, &chainErr) {
		t.Fatalf("expected *ChainExecutionError, got %v", err)
	}
	if chainErr.TxHash == (common.Hash{}) {
		t.Error("expected the pending transaction hash on the error")
	}
}

func TestExecutor_CancelledWhileWaiting(t *testing.T) {
	executor, node := setup(t)
	node.ReceiptDelay = 1 << 30

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := executor.Transact(ctx, approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1)))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestExecutor_SenderMismatch(t *testing.T) {
	executor, node := setup(t)

	other := common.HexToAddress("0x0000000000000000000000000000000000000bad")
	if _, err := executor.Transact(context.Background(), approveRequest(t, other, testutil.MockPoolAddress, ether(1))); err == nil {
		t.Fatal("expected error for mismatched sender")
	}
	if len(node.Sent()) != 0 {
		t.Error("expected nothing to be sent")
	}
}

func TestExecutor_Call(t *testing.T) {
	executor, node := setup(t)
	node.Market.Mint(testutil.MockWETH, executor.Account(), ether(3))

	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatalf("loading ERC20 ABI: %v", err)
	}
	data, err := erc20ABI.Pack("balanceOf", executor.Account())
	if err != nil {
		t.Fatalf("packing balanceOf: %v", err)
	}

	out, err := executor.Call(context.Background(), testutil.MockWETH, data)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	values, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		t.Fatalf("unpacking: %v", err)
	}
	if got := values[0].(*big.Int); got.Cmp(ether(3)) != 0 {
		t.Errorf("expected balance %s, got %s", ether(3), got)
	}
}
