package ethrpc

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/testutil"
)

// jsonRPCError mimics an error object returned by the node.
type jsonRPCError struct {
	code int
	msg  string
}

func (e *jsonRPCError) Error() string  { return e.msg }
func (e *jsonRPCError) ErrorCode() int { return e.code }

// fakeBackend answers the fixed parts of a node and delegates submission
// and receipt lookups to function fields.
type fakeBackend struct {
	sendFn    func(tx *types.Transaction) error
	receiptFn func(hash common.Hash) (*types.Receipt, error)
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(testChainID), nil }
func (b *fakeBackend) BlockNumber(context.Context) (uint64, error) {
	return 10, nil
}
func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return nil, nil
}
func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}
func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}
func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	return b.sendFn(tx)
}
func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return b.receiptFn(hash)
}

// minedChain records transactions as mined the moment they are accepted.
type minedChain struct {
	mu    sync.Mutex
	mined map[common.Hash]bool
}

func (c *minedChain) mine(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mined[hash] = true
}

func (c *minedChain) receipt(hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.mined[hash] {
		return nil, ethereum.NotFound
	}
	return &types.Receipt{TxHash: hash, Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(5), GasUsed: 50_000}, nil
}

func TestExecutor_ResendOfMinedTransaction(t *testing.T) {
	tests := []struct {
		name      string
		firstSend func(chain *minedChain, tx *types.Transaction) error
		wantErr   bool
	}{
		{
			name: "first send mined before the connection dropped",
			firstSend: func(chain *minedChain, tx *types.Transaction) error {
				chain.mine(tx.Hash())
				return errors.New("connection reset by peer")
			},
		},
		{
			name: "first send never reached the node",
			firstSend: func(*minedChain, *types.Transaction) error {
				return errors.New("connection reset by peer")
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := &minedChain{mined: make(map[common.Hash]bool)}
			sends := 0
			backend := &fakeBackend{
				sendFn: func(tx *types.Transaction) error {
					sends++
					if sends == 1 {
						return tt.firstSend(chain, tx)
					}
					return &jsonRPCError{code: -32000, msg: "nonce too low"}
				},
				receiptFn: chain.receipt,
			}

			executor, err := NewExecutor(context.Background(), backend, testConfig(t))
			if err != nil {
				t.Fatalf("NewExecutor: %v", err)
			}
			req := approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1))
			receipt, err := executor.Transact(context.Background(), req)

			if sends != 2 {
				t.Errorf("expected 2 send attempts, got %d", sends)
			}
			if tt.wantErr {
				var chainErr *entity.ChainExecutionError
				if !errors.As(err, &chainErr) {
					t.Fatalf("expected ChainExecutionError, got %v", err)
				}
				if chainErr.Method != "approve" || chainErr.TxHash == (common.Hash{}) {
					t.Errorf("error not attributed to the transaction: %+v", chainErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Transact: %v", err)
			}
			if !receipt.Succeeded() || receipt.BlockNumber != 5 {
				t.Errorf("unexpected receipt %+v", receipt)
			}
		})
	}
}

func requestCount(t *testing.T, reader *sdkmetric.ManualReader, op, status string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "ethrpc.requests.total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("expected Sum[int64], got %T", m.Data)
			}
			for _, dp := range sum.DataPoints {
				gotOp, _ := dp.Attributes.Value(attribute.Key("op"))
				gotStatus, _ := dp.Attributes.Value(attribute.Key("status"))
				if gotOp.AsString() == op && gotStatus.AsString() == status {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestExecutor_PendingReceiptPollsAreNotErrors(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() { otel.SetMeterProvider(previous) })

	chain := &minedChain{mined: make(map[common.Hash]bool)}
	polls := 0
	backend := &fakeBackend{
		sendFn: func(*types.Transaction) error { return nil },
		receiptFn: func(hash common.Hash) (*types.Receipt, error) {
			polls++
			if polls == 3 {
				chain.mine(hash)
			}
			return chain.receipt(hash)
		},
	}

	executor, err := NewExecutor(context.Background(), backend, testConfig(t))
	if err != nil {
		t.Fatalf("NewExecutor: %v", err)
	}
	if _, err := executor.Transact(context.Background(), approveRequest(t, executor.Account(), testutil.MockPoolAddress, ether(1))); err != nil {
		t.Fatalf("Transact: %v", err)
	}

	const op = "eth_getTransactionReceipt"
	if got := requestCount(t, reader, op, "not_found"); got != 2 {
		t.Errorf("not_found polls = %d, want 2", got)
	}
	if got := requestCount(t, reader, op, "success"); got != 1 {
		t.Errorf("successful polls = %d, want 1", got)
	}
	if got := requestCount(t, reader, op, "error"); got != 0 {
		t.Errorf("error polls = %d, want 0", got)
	}
}
