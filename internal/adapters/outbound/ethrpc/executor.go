// Package ethrpc implements outbound.ExecutionClient against an Ethereum
// JSON-RPC node. Transactions are signed locally with a single key,
// submitted with eth_sendRawTransaction and then polled until they have the
// configured number of confirmations.
//
// Node errors are classified:
//   - JSON-RPC errors (reverts, rejected transactions) become
//     *entity.ChainExecutionError and are never retried
//   - connection and HTTP failures become *entity.TransportError and are
//     retried with exponential backoff
package ethrpc

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/retry"
	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that Executor implements outbound.ExecutionClient
var _ outbound.ExecutionClient = (*Executor)(nil)

// Backend is the subset of *ethclient.Client used by Executor.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Executor signs, submits and confirms transactions for one account.
type Executor struct {
	backend   Backend
	config    Config
	key       *ecdsa.PrivateKey
	from      common.Address
	chainID   *big.Int
	signer    types.Signer
	limiter   *rate.Limiter
	telemetry *Telemetry
	logger    *slog.Logger

	// sendMu serialises nonce assignment and submission.
	sendMu sync.Mutex
}

// Dial connects to rawURL and creates an Executor on top of it.
func Dial(ctx context.Context, rawURL string, config Config) (*Executor, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to node: %w", err)
	}
	executor, err := NewExecutor(ctx, client, config)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return executor, client, nil
}

// NewExecutor creates an Executor. If config.ChainID is nil it is read from
// the node.
func NewExecutor(ctx context.Context, backend Backend, config Config) (*Executor, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	telemetry, err := NewTelemetry()
	if err != nil {
		return nil, fmt.Errorf("creating telemetry: %w", err)
	}

	e := &Executor{
		backend:   backend,
		config:    config,
		key:       config.PrivateKey,
		from:      crypto.PubkeyToAddress(config.PrivateKey.PublicKey),
		limiter:   rate.NewLimiter(rate.Limit(config.RateLimitPerSec), 1),
		telemetry: telemetry,
	}
	e.logger = config.Logger.With("component", "ethrpc-executor", "account", e.from.Hex())

	chainID := config.ChainID
	if chainID == nil {
		chainID, err = roundTrip(ctx, e, "eth_chainId", func() (*big.Int, error) {
			return backend.ChainID(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("reading chain ID: %w", err)
		}
	}
	e.chainID = new(big.Int).Set(chainID)
	e.signer = types.LatestSignerForChainID(e.chainID)

	return e, nil
}

// Account returns the address derived from the signing key.
func (e *Executor) Account() common.Address {
	return e.from
}

// ChainID returns the chain ID used for signing.
func (e *Executor) ChainID() *big.Int {
	return new(big.Int).Set(e.chainID)
}

// Call executes a read-only call against the latest block.
func (e *Executor) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	return roundTrip(ctx, e, "eth_call", func() ([]byte, error) {
		return e.backend.CallContract(ctx, ethereum.CallMsg{From: e.from, To: &to, Data: data}, nil)
	})
}

// Transact signs and submits req, then blocks until the transaction has
// the configured confirmations. A reverted transaction returns its receipt
// together with a *entity.ChainExecutionError.
func (e *Executor) Transact(ctx context.Context, req outbound.TxRequest) (receipt *entity.Receipt, err error) {
	ctx, span := e.telemetry.StartSpan(ctx, "ethrpc.Transact",
		trace.WithAttributes(
			attribute.String("tx.method", req.Method),
			attribute.String("tx.to", req.To.Hex()),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.From != (common.Address{}) && req.From != e.from {
		return nil, fmt.Errorf("%s: sender %s does not match signing key %s", req.Method, req.From.Hex(), e.from.Hex())
	}

	hash, err := e.send(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("tx.hash", hash.Hex()))

	receipt, err = e.waitForConfirmations(ctx, req.Method, hash)
	if err != nil {
		return nil, err
	}

	if !receipt.Succeeded() {
		return receipt, &entity.ChainExecutionError{
			Method: req.Method,
			TxHash: hash,
			Reason: "transaction reverted",
		}
	}
	return receipt, nil
}

func (e *Executor) send(ctx context.Context, req outbound.TxRequest) (common.Hash, error) {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	nonce, err := roundTrip(ctx, e, "eth_getTransactionCount", func() (uint64, error) {
		return e.backend.PendingNonceAt(ctx, e.from)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: reading nonce: %w", req.Method, err)
	}

	gasPrice, err := roundTrip(ctx, e, "eth_gasPrice", func() (*big.Int, error) {
		return e.backend.SuggestGasPrice(ctx)
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: reading gas price: %w", req.Method, err)
	}

	gas, err := roundTrip(ctx, e, "eth_estimateGas", func() (uint64, error) {
		return e.backend.EstimateGas(ctx, ethereum.CallMsg{
			From:     e.from,
			To:       &req.To,
			GasPrice: gasPrice,
			Data:     req.Data,
		})
	})
	if err != nil {
		var chainErr *entity.ChainExecutionError
		if errors.As(err, &chainErr) {
			chainErr.Method = req.Method
		}
		return common.Hash{}, err
	}
	gas += gas * e.config.GasHeadroomPct / 100

	tx, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &req.To,
		Value:    new(big.Int),
		Data:     req.Data,
	}), e.signer, e.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%s: signing transaction: %w", req.Method, err)
	}

	_, err = roundTrip(ctx, e, "eth_sendRawTransaction", func() (struct{}, error) {
		return struct{}{}, e.backend.SendTransaction(ctx, tx)
	})
	if err != nil && !alreadyKnown(err) {
		var chainErr *entity.ChainExecutionError
		if !errors.As(err, &chainErr) {
			return common.Hash{}, err
		}
		if !e.mined(ctx, tx.Hash()) {
			chainErr.Method = req.Method
			chainErr.TxHash = tx.Hash()
			return common.Hash{}, err
		}
		e.logger.Warn("node rejected resend of a mined transaction",
			"method", req.Method,
			"txHash", tx.Hash().Hex(),
			"error", err)
	}

	e.logger.Info("transaction submitted",
		"method", req.Method,
		"txHash", tx.Hash().Hex(),
		"nonce", nonce,
		"gas", gas,
		"gasPrice", gasPrice.String())
	return tx.Hash(), nil
}

// mined reports whether hash already has a receipt. A resend after the
// first attempt reached the node is rejected with "nonce too low".
func (e *Executor) mined(ctx context.Context, hash common.Hash) bool {
	_, err := roundTrip(ctx, e, "eth_getTransactionReceipt", func() (*types.Receipt, error) {
		return e.backend.TransactionReceipt(ctx, hash)
	})
	return err == nil
}

// waitForConfirmations polls for the receipt and then for the head to reach
// the required depth.
func (e *Executor) waitForConfirmations(ctx context.Context, method string, hash common.Hash) (*entity.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.config.ReceiptTimeout)
	defer cancel()

	var receipt *types.Receipt
	for receipt == nil {
		r, err := roundTrip(waitCtx, e, "eth_getTransactionReceipt", func() (*types.Receipt, error) {
			return e.backend.TransactionReceipt(waitCtx, hash)
		})
		switch {
		case err == nil:
			receipt = r
			continue
		case errors.Is(err, ethereum.NotFound):
		default:
			return nil, e.waitError(ctx, waitCtx, method, hash, err)
		}
		if err := sleep(waitCtx, e.config.PollInterval); err != nil {
			return nil, e.waitError(ctx, waitCtx, method, hash, err)
		}
	}

	included := receipt.BlockNumber.Uint64()
	confirmations := uint64(0)
	for {
		head, err := roundTrip(waitCtx, e, "eth_blockNumber", func() (uint64, error) {
			return e.backend.BlockNumber(waitCtx)
		})
		if err != nil {
			return nil, e.waitError(ctx, waitCtx, method, hash, err)
		}
		if head >= included {
			confirmations = head - included + 1
		}
		if confirmations >= e.config.Confirmations {
			break
		}
		if err := sleep(waitCtx, e.config.PollInterval); err != nil {
			return nil, e.waitError(ctx, waitCtx, method, hash, err)
		}
	}

	e.logger.Info("transaction confirmed",
		"method", method,
		"txHash", hash.Hex(),
		"blockNumber", included,
		"status", receipt.Status,
		"confirmations", confirmations)
	e.telemetry.RecordTransaction(ctx, method, receipt.Status == types.ReceiptStatusSuccessful)

	return &entity.Receipt{
		Method:        method,
		TxHash:        hash,
		BlockNumber:   included,
		GasUsed:       receipt.GasUsed,
		Status:        receipt.Status,
		Confirmations: confirmations,
	}, nil
}

// waitError distinguishes caller cancellation from the receipt timeout.
func (e *Executor) waitError(parent, waitCtx context.Context, method string, hash common.Hash, err error) error {
	if parent.Err() != nil {
		return fmt.Errorf("%s: waiting for %s: %w", method, hash.Hex(), parent.Err())
	}
	if waitCtx.Err() != nil {
		return &entity.ChainExecutionError{
			Method: method,
			TxHash: hash,
			Reason: fmt.Sprintf("not confirmed within %s", e.config.ReceiptTimeout),
			Err:    err,
		}
	}
	var chainErr *entity.ChainExecutionError
	if errors.As(err, &chainErr) {
		chainErr.Method, chainErr.TxHash = method, hash
	}
	return err
}

// roundTrip performs one rate-limited node request, retrying transport
// failures and classifying the final error.
func roundTrip[T any](ctx context.Context, e *Executor, op string, fn func() (T, error)) (T, error) {
	onRetry := func(attempt int, err error, backoff time.Duration) {
		e.logger.Warn("node request failed, retrying",
			"op", op,
			"attempt", attempt,
			"maxRetries", e.config.Retry.MaxRetries,
			"backoff", backoff,
			"error", err)
		e.telemetry.RecordRetry(ctx, op)
	}

	start := time.Now()
	result, err := retry.Do(ctx, e.config.Retry, isTransient, onRetry, func() (T, error) {
		if err := e.limiter.Wait(ctx); err != nil {
			return *new(T), retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return fn()
	})
	e.telemetry.RecordRequest(ctx, op, time.Since(start), err)

	if err != nil && ctx.Err() != nil && !errors.Is(err, ctx.Err()) {
		err = fmt.Errorf("%s: %w", op, errors.Join(ctx.Err(), err))
	}
	return result, classify(op, err)
}

// isTransient reports whether err is worth retrying. JSON-RPC errors come
// from the node itself and a missing receipt is an answer, not a failure.
func isTransient(err error) bool {
	if errors.Is(err, ethereum.NotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr rpc.Error
	return !errors.As(err, &rpcErr)
}

func classify(op string, err error) error {
	if err == nil || errors.Is(err, ethereum.NotFound) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return &entity.ChainExecutionError{Method: op, Err: err}
	}
	return &entity.TransportError{Op: op, Err: err}
}

func alreadyKnown(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already known")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
