package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

type callArg struct {
	From  common.Address  `json:"from"`
	To    *common.Address `json:"to"`
	Data  hexutil.Bytes   `json:"data"`
	Input hexutil.Bytes   `json:"input"`
}

func (a callArg) calldata() []byte {
	if len(a.Input) > 0 {
		return a.Input
	}
	return a.Data
}

// MockNode is an httptest JSON-RPC server that executes eth_call and
// eth_sendRawTransaction against a MockMarket. The head advances by one
// block every time eth_blockNumber is served.
type MockNode struct {
	*httptest.Server

	ChainID *big.Int
	Market  *MockMarket

	mu          sync.Mutex
	head        uint64
	nonces      map[common.Address]uint64
	receipts    map[common.Hash]*types.Receipt
	sent        []*types.Transaction
	requests    map[string]int
	unavailable int

	// ReceiptDelay is the number of eth_getTransactionReceipt polls answered
	// with null before the receipt is returned.
	ReceiptDelay int

	// EstimateError, when it returns a non-empty message, fails eth_estimateGas
	// with JSON-RPC error code 3 like a node reporting a revert.
	EstimateError func(to common.Address, data []byte) string
}

// StartMockNode starts a node for chainID backed by market.
func StartMockNode(t *testing.T, chainID int64, market *MockMarket) *MockNode {
	t.Helper()

	n := &MockNode{
		ChainID:  big.NewInt(chainID),
		Market:   market,
		head:     market.block,
		nonces:   make(map[common.Address]uint64),
		receipts: make(map[common.Hash]*types.Receipt),
		requests: make(map[string]int),
	}
	n.Server = httptest.NewServer(http.HandlerFunc(n.serve))
	t.Cleanup(n.Close)
	return n
}

// FailNext makes the next count requests fail with HTTP 503.
func (n *MockNode) FailNext(count int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.unavailable = count
}

// Sent returns the raw transactions accepted by the node.
func (n *MockNode) Sent() []*types.Transaction {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*types.Transaction, len(n.sent))
	copy(out, n.sent)
	return out
}

// Requests returns how many times method was requested.
func (n *MockNode) Requests(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.requests[method]
}

func (n *MockNode) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	n.mu.Lock()
	if n.unavailable > 0 {
		n.unavailable--
		n.mu.Unlock()
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	n.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	var req JSONRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
		return
	}

	n.mu.Lock()
	n.requests[req.Method]++
	n.mu.Unlock()

	var params []json.RawMessage
	_ = json.Unmarshal(req.Params, &params)

	switch req.Method {
	case "eth_chainId":
		writeJSON(w, req.ID, (*hexutil.Big)(n.ChainID))

	case "eth_blockNumber":
		n.mu.Lock()
		n.head++
		head := n.head
		n.mu.Unlock()
		writeJSON(w, req.ID, hexutil.Uint64(head))

	case "eth_gasPrice":
		writeJSON(w, req.ID, (*hexutil.Big)(big.NewInt(1_000_000_000)))

	case "eth_getTransactionCount":
		var addr common.Address
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &addr)
		}
		n.mu.Lock()
		nonce := n.nonces[addr]
		n.mu.Unlock()
		writeJSON(w, req.ID, hexutil.Uint64(nonce))

	case "eth_estimateGas":
		arg, err := decodeCallArg(params)
		if err != nil {
			WriteRPCError(w, req.ID, -32602, err.Error())
			return
		}
		if n.EstimateError != nil && arg.To != nil {
			if msg := n.EstimateError(*arg.To, arg.calldata()); msg != "" {
				WriteRPCError(w, req.ID, 3, "execution reverted: "+msg)
				return
			}
		}
		writeJSON(w, req.ID, hexutil.Uint64(200_000))

	case "eth_call":
		arg, err := decodeCallArg(params)
		if err != nil || arg.To == nil {
			WriteRPCError(w, req.ID, -32602, "invalid call arguments")
			return
		}
		out, err := n.Market.Call(r.Context(), *arg.To, arg.calldata())
		if err != nil {
			WriteRPCError(w, req.ID, 3, "execution reverted: "+err.Error())
			return
		}
		writeJSON(w, req.ID, hexutil.Bytes(out))

	case "eth_sendRawTransaction":
		hash, err := n.send(r.Context(), params)
		if err != nil {
			WriteRPCError(w, req.ID, -32000, err.Error())
			return
		}
		writeJSON(w, req.ID, hash)

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if len(params) > 0 {
			_ = json.Unmarshal(params[0], &hash)
		}
		n.mu.Lock()
		receipt := n.receipts[hash]
		delayed := n.ReceiptDelay > 0
		if delayed {
			n.ReceiptDelay--
		}
		n.mu.Unlock()
		if receipt == nil || delayed {
			WriteRPCResult(w, req.ID, json.RawMessage(`null`))
			return
		}
		writeJSON(w, req.ID, receipt)

	default:
		WriteRPCError(w, req.ID, -32601, "method not found: "+req.Method)
	}
}

func (n *MockNode) send(ctx context.Context, params []json.RawMessage) (common.Hash, error) {
	if len(params) == 0 {
		return common.Hash{}, errors.New("missing raw transaction")
	}
	var raw hexutil.Bytes
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return common.Hash{}, fmt.Errorf("invalid raw transaction: %w", err)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("decoding transaction: %w", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(n.ChainID), tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("invalid sender: %w", err)
	}
	if tx.To() == nil {
		return common.Hash{}, errors.New("contract creation not supported")
	}

	n.mu.Lock()
	if tx.Nonce() != n.nonces[from] {
		n.mu.Unlock()
		return common.Hash{}, fmt.Errorf("nonce too low: have %d, want %d", tx.Nonce(), n.nonces[from])
	}
	n.nonces[from]++
	n.mu.Unlock()

	mined, err := n.Market.Transact(ctx, outbound.TxRequest{From: from, To: *tx.To(), Data: tx.Data()})
	if mined == nil {
		if err == nil {
			err = errors.New("transaction rejected")
		}
		return common.Hash{}, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if mined.BlockNumber > n.head {
		n.head = mined.BlockNumber
	}
	n.sent = append(n.sent, tx)
	n.receipts[tx.Hash()] = &types.Receipt{
		Type:              tx.Type(),
		Status:            mined.Status,
		CumulativeGasUsed: mined.GasUsed,
		Logs:              []*types.Log{},
		TxHash:            tx.Hash(),
		GasUsed:           mined.GasUsed,
		EffectiveGasPrice: tx.GasPrice(),
		BlockHash:         common.BigToHash(new(big.Int).SetUint64(mined.BlockNumber)),
		BlockNumber:       new(big.Int).SetUint64(mined.BlockNumber),
	}
	return tx.Hash(), nil
}

func decodeCallArg(params []json.RawMessage) (callArg, error) {
	var arg callArg
	if len(params) == 0 {
		return arg, errors.New("missing call object")
	}
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return arg, fmt.Errorf("invalid call object: %w", err)
	}
	return arg, nil
}

func writeJSON(w http.ResponseWriter, id json.RawMessage, v any) {
	result, err := json.Marshal(v)
	if err != nil {
		WriteRPCError(w, id, -32603, err.Error())
		return
	}
	WriteRPCResult(w, id, result)
}

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]any{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}
