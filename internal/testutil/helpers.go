package testutil

import (
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// TestPrivateKey is the first well-known Hardhat development key.
const TestPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

// DiscardLogger returns an slog.Logger that writes to io.Discard.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestKeyAddress returns the account address of TestPrivateKey.
func TestKeyAddress(t *testing.T) common.Address {
	t.Helper()
	key, err := crypto.HexToECDSA(TestPrivateKey)
	if err != nil {
		t.Fatalf("parsing test key: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey)
}
