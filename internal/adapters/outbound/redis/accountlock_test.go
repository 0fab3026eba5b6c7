package redis

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestNewAccountLock_AppliesDefaults(t *testing.T) {
	lock, err := NewAccountLock(Config{Addr: "localhost:6379"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Close()

	if lock.ttl != 30*time.Minute {
		t.Errorf("expected TTL=30m, got %v", lock.ttl)
	}
	if lock.keyPrefix != "stl-lend" {
		t.Errorf("expected keyPrefix=stl-lend, got %s", lock.keyPrefix)
	}
	if lock.logger == nil {
		t.Fatal("expected logger, got nil")
	}
}

func TestNewAccountLock_EmptyAddrReturnsError(t *testing.T) {
	_, err := NewAccountLock(Config{}, nil)
	if err == nil {
		t.Fatal("expected error for empty addr, got nil")
	}
	if !strings.Contains(err.Error(), "redis address is required") {
		t.Errorf("expected 'redis address is required' error, got %v", err)
	}
}

func TestAccountLock_Key(t *testing.T) {
	lock, err := NewAccountLock(Config{Addr: "localhost:6379", KeyPrefix: "test"}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer lock.Close()

	account := common.HexToAddress("0x00000000000000000000000000000000000000C1")
	want := "test:lock:1:0x00000000000000000000000000000000000000c1"
	if got := lock.Key(1, account); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
