//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// setupRedis creates a Redis container and returns a connected AccountLock.
func setupRedis(t *testing.T, ttl time.Duration) (*AccountLock, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	lock, err := NewAccountLock(Config{
		Addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		TTL:       ttl,
		KeyPrefix: "test",
	}, nil)
	if err != nil {
		t.Fatalf("failed to create account lock: %v", err)
	}

	for i := 0; i < 30; i++ {
		if err := lock.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	cleanup := func() {
		lock.Close()
		container.Terminate(ctx)
	}
	return lock, cleanup
}

var testAccount = common.HexToAddress("0x00000000000000000000000000000000000000C1")

func TestAcquire_ExcludesSecondOwner(t *testing.T) {
	lock, cleanup := setupRedis(t, time.Minute)
	defer cleanup()
	ctx := context.Background()

	release, err := lock.Acquire(ctx, 1, testAccount, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	_, err = lock.Acquire(ctx, 1, testAccount, "run-2")
	if !errors.Is(err, outbound.ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked, got %v", err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := lock.Acquire(ctx, 1, testAccount, "run-2"); err != nil {
		t.Fatalf("expected lock to be free after release, got %v", err)
	}
}

func TestAcquire_ExpiredLockCannotBeReleasedByOldOwner(t *testing.T) {
	lock, cleanup := setupRedis(t, 200*time.Millisecond)
	defer cleanup()
	ctx := context.Background()

	staleRelease, err := lock.Acquire(ctx, 1, testAccount, "run-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(400 * time.Millisecond)

	if _, err := lock.Acquire(ctx, 1, testAccount, "run-2"); err != nil {
		t.Fatalf("expected expired lock to be taken over, got %v", err)
	}
	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}

	holder, err := lock.client.Get(ctx, lock.Key(1, testAccount)).Result()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if holder != "run-2" {
		t.Errorf("expected run-2 to keep the lock, got %q", holder)
	}
}
