package outbound

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// ErrAccountLocked is returned when another run holds the account.
var ErrAccountLocked = errors.New("account is locked by another workflow run")

// ReleaseFunc releases a held lock.
type ReleaseFunc func(ctx context.Context) error

// AccountLock serializes workflow runs per (chain, account) across processes.
type AccountLock interface {
	// Acquire takes the lock for owner or returns ErrAccountLocked.
	Acquire(ctx context.Context, chainID uint64, account common.Address, owner string) (ReleaseFunc, error)
}
