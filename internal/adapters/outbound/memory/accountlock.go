package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that AccountLock implements outbound.AccountLock
var _ outbound.AccountLock = (*AccountLock)(nil)

type lockKey struct {
	chainID uint64
	account common.Address
}

// AccountLock serializes runs per account inside one process.
type AccountLock struct {
	mu     sync.Mutex
	owners map[lockKey]string
}

// NewAccountLock creates a new in-memory account lock.
func NewAccountLock() *AccountLock {
	return &AccountLock{owners: make(map[lockKey]string)}
}

// Acquire takes the lock for owner or returns outbound.ErrAccountLocked.
func (l *AccountLock) Acquire(ctx context.Context, chainID uint64, account common.Address, owner string) (outbound.ReleaseFunc, error) {
	key := lockKey{chainID: chainID, account: account}

	l.mu.Lock()
	defer l.mu.Unlock()

	if holder, ok := l.owners[key]; ok {
		return nil, fmt.Errorf("%w: held by %s", outbound.ErrAccountLocked, holder)
	}
	l.owners[key] = owner

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.owners[key] == owner {
			delete(l.owners, key)
		}
		return nil
	}, nil
}

// Holder returns the current owner of the lock, if any.
func (l *AccountLock) Holder(chainID uint64, account common.Address) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.owners[lockKey{chainID: chainID, account: account}]
	return owner, ok
}
