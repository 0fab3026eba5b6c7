// Package redis provides a Redis implementation of the AccountLock port.
//
// A lock is a single key set with NX and a TTL, holding the owner's run ID.
// Release deletes the key only if it still holds that run ID, so a run whose
// lock expired cannot release the lock of the run that took over. Keys use
// the format prefix:lock:chainID:account.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that AccountLock implements outbound.AccountLock
var _ outbound.AccountLock = (*AccountLock)(nil)

// releaseScript deletes KEYS[1] only when it holds ARGV[1].
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config holds Redis lock configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// TTL bounds how long a crashed run can hold an account
	TTL time.Duration
	// KeyPrefix is prepended to all lock keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for the Redis lock.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		TTL:       30 * time.Minute,
		KeyPrefix: "stl-lend",
	}
}

// AccountLock is a Redis implementation of the outbound.AccountLock port.
type AccountLock struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	logger    *slog.Logger
}

// NewAccountLock creates a new Redis account lock.
func NewAccountLock(cfg Config, logger *slog.Logger) (*AccountLock, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	defaults := ConfigDefaults()
	if cfg.TTL == 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaults.KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &AccountLock{
		client:    client,
		ttl:       cfg.TTL,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-account-lock"),
	}, nil
}

// Key returns the Redis key for an account lock.
func (l *AccountLock) Key(chainID uint64, account common.Address) string {
	return fmt.Sprintf("%s:lock:%d:%s", l.keyPrefix, chainID, strings.ToLower(account.Hex()))
}

// Acquire takes the lock for owner or returns outbound.ErrAccountLocked.
func (l *AccountLock) Acquire(ctx context.Context, chainID uint64, account common.Address, owner string) (outbound.ReleaseFunc, error) {
	if owner == "" {
		return nil, errors.New("lock owner is required")
	}
	key := l.Key(chainID, account)

	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		holder, err := l.client.Get(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.Warn("failed to read lock holder", "key", key, "error", err)
		}
		return nil, fmt.Errorf("%w: held by %s", outbound.ErrAccountLocked, holder)
	}

	l.logger.Debug("lock acquired", "key", key, "owner", owner, "ttl", l.ttl)

	return func(ctx context.Context) error {
		deleted, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Int()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		if deleted == 0 {
			l.logger.Warn("lock expired before release", "key", key, "owner", owner)
		}
		return nil
	}, nil
}

// Ping checks the connection to Redis.
func (l *AccountLock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (l *AccountLock) Close() error {
	return l.client.Close()
}
