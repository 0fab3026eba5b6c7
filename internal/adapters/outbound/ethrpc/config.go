package ethrpc

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/archon-research/stl-lend/internal/pkg/retry"
)

// Default configuration values.
const (
	defaultConfirmations  = 1
	defaultPollInterval   = 2 * time.Second
	defaultReceiptTimeout = 5 * time.Minute
	defaultGasHeadroomPct = 20
	defaultRateLimit      = 10
)

// Config holds the configuration for the transaction executor.
type Config struct {
	// PrivateKey signs every transaction. Required.
	PrivateKey *ecdsa.PrivateKey

	// ChainID is used for EIP-155 signing. Fetched from the node if nil.
	ChainID *big.Int

	// Confirmations is how many blocks, counting the inclusion block, must
	// exist before a transaction is reported as confirmed. Defaults to 1.
	Confirmations uint64

	// PollInterval is the delay between receipt and head polls.
	// Defaults to 2 seconds.
	PollInterval time.Duration

	// ReceiptTimeout bounds the wait for inclusion and confirmations.
	// Defaults to 5 minutes.
	ReceiptTimeout time.Duration

	// GasHeadroomPct is added on top of the node's gas estimate. Zero sends
	// the raw estimate; ConfigDefaults uses 20.
	GasHeadroomPct uint64

	// RateLimitPerSec caps node requests per second. Zero means the
	// default of 10; negative values are rejected.
	RateLimitPerSec float64

	// Retry configures retries of transport failures.
	Retry retry.Config

	// Logger is the structured logger for the executor.
	Logger *slog.Logger
}

// ConfigDefaults returns a config with default values.
func ConfigDefaults() Config {
	return Config{
		Confirmations:   defaultConfirmations,
		PollInterval:    defaultPollInterval,
		ReceiptTimeout:  defaultReceiptTimeout,
		GasHeadroomPct:  defaultGasHeadroomPct,
		RateLimitPerSec: defaultRateLimit,
		Retry:           retry.DefaultConfig(),
		Logger:          slog.Default(),
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.PrivateKey == nil {
		return errors.New("private key is required")
	}
	if c.ChainID != nil && c.ChainID.Sign() <= 0 {
		return errors.New("chain ID must be positive")
	}
	if c.RateLimitPerSec < 0 {
		return fmt.Errorf("rate limit must not be negative, got %g", c.RateLimitPerSec)
	}
	return nil
}

func (c *Config) applyDefaults() {
	defaults := ConfigDefaults()
	if c.Confirmations == 0 {
		c.Confirmations = defaults.Confirmations
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.ReceiptTimeout == 0 {
		c.ReceiptTimeout = defaults.ReceiptTimeout
	}
	if c.RateLimitPerSec == 0 {
		c.RateLimitPerSec = defaults.RateLimitPerSec
	}
	if c.Retry == (retry.Config{}) {
		c.Retry = defaults.Retry
	}
	if c.Logger == nil {
		c.Logger = defaults.Logger
	}
}
