// Package main runs the collateralized-lending workflow once for the account
// of PRIVATE_KEY: approve and deposit collateral, borrow the available
// capacity in the debt asset, then approve and repay it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/joho/godotenv"

	"github.com/archon-research/stl-lend/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/stl-lend/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-lend/internal/domain/entity"
	"github.com/archon-research/stl-lend/internal/pkg/env"
	"github.com/archon-research/stl-lend/internal/pkg/netconfig"
	"github.com/archon-research/stl-lend/internal/services/lending"
	"github.com/archon-research/stl-lend/internal/services/workflow"
)

const serviceName = "lending-workflow"

func main() {
	_ = godotenv.Load(".env")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	networkConfig string
	network       string
	rpcURL        string
	privateKey    string

	amount     string
	collateral string
	debt       string
	rateMode   entity.InterestRateMode
	conversion lending.ConversionMode
	borrowBps  uint32
	referral   uint16

	confirmations uint64
	pollInterval  time.Duration
	output        string

	redisAddr    string
	databaseURL  string
	snsTopicARN  string
	snsEndpoint  string
	awsRegion    string
	otlpEndpoint string
	tracesStdout bool
}

func parseFlags(args []string) (cliConfig, error) {
	confirmationsDefault, err := env.GetUint64("CONFIRMATIONS", 1)
	if err != nil {
		return cliConfig{}, err
	}
	pollDefault, err := env.GetDuration("POLL_INTERVAL", 2*time.Second)
	if err != nil {
		return cliConfig{}, err
	}
	tracesStdout, err := env.GetBool("OTEL_TRACES_STDOUT", false)
	if err != nil {
		return cliConfig{}, err
	}

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	networkConfig := fs.String("config", env.Get("NETWORK_CONFIG", "config/networks.yaml"), "Network address table (YAML)")
	network := fs.String("network", env.Get("NETWORK", ""), "Network name or chain id (default: the node's chain id)")
	rpcURL := fs.String("rpc", env.Get("RPC_URL", ""), "JSON-RPC endpoint of the execution client")
	amount := fs.String("amount", "0.02", "Collateral to deposit, in whole units (e.g. 0.02)")
	collateral := fs.String("collateral", "WETH", "Collateral asset symbol")
	debt := fs.String("debt", "DAI", "Debt asset symbol")
	rateMode := fs.String("rate-mode", "stable", "Interest rate mode: stable or variable")
	conversion := fs.String("conversion", "precise", "Capacity conversion: precise or whole-units")
	borrowBps := fs.Uint("borrow-bps", lending.MaxBps, "Share of available capacity to borrow, in basis points")
	referral := fs.Uint("referral", 0, "Referral code passed to deposit and borrow")
	confirmations := fs.Uint64("confirmations", confirmationsDefault, "Blocks to wait for each transaction, counting its own")
	pollInterval := fs.Duration("poll-interval", pollDefault, "Delay between receipt polls")
	output := fs.String("output", "text", "Report format: 'text' or 'json'")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		networkConfig: *networkConfig,
		network:       *network,
		rpcURL:        *rpcURL,
		amount:        *amount,
		collateral:    *collateral,
		debt:          *debt,
		confirmations: *confirmations,
		pollInterval:  *pollInterval,
		output:        *output,
		redisAddr:     env.Get("REDIS_ADDR", ""),
		databaseURL:   env.Get("DATABASE_URL", ""),
		snsTopicARN:   env.Get("AWS_SNS_TOPIC_ARN", ""),
		snsEndpoint:   env.Get("AWS_SNS_ENDPOINT", ""),
		awsRegion:     env.Get("AWS_REGION", "eu-west-1"),
		otlpEndpoint:  env.Get("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		tracesStdout:  tracesStdout,
	}

	if cfg.rpcURL == "" {
		return cliConfig{}, fmt.Errorf("--rpc is required (or set RPC_URL)")
	}
	if cfg.privateKey, err = env.Require("PRIVATE_KEY"); err != nil {
		return cliConfig{}, err
	}
	if cfg.confirmations == 0 {
		return cliConfig{}, fmt.Errorf("--confirmations must be at least 1")
	}
	if *borrowBps == 0 || *borrowBps > lending.MaxBps {
		return cliConfig{}, fmt.Errorf("--borrow-bps must be in (0, %d]", lending.MaxBps)
	}
	if *referral > 0xffff {
		return cliConfig{}, fmt.Errorf("--referral must fit in 16 bits")
	}
	if cfg.output != "text" && cfg.output != "json" {
		return cliConfig{}, fmt.Errorf("unknown output format: %s (supported: text, json)", cfg.output)
	}
	cfg.borrowBps = uint32(*borrowBps)
	cfg.referral = uint16(*referral)

	if cfg.rateMode, err = entity.ParseRateMode(*rateMode); err != nil {
		return cliConfig{}, err
	}
	if cfg.conversion, err = lending.ParseConversionMode(*conversion); err != nil {
		return cliConfig{}, err
	}

	return cfg, nil
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := parseFlags(args)
	if err != nil {
		return err
	}

	logger := env.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	table, err := netconfig.Load(cfg.networkConfig)
	if err != nil {
		return err
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.privateKey, "0x"))
	if err != nil {
		return fmt.Errorf("parsing PRIVATE_KEY: %w", err)
	}

	execConfig := ethrpc.ConfigDefaults()
	execConfig.PrivateKey = key
	execConfig.Confirmations = cfg.confirmations
	execConfig.PollInterval = cfg.pollInterval
	execConfig.Logger = logger

	executor, client, err := ethrpc.Dial(ctx, cfg.rpcURL, execConfig)
	if err != nil {
		return err
	}
	defer client.Close()

	chainID := executor.ChainID().Uint64()
	network, err := selectNetwork(table, cfg.network, chainID)
	if err != nil {
		return err
	}
	logger.Info("connected to node",
		"network", network.Name,
		"chainId", chainID,
		"account", executor.Account().Hex())

	collateral, err := network.Asset(cfg.collateral)
	if err != nil {
		return err
	}
	debt, err := network.Asset(cfg.debt)
	if err != nil {
		return err
	}
	assets, err := lending.NewAssetReader(executor)
	if err != nil {
		return err
	}
	for _, asset := range []*entity.Asset{collateral, debt} {
		if err := assets.Verify(ctx, asset); err != nil {
			return err
		}
	}
	amount, err := collateral.Parse(cfg.amount)
	if err != nil {
		return err
	}

	resolver, err := lending.NewMarketResolver(executor)
	if err != nil {
		return err
	}
	market, err := resolver.Resolve(ctx, lending.Market{
		Pool:   network.PoolAddress(),
		Oracle: network.OracleAddress(),
	}, network.ProviderAddress())
	if err != nil {
		return err
	}
	logger.Info("lending market", "pool", market.Pool.Hex(), "oracle", market.Oracle.Hex())

	deps, closeAdapters, err := buildDependencies(ctx, cfg, executor, market, logger)
	if err != nil {
		return err
	}
	defer closeAdapters()

	unitSymbol, unitDecimals := network.Unit()
	unit := workflow.UnitOfAccount{Symbol: unitSymbol, Decimals: unitDecimals}

	driver, err := workflow.NewDriver(workflow.Config{
		ChainID:       chainID,
		Account:       executor.Account(),
		Collateral:    collateral,
		Debt:          debt,
		DepositAmount: amount,
		RateMode:      cfg.rateMode,
		ReferralCode:  cfg.referral,
		BorrowBps:     cfg.borrowBps,
		Conversion:    cfg.conversion,
		UnitOfAccount: unit,
		Logger:        logger,
	}, deps)
	if err != nil {
		return fmt.Errorf("creating workflow: %w", err)
	}

	report, runErr := driver.Run(ctx)
	if report != nil {
		if err := printReport(stdout, report, cfg.output, unit, debt); err != nil {
			return fmt.Errorf("printing report: %w", err)
		}
	}
	return runErr
}

// selectNetwork picks the configured network and checks it matches the node.
func selectNetwork(table *netconfig.File, name string, chainID uint64) (*netconfig.Network, error) {
	if name == "" {
		return table.ByChainID(chainID)
	}
	network, err := table.Lookup(name)
	if err != nil {
		return nil, err
	}
	if network.ChainID != chainID {
		return nil, fmt.Errorf("network %s has chain id %d but the node reports %d", network.Name, network.ChainID, chainID)
	}
	return network, nil
}

func initTelemetry(ctx context.Context, cfg cliConfig) (func(), error) {
	tracerConfig := telemetry.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.otlpEndpoint,
	}
	// Stdout carries the report, so spans go to stderr.
	if cfg.tracesStdout {
		tracerConfig.Stdout = os.Stderr
	}
	shutdownTracer, err := telemetry.InitTracer(ctx, tracerConfig)
	if err != nil {
		return nil, fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.otlpEndpoint,
	})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			slog.Warn("failed to flush metrics", "error", err)
		}
		if err := shutdownTracer(ctx); err != nil {
			slog.Warn("failed to flush traces", "error", err)
		}
	}, nil
}

func printReport(w io.Writer, report *workflow.Report, format string, unit workflow.UnitOfAccount, debt *entity.Asset) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	default:
		_, err := io.WriteString(w, report.Summary(unit, debt))
		return err
	}
}
