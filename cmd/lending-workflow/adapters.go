package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awssns "github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/archon-research/stl-lend/internal/adapters/outbound/ethrpc"
	"github.com/archon-research/stl-lend/internal/adapters/outbound/postgres"
	"github.com/archon-research/stl-lend/internal/adapters/outbound/redis"
	"github.com/archon-research/stl-lend/internal/adapters/outbound/sns"
	"github.com/archon-research/stl-lend/internal/adapters/outbound/telemetry"
	"github.com/archon-research/stl-lend/internal/services/lending"
	"github.com/archon-research/stl-lend/internal/services/workflow"
)

// buildDependencies wires the lending services and whichever optional
// adapters the environment enables. The returned func closes the adapters.
func buildDependencies(ctx context.Context, cfg cliConfig, executor *ethrpc.Executor, market lending.Market, logger *slog.Logger) (workflow.Dependencies, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (workflow.Dependencies, func(), error) {
		closeAll()
		return workflow.Dependencies{}, nil, err
	}

	granter, err := lending.NewAllowanceGranter(executor, logger)
	if err != nil {
		return fail(err)
	}
	positions, err := lending.NewPositionManager(executor, market.Pool, logger)
	if err != nil {
		return fail(err)
	}
	reader, err := lending.NewAccountStateReader(executor, market.Pool)
	if err != nil {
		return fail(err)
	}
	quoter, err := lending.NewRateConverter(executor, market.Oracle)
	if err != nil {
		return fail(err)
	}
	metrics, err := telemetry.NewWorkflowMetrics("github.com/archon-research/stl-lend/workflow")
	if err != nil {
		return fail(fmt.Errorf("creating metrics: %w", err))
	}

	deps := workflow.Dependencies{
		Granter:   granter,
		Positions: positions,
		Reader:    reader,
		Quoter:    quoter,
		Metrics:   metrics,
	}

	if cfg.redisAddr != "" {
		redisConfig := redis.ConfigDefaults()
		redisConfig.Addr = cfg.redisAddr
		lock, err := redis.NewAccountLock(redisConfig, logger)
		if err != nil {
			return fail(fmt.Errorf("creating account lock: %w", err))
		}
		closers = append(closers, func() { _ = lock.Close() })
		if err := lock.Ping(ctx); err != nil {
			return fail(fmt.Errorf("connecting to redis: %w", err))
		}
		deps.Lock = lock
		logger.Info("account lock enabled", "redis", cfg.redisAddr)
	}

	if cfg.databaseURL != "" {
		journal, err := postgres.OpenJournal(ctx, postgres.JournalConfigDefaults(cfg.databaseURL), logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, journal.Close)
		deps.Journal = journal
		logger.Info("run journal enabled")
	}

	if cfg.snsTopicARN != "" {
		sink, err := newSNSSink(ctx, cfg, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() { _ = sink.Close() })
		deps.Sinks = append(deps.Sinks, sink)
		logger.Info("SNS event sink enabled", "topic", cfg.snsTopicARN)
	}

	return deps, closeAll, nil
}

func newSNSSink(ctx context.Context, cfg cliConfig, logger *slog.Logger) (*sns.EventSink, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.awsRegion))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	var optFns []func(*awssns.Options)
	if cfg.snsEndpoint != "" {
		optFns = append(optFns, func(o *awssns.Options) {
			o.BaseEndpoint = aws.String(cfg.snsEndpoint)
		})
	}

	sinkConfig := sns.ConfigDefaults()
	sinkConfig.TopicARN = cfg.snsTopicARN
	sinkConfig.Logger = logger
	sink, err := sns.NewEventSink(awssns.NewFromConfig(awsCfg, optFns...), sinkConfig)
	if err != nil {
		return nil, fmt.Errorf("creating SNS event sink: %w", err)
	}
	return sink, nil
}
