// telemetry.go provides OpenTelemetry instrumentation for the executor:
//   - ethrpc.request.duration: Histogram of node round-trip latencies by op
//   - ethrpc.requests.total: Counter of node requests by op and outcome
//     (success, not_found or error)
//   - ethrpc.retries.total: Counter of retried node requests
//   - ethrpc.transactions.total: Counter of confirmed transactions by method and status
package ethrpc

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/archon-research/stl-lend/internal/adapters/outbound/ethrpc"

// Telemetry provides OpenTelemetry metrics and tracing for the executor.
type Telemetry struct {
	tracer trace.Tracer

	requestDuration   metric.Float64Histogram
	requestsTotal     metric.Int64Counter
	retriesTotal      metric.Int64Counter
	transactionsTotal metric.Int64Counter
}

// NewTelemetry uses the global tracer and meter providers.
func NewTelemetry() (*Telemetry, error) {
	return NewTelemetryWithProviders(otel.GetTracerProvider(), otel.GetMeterProvider())
}

// NewTelemetryWithProviders creates a Telemetry with custom providers.
func NewTelemetryWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Telemetry, error) {
	meter := mp.Meter(instrumentationName)
	t := &Telemetry{tracer: tp.Tracer(instrumentationName)}

	var err error
	t.requestDuration, err = meter.Float64Histogram(
		"ethrpc.request.duration",
		metric.WithDescription("Duration of node round trips including retries"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	t.requestsTotal, err = meter.Int64Counter(
		"ethrpc.requests.total",
		metric.WithDescription("Total node requests by op and outcome"),
	)
	if err != nil {
		return nil, err
	}

	t.retriesTotal, err = meter.Int64Counter(
		"ethrpc.retries.total",
		metric.WithDescription("Total retried node requests"),
	)
	if err != nil {
		return nil, err
	}

	t.transactionsTotal, err = meter.Int64Counter(
		"ethrpc.transactions.total",
		metric.WithDescription("Confirmed transactions by method and status"),
	)
	if err != nil {
		return nil, err
	}

	return t, nil
}

// StartSpan starts a span with the executor's tracer.
func (t *Telemetry) StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, opts...)
}

// RecordRequest records one node round trip. ethereum.NotFound, returned
// while a receipt is pending, is an answer and is counted as not_found.
func (t *Telemetry) RecordRequest(ctx context.Context, op string, duration time.Duration, err error) {
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ethereum.NotFound):
		status = "not_found"
	default:
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("op", op),
		attribute.String("status", status),
	)
	t.requestDuration.Record(ctx, duration.Seconds(), attrs)
	t.requestsTotal.Add(ctx, 1, attrs)
}

// RecordRetry records one retry of op.
func (t *Telemetry) RecordRetry(ctx context.Context, op string) {
	t.retriesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("op", op)))
}

// RecordTransaction records a confirmed transaction.
func (t *Telemetry) RecordTransaction(ctx context.Context, method string, succeeded bool) {
	status := "success"
	if !succeeded {
		status = "reverted"
	}
	t.transactionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}
