package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that WorkflowMetrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*WorkflowMetrics)(nil)

// WorkflowMetrics implements the MetricsRecorder interface using OpenTelemetry.
type WorkflowMetrics struct {
	stepDuration metric.Float64Histogram
	transactions metric.Int64Counter
	runs         metric.Int64Counter
}

// NewWorkflowMetrics creates a recorder on the global meter provider.
func NewWorkflowMetrics(meterName string) (*WorkflowMetrics, error) {
	return NewWorkflowMetricsWithProvider(otel.GetMeterProvider(), meterName)
}

// NewWorkflowMetricsWithProvider creates a recorder on a custom meter provider.
func NewWorkflowMetricsWithProvider(mp metric.MeterProvider, meterName string) (*WorkflowMetrics, error) {
	meter := mp.Meter(meterName)

	stepDuration, err := meter.Float64Histogram(
		"workflow_step_duration_seconds",
		metric.WithDescription("Time taken by one workflow action, including confirmations"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_step_duration_seconds histogram: %w", err)
	}

	transactions, err := meter.Int64Counter(
		"workflow_transactions_total",
		metric.WithDescription("Total number of transactions submitted by the workflow"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_transactions_total counter: %w", err)
	}

	runs, err := meter.Int64Counter(
		"workflow_runs_total",
		metric.WithDescription("Total number of finished workflow runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_runs_total counter: %w", err)
	}

	return &WorkflowMetrics{
		stepDuration: stepDuration,
		transactions: transactions,
		runs:         runs,
	}, nil
}

// RecordStep records the duration and outcome of one workflow action.
func (m *WorkflowMetrics) RecordStep(ctx context.Context, action string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.stepDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("status", status),
	))
}

// RecordTransaction counts a transaction by method and status.
func (m *WorkflowMetrics) RecordTransaction(ctx context.Context, method string, succeeded bool) {
	status := "success"
	if !succeeded {
		status = "reverted"
	}
	m.transactions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	))
}

// RecordRun counts a finished run by its final state.
func (m *WorkflowMetrics) RecordRun(ctx context.Context, finalState string) {
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("final_state", finalState)))
}
