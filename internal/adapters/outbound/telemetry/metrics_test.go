package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func counterValue(t *testing.T, m metricdata.Metrics, key, value string) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("%s: expected Sum[int64], got %T", m.Name, m.Data)
	}
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			return dp.Value
		}
	}
	return 0
}

func TestWorkflowMetrics_Record(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := NewWorkflowMetricsWithProvider(provider, "test")
	if err != nil {
		t.Fatalf("NewWorkflowMetricsWithProvider: %v", err)
	}

	m.RecordStep(ctx, "deposit", 2*time.Second, nil)
	m.RecordStep(ctx, "borrow", time.Second, errors.New("reverted"))
	m.RecordTransaction(ctx, "approve", true)
	m.RecordTransaction(ctx, "approve", true)
	m.RecordTransaction(ctx, "borrow", false)
	m.RecordRun(ctx, "completed")

	metrics := collect(t, reader)

	if got := counterValue(t, metrics["workflow_transactions_total"], "method", "approve"); got != 2 {
		t.Errorf("expected 2 approve transactions, got %d", got)
	}
	if got := counterValue(t, metrics["workflow_transactions_total"], "status", "reverted"); got != 1 {
		t.Errorf("expected 1 reverted transaction, got %d", got)
	}
	if got := counterValue(t, metrics["workflow_runs_total"], "final_state", "completed"); got != 1 {
		t.Errorf("expected 1 completed run, got %d", got)
	}

	hist, ok := metrics["workflow_step_duration_seconds"].Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", metrics["workflow_step_duration_seconds"].Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Errorf("expected 2 histogram series, got %d", len(hist.DataPoints))
	}
}

func TestInitMetrics_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitMetrics(context.Background(), MetricConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestInitTracer_NoExporterIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracerConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
