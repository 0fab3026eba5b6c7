package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracer_StdoutReceivesSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var out bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{
		ServiceName: "lending-workflow-test",
		Stdout:      &out,
	})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "workflow.deposit")
	span.End()

	// Shutdown flushes the batcher.
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	for _, want := range []string{"workflow.deposit", "lending-workflow-test"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("exported spans missing %q:\n%s", want, out.String())
		}
	}
}

func TestInitTracer_SampleRateZeroDropsSpans(t *testing.T) {
	previous := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	var out bytes.Buffer
	shutdown, err := InitTracer(context.Background(), TracerConfig{Stdout: &out, SampleRate: -1})
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "workflow.borrow")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if strings.Contains(out.String(), "workflow.borrow") {
		t.Errorf("unsampled span was exported:\n%s", out.String())
	}
}
