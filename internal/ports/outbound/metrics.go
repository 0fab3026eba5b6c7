package outbound

import (
	"context"
	"time"
)

// MetricsRecorder records workflow-level metrics.
type MetricsRecorder interface {
	// RecordStep records the latency and outcome of one workflow action.
	RecordStep(ctx context.Context, action string, duration time.Duration, err error)

	// RecordTransaction counts a submitted transaction by method and status.
	RecordTransaction(ctx context.Context, method string, succeeded bool)

	// RecordRun counts a finished run by its final state.
	RecordRun(ctx context.Context, finalState string)
}
