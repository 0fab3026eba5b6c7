package outbound

import (
	"context"
	"time"
)

// WorkflowEvent is published on every workflow state transition.
type WorkflowEvent struct {
	RunID     string    `json:"runId"`
	ChainID   uint64    `json:"chainId"`
	Account   string    `json:"account"`
	FromState string    `json:"fromState"`
	ToState   string    `json:"toState"`
	Action    string    `json:"action"`
	TxHashes  []string  `json:"txHashes,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Terminal reports whether the event ends a run.
func (e WorkflowEvent) Terminal() bool {
	return e.ToState == "completed" || e.ToState == "failed"
}

// EventSink publishes workflow events to downstream consumers.
type EventSink interface {
	Publish(ctx context.Context, event WorkflowEvent) error

	// Close closes the sink and releases any resources.
	Close() error
}
