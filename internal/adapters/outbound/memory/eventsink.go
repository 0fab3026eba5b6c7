// eventsink.go provides an in-memory implementation of EventSink.
//
// Published workflow events are kept in order for inspection:
//   - Events(): all published events
//   - EventsForRun(): events of one run
//   - OnPublish(): callback for test assertions
//
// All operations are thread-safe. The CLI falls back to this sink when no
// SNS topic is configured.
package memory

import (
	"context"
	"sync"

	"github.com/archon-research/stl-lend/internal/ports/outbound"
)

// Compile-time check that EventSink implements outbound.EventSink
var _ outbound.EventSink = (*EventSink)(nil)

// EventSink stores published workflow events in memory.
type EventSink struct {
	mu     sync.RWMutex
	events []outbound.WorkflowEvent
	closed bool

	onPublish func(outbound.WorkflowEvent)
}

// NewEventSink creates a new in-memory event sink.
func NewEventSink() *EventSink {
	return &EventSink{
		events: make([]outbound.WorkflowEvent, 0),
	}
}

// Publish stores the event. Events published after Close are dropped.
func (s *EventSink) Publish(ctx context.Context, event outbound.WorkflowEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.events = append(s.events, event)

	if s.onPublish != nil {
		s.onPublish(event)
	}
	return nil
}

// Close marks the sink as closed.
func (s *EventSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Events returns all published events.
func (s *EventSink) Events() []outbound.WorkflowEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]outbound.WorkflowEvent, len(s.events))
	copy(result, s.events)
	return result
}

// EventsForRun returns the events of one run in publish order.
func (s *EventSink) EventsForRun(runID string) []outbound.WorkflowEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]outbound.WorkflowEvent, 0)
	for _, e := range s.events {
		if e.RunID == runID {
			result = append(result, e)
		}
	}
	return result
}

// Clear removes all stored events.
func (s *EventSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make([]outbound.WorkflowEvent, 0)
}

// OnPublish sets a callback to be called when an event is published.
func (s *EventSink) OnPublish(fn func(outbound.WorkflowEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPublish = fn
}
