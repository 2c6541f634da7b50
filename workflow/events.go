package workflow

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// EventType identifies a lifecycle event emitted by the engine.
type EventType string

const (
	// EventExecutionStarted is emitted when a run begins.
	EventExecutionStarted EventType = "execution_started"
	// EventExecutionFinished is emitted when a run reaches a terminal status.
	EventExecutionFinished EventType = "execution_finished"
	// EventStepStarted is emitted before a step attempt dispatches.
	EventStepStarted EventType = "step_started"
	// EventStepCompleted is emitted when a step succeeds.
	EventStepCompleted EventType = "step_completed"
	// EventStepRetrying is emitted when a failed step will retry.
	EventStepRetrying EventType = "step_retrying"
	// EventStepFailed is emitted when a step fails terminally.
	EventStepFailed EventType = "step_failed"
	// EventStepSkipped is emitted when a step is skipped due to upstream failure.
	EventStepSkipped EventType = "step_skipped"
	// EventGateEvaluated is emitted after each gate evaluation.
	EventGateEvaluated EventType = "gate_evaluated"
)

// Event is a structured lifecycle record delivered to the observability sink.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	WorkflowID  string    `json:"workflow_id"`
	StepID      string    `json:"step_id,omitempty"`
	GateID      string    `json:"gate_id,omitempty"`
	Attempt     int       `json:"attempt,omitempty"`
	Passed      *bool     `json:"passed,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink receives engine lifecycle events. Implementations must never
// block: the engine calls Emit inline on its execution path.
type EventSink interface {
	Emit(Event)
}

// NopSink discards all events.
type NopSink struct{}

// Emit implements EventSink.
func (NopSink) Emit(Event) {}

// ChannelEmitter buffers events on a channel for asynchronous consumers.
// When the buffer is full the event is dropped and counted, never blocking
// the engine.
type ChannelEmitter struct {
	ch      chan Event
	logger  *zap.Logger
	mu      sync.Mutex
	closed  bool
	dropped uint64
}

// NewChannelEmitter creates an emitter with the given buffer size.
func NewChannelEmitter(buffer int, logger *zap.Logger) *ChannelEmitter {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelEmitter{
		ch:     make(chan Event, buffer),
		logger: logger.With(zap.String("component", "event_emitter")),
	}
}

// Emit implements EventSink.
func (e *ChannelEmitter) Emit(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		e.dropped++
		e.logger.Warn("event buffer full, dropping event",
			zap.String("type", string(ev.Type)),
			zap.Uint64("dropped_total", e.dropped),
		)
	}
}

// Events returns the consumer side of the emitter.
func (e *ChannelEmitter) Events() <-chan Event {
	return e.ch
}

// Dropped returns how many events were discarded due to a full buffer.
func (e *ChannelEmitter) Dropped() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Close stops the emitter and closes the event channel.
func (e *ChannelEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}
