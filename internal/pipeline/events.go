package pipeline

import "github.com/forPelevin/chatcut/internal/types"

// EventKind enumerates what can happen during a run.
type EventKind int

const (
	StatusUpdate EventKind = iota
	UsageUpdate
	Finished
	Failed
)

func (k EventKind) String() string {
	switch k {
	case StatusUpdate:
		return "status"
	case UsageUpdate:
		return "usage"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is one run occurrence delivered to every subscribed sink. The live-UI
// transport and the durable-store writer both consume the same stream, which
// keeps "what happened" separate from "who persists it".
type Event struct {
	Kind      EventKind
	ThreadID  string
	MessageID string

	// Status carries the human-readable text for StatusUpdate and Failed.
	Status string

	// Record carries the accounting delta for UsageUpdate.
	Record types.UsageRecord

	// Finished payload.
	Content  string
	File     *types.Attachment
	Timeline []types.TimelineSegment
	Version  int
}

// Sink receives run events. Emit must be safe to call from the single run
// goroutine; sinks are never invoked concurrently within one run.
type Sink interface {
	Emit(ev Event) error
}

// MultiSink fans an event out to every subscriber in order.
type MultiSink []Sink

func (m MultiSink) Emit(ev Event) error {
	var firstErr error
	for _, s := range m {
		if err := s.Emit(ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event) error

func (f SinkFunc) Emit(ev Event) error { return f(ev) }
