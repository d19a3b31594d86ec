package task

// EventKind discriminates the StreamEvent union.
type EventKind string

const (
	EventTextDelta   EventKind = "text-delta"
	EventObjectDelta EventKind = "object-delta"
	EventSnapshot    EventKind = "snapshot"
	EventFinish      EventKind = "finish"
	EventError       EventKind = "error"
)

// StreamEvent is the discriminated union a StreamingTask emits. Exactly one
// terminal event (Finish or Error) occurs per stream.
type StreamEvent struct {
	Kind EventKind

	// Port is the output port this event targets; required for
	// text-delta/object-delta, ignored for snapshot/finish/error.
	Port string

	// TextDelta is the chunk to append, valid only for Kind == EventTextDelta.
	TextDelta string

	// Patch is an opaque incremental update, valid only for
	// Kind == EventObjectDelta.
	Patch any

	// Data carries the task's output snapshot for Kind == EventSnapshot or
	// Kind == EventFinish.
	Data map[string]any

	// Err carries the failure cause for Kind == EventError.
	Err error
}

// Terminal reports whether this event ends the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventFinish || e.Kind == EventError
}

// TextDeltaEvent constructs a text-delta event for port.
func TextDeltaEvent(port, delta string) StreamEvent {
	return StreamEvent{Kind: EventTextDelta, Port: port, TextDelta: delta}
}

// ObjectDeltaEvent constructs an object-delta event for port.
func ObjectDeltaEvent(port string, patch any) StreamEvent {
	return StreamEvent{Kind: EventObjectDelta, Port: port, Patch: patch}
}

// SnapshotEvent constructs a snapshot event replacing the output snapshot.
func SnapshotEvent(data map[string]any) StreamEvent {
	return StreamEvent{Kind: EventSnapshot, Data: data}
}

// FinishEvent constructs the terminal success event.
func FinishEvent(data map[string]any) StreamEvent {
	return StreamEvent{Kind: EventFinish, Data: data}
}

// ErrorEvent constructs the terminal failure event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Kind: EventError, Err: err}
}
