package events

// Event type constants for kelindar/event.
const (
	TypeStreamStateChanged uint32 = iota + 1
	TypeStreamError
	TypeStreamReconnecting
	TypeOutputStarted
	TypeOutputStopped
	TypeSinkWriteError
	TypeStreamRegistered
	TypeStreamDeregistered
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StreamStateChangedEvent fires on every state machine transition.
type StreamStateChangedEvent struct {
	Stream    string `json:"stream"`
	OldState  string `json:"old_state"`
	NewState  string `json:"new_state"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamStateChangedEvent.
func (e StreamStateChangedEvent) Type() uint32 { return TypeStreamStateChanged }

// StreamErrorEvent fires when a stream error is recorded.
type StreamErrorEvent struct {
	Stream    string `json:"stream"`
	Code      string `json:"code"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamErrorEvent.
func (e StreamErrorEvent) Type() uint32 { return TypeStreamError }

// StreamReconnectingEvent fires when an active stream begins recovery.
type StreamReconnectingEvent struct {
	Stream    string `json:"stream"`
	Attempts  int    `json:"attempts"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamReconnectingEvent.
func (e StreamReconnectingEvent) Type() uint32 { return TypeStreamReconnecting }

// OutputStartedEvent fires when a processor output comes up.
type OutputStartedEvent struct {
	Stream     string `json:"stream"`
	OutputType string `json:"output_type"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for OutputStartedEvent.
func (e OutputStartedEvent) Type() uint32 { return TypeOutputStarted }

// OutputStoppedEvent fires when a processor output is removed or closed.
type OutputStoppedEvent struct {
	Stream     string `json:"stream"`
	OutputType string `json:"output_type"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for OutputStoppedEvent.
func (e OutputStoppedEvent) Type() uint32 { return TypeOutputStopped }

// SinkWriteErrorEvent fires, rate-limited, when a sink rejects packets.
type SinkWriteErrorEvent struct {
	Stream     string `json:"stream"`
	OutputType string `json:"output_type"`
	Errors     uint64 `json:"errors"`
	Timestamp  string `json:"timestamp"`
}

// Type returns the event type identifier for SinkWriteErrorEvent.
func (e SinkWriteErrorEvent) Type() uint32 { return TypeSinkWriteError }

// StreamRegisteredEvent fires when a stream is added to the registry.
type StreamRegisteredEvent struct {
	Stream    string `json:"stream"`
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamRegisteredEvent.
func (e StreamRegisteredEvent) Type() uint32 { return TypeStreamRegistered }

// StreamDeregisteredEvent fires when a stream is removed from the registry.
type StreamDeregisteredEvent struct {
	Stream    string `json:"stream"`
	Timestamp string `json:"timestamp"`
}

// Type returns the event type identifier for StreamDeregisteredEvent.
func (e StreamDeregisteredEvent) Type() uint32 { return TypeStreamDeregistered }
