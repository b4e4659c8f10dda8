package streams

// StreamState represents the lifecycle state of a managed stream.
type StreamState string

// Stream states.
const (
	StateInactive     StreamState = "inactive"     // Not running
	StateStarting     StreamState = "starting"     // Components being started
	StateActive       StreamState = "active"       // At least one component running
	StateReconnecting StreamState = "reconnecting" // Recovering from a runtime error
	StateStopping     StreamState = "stopping"     // Components being torn down
	StateError        StreamState = "error"        // Failed; manual restart required
)

// canStart reports whether Start is legal from s. Active is tolerated as a
// no-op; Error requires an explicit restart, which Start is.
func (s StreamState) canStart() bool {
	switch s {
	case StateInactive, StateError, StateActive:
		return true
	}
	return false
}
