package streams

// Repository defines the interface for stream definition access
type Repository interface {
	// Load loads the configuration from storage
	Load() error

	// Save saves the configuration to storage
	Save() error

	// AddStream adds a new stream to the configuration
	AddStream(cfg StreamConfig) error

	// UpdateStream updates an existing stream configuration
	UpdateStream(name string, cfg StreamConfig) error

	// RemoveStream removes a stream from the configuration
	RemoveStream(name string) error

	// GetStream retrieves a stream by name
	GetStream(name string) (StreamConfig, bool)

	// GetAllStreams returns all streams
	GetAllStreams() map[string]StreamConfig
}
