package streams

import (
	"time"

	"github.com/smazurov/nvrnode/internal/media"
)

// Component identifies a logical holder of a stream reference. Reference
// counts are keyed by component so a double AddRef from the same subsystem
// is visible instead of silently inflating the count.
type Component string

// Components that may hold stream references.
const (
	ComponentAPI       Component = "api"
	ComponentReader    Component = "reader"
	ComponentHLS       Component = "hls"
	ComponentMP4       Component = "mp4"
	ComponentDetection Component = "detection"
	ComponentOther     Component = "other"
)

// StreamConfig is the externally supplied definition of a stream. It is
// treated as immutable per update; reconfiguration replaces it wholesale.
type StreamConfig struct {
	Name     string         `toml:"name"`
	URL      string         `toml:"url"`
	Protocol media.Protocol `toml:"protocol"`
	Username string         `toml:"username,omitempty"`
	Password string         `toml:"password,omitempty"`

	StreamingEnabled        bool `toml:"streaming_enabled"`
	Record                  bool `toml:"record"`
	DetectionBasedRecording bool `toml:"detection_based_recording"`

	// Optional hints; zero means protocol defaults.
	BufferSize     int `toml:"buffer_size,omitempty"`
	TimeoutSeconds int `toml:"timeout_seconds,omitempty"`

	HLSPath        string `toml:"hls_path,omitempty"`
	RecordPath     string `toml:"record_path,omitempty"`
	SegmentSeconds int    `toml:"segment_seconds,omitempty"`

	DetectionModel     string  `toml:"detection_model,omitempty"`
	DetectionThreshold float32 `toml:"detection_threshold,omitempty"`
	DetectionInterval  int     `toml:"detection_interval,omitempty"`
	PreBufferSeconds   int     `toml:"pre_buffer_seconds,omitempty"`
	PostBufferSeconds  int     `toml:"post_buffer_seconds,omitempty"`
}

// requiresRestart reports whether switching to next while active needs a
// full stop-then-start instead of an in-place update.
func (c *StreamConfig) requiresRestart(next *StreamConfig) bool {
	return c.Protocol != next.Protocol ||
		c.URL != next.URL ||
		c.StreamingEnabled != next.StreamingEnabled ||
		c.Record != next.Record ||
		c.DetectionBasedRecording != next.DetectionBasedRecording
}

// Validate checks the fields a stream cannot run without.
func (c *StreamConfig) Validate() error {
	if c.Name == "" {
		return NewStreamError(ErrCodeInvalidParams, "stream name is required", nil)
	}
	if c.URL == "" {
		return NewStreamError(ErrCodeInvalidParams, "stream url is required", nil)
	}
	if !c.Protocol.Valid() {
		return NewStreamError(ErrCodeInvalidParams,
			"protocol must be tcp or udp, got "+string(c.Protocol), nil)
	}
	if c.SegmentSeconds < 0 {
		return NewStreamError(ErrCodeInvalidParams, "segment_seconds cannot be negative", nil)
	}
	return nil
}

// ProtocolState tracks transport-level runtime state, recomputed whenever
// the protocol changes.
type ProtocolState struct {
	Protocol          media.Protocol
	ReconnectAttempts int
	LastReconnect     time.Time
	BufferSize        int
	Timeout           time.Duration
}

// newProtocolState derives nominal buffer and timeout values for a protocol,
// honoring config hints when present.
func newProtocolState(cfg *StreamConfig) ProtocolState {
	ps := ProtocolState{
		Protocol:   cfg.Protocol,
		BufferSize: cfg.Protocol.BufferSize(),
		Timeout:    cfg.Protocol.Timeout(),
	}
	if cfg.BufferSize > 0 {
		ps.BufferSize = cfg.BufferSize
	}
	if cfg.TimeoutSeconds > 0 {
		ps.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return ps
}

// Stats is the per-stream counter snapshot surfaced to callers.
type Stats struct {
	PacketsReceived   uint64
	BytesReceived     uint64
	Errors            uint64
	ReconnectAttempts int
	LastReconnect     time.Time
	LastPacket        time.Time
	FramesProcessed   uint64
}
