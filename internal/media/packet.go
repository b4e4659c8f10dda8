// Package media defines the packet and stream descriptors shared by the
// demuxers, the packet readers, and the output sinks.
package media

import "time"

// NoPTS marks an absent presentation or decode timestamp.
const NoPTS = int64(-0x8000000000000000)

// DefaultFrameDuration is the fallback packet duration in 1/90000 units,
// equivalent to 30 fps, used when a source reports no frame rate.
const DefaultFrameDuration = int64(3000)

// Packet is one demuxed elementary-stream packet.
type Packet struct {
	Data        []byte
	PTS         int64
	DTS         int64
	Duration    int64
	StreamIndex int
	Keyframe    bool
}

// HasPTS reports whether the packet carries a presentation timestamp.
func (p *Packet) HasPTS() bool { return p.PTS != NoPTS }

// HasDTS reports whether the packet carries a decode timestamp.
func (p *Packet) HasDTS() bool { return p.DTS != NoPTS }

// StreamInfo describes one elementary stream within a source.
type StreamInfo struct {
	Index   int
	Codec   string
	IsVideo bool
	Width   int
	Height  int

	// FrameDuration is the nominal packet duration in timebase units,
	// zero when the source does not report a frame rate.
	FrameDuration int64
}

// Protocol selects the transport used to reach a source.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// BufferSize returns the nominal receive buffer for the protocol.
func (p Protocol) BufferSize() int {
	if p == ProtocolUDP {
		return 16 * 1024 * 1024
	}
	return 8 * 1024 * 1024
}

// Timeout returns the nominal read timeout for the protocol.
func (p Protocol) Timeout() time.Duration {
	if p == ProtocolUDP {
		return 10 * time.Second
	}
	return 5 * time.Second
}

// Valid reports whether p is a known transport.
func (p Protocol) Valid() bool {
	return p == ProtocolTCP || p == ProtocolUDP
}
