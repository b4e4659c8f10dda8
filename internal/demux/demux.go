// Package demux opens media sources and yields elementary-stream packets.
// Two implementations exist: an RTSP client for TCP sources and a raw RTP
// listener for UDP sources. Readers depend only on the Demuxer interface and
// receive the concrete opener via injection, which keeps them testable.
package demux

import (
	"context"
	"errors"
	"time"

	"github.com/smazurov/nvrnode/internal/media"
)

// ErrClosed is returned by ReadPacket after Close has been called. Closing
// the demuxer from another goroutine unblocks a pending ReadPacket.
var ErrClosed = errors.New("demuxer closed")

// Demuxer yields packets from an open source.
type Demuxer interface {
	// ReadPacket blocks until a packet is available, the read times out,
	// or the demuxer is closed.
	ReadPacket() (*media.Packet, error)
	// Streams describes the elementary streams found in the source.
	Streams() []media.StreamInfo
	Close() error
}

// Options carries per-protocol connection tuning.
type Options struct {
	Protocol   media.Protocol
	BufferSize int
	Timeout    time.Duration
}

// OptionsFor returns the nominal tuning for a protocol: UDP gets a large
// receive buffer and a long timeout, TCP a smaller buffer and a shorter one.
func OptionsFor(proto media.Protocol) Options {
	return Options{
		Protocol:   proto,
		BufferSize: proto.BufferSize(),
		Timeout:    proto.Timeout(),
	}
}

// Opener opens a source URL and returns a demuxer for it.
type Opener func(ctx context.Context, url string, opts Options) (Demuxer, error)

// Open dispatches to the protocol-specific opener.
func Open(ctx context.Context, url string, opts Options) (Demuxer, error) {
	if opts.Protocol == media.ProtocolUDP {
		return OpenUDP(ctx, url, opts)
	}
	return OpenRTSP(ctx, url, opts)
}
