package demux

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/pion/rtp"

	"github.com/smazurov/nvrnode/internal/media"
)

// udpDemuxer reads raw RTP from a UDP socket. Reads happen on the caller's
// goroutine under a per-read deadline; Close closes the socket, which
// unblocks a pending ReadPacket.
type udpDemuxer struct {
	conn    *net.UDPConn
	timeout time.Duration
	streams []media.StreamInfo
	buf     []byte
}

const udpMaxDatagram = 65536

// OpenUDP binds the address of a udp:// URL and reads RTP from it.
func OpenUDP(ctx context.Context, rawURL string, opts Options) (Demuxer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("udp url %s: %w", rawURL, err)
	}
	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("udp resolve %s: %w", u.Host, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udp listen %s: %w", u.Host, err)
	}
	if opts.BufferSize > 0 {
		_ = conn.SetReadBuffer(opts.BufferSize)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = media.ProtocolUDP.Timeout()
	}

	return &udpDemuxer{
		conn:    conn,
		timeout: timeout,
		streams: []media.StreamInfo{{Index: 0, Codec: "h264", IsVideo: true}},
		buf:     make([]byte, udpMaxDatagram),
	}, nil
}

func (d *udpDemuxer) ReadPacket() (*media.Packet, error) {
	if err := d.conn.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
		return nil, err
	}

	n, _, err := d.conn.ReadFromUDP(d.buf)
	if err != nil {
		return nil, err
	}

	var pkt rtp.Packet
	if err := pkt.Unmarshal(d.buf[:n]); err != nil {
		return nil, fmt.Errorf("rtp unmarshal: %w", err)
	}

	payload := make([]byte, len(pkt.Payload))
	copy(payload, pkt.Payload)

	return &media.Packet{
		Data:        payload,
		PTS:         int64(pkt.Timestamp),
		DTS:         media.NoPTS,
		StreamIndex: 0,
		Keyframe:    h264Keyframe(payload),
	}, nil
}

func (d *udpDemuxer) Streams() []media.StreamInfo {
	return d.streams
}

func (d *udpDemuxer) Close() error {
	return d.conn.Close()
}
