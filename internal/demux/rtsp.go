package demux

import (
	"context"
	"fmt"
	"sync"

	"github.com/AlexxIT/go2rtc/pkg/core"
	"github.com/AlexxIT/go2rtc/pkg/rtsp"
	"github.com/pion/rtp"

	"github.com/smazurov/nvrnode/internal/media"
)

// rtspDemuxer wraps an RTSP client connection. The connection delivers RTP
// packets through per-track handlers on its own goroutine; a bounded channel
// bridges them to the pull-style ReadPacket contract. When the channel is
// full the oldest pending packet wins and the new one is dropped.
type rtspDemuxer struct {
	conn    *rtsp.Conn
	streams []media.StreamInfo
	packets chan *media.Packet

	closeOnce sync.Once
	done      chan struct{}
}

const rtspPacketBacklog = 64

// OpenRTSP dials an RTSP source and sets up every video media it announces.
func OpenRTSP(ctx context.Context, url string, opts Options) (Demuxer, error) {
	conn := rtsp.NewClient(url)
	conn.Backchannel = false
	if opts.Timeout > 0 {
		conn.Timeout = int(opts.Timeout.Seconds())
	}

	if err := conn.Dial(); err != nil {
		return nil, fmt.Errorf("rtsp dial %s: %w", url, err)
	}
	if err := conn.Describe(); err != nil {
		_ = conn.Stop()
		return nil, fmt.Errorf("rtsp describe %s: %w", url, err)
	}

	d := &rtspDemuxer{
		conn:    conn,
		packets: make(chan *media.Packet, rtspPacketBacklog),
		done:    make(chan struct{}),
	}

	for _, m := range conn.GetMedias() {
		if m.Kind != core.KindVideo || len(m.Codecs) == 0 {
			continue
		}
		codec := m.Codecs[0]
		receiver, err := conn.GetTrack(m, codec)
		if err != nil {
			_ = conn.Stop()
			return nil, fmt.Errorf("rtsp setup %s: %w", url, err)
		}

		index := len(d.streams)
		isH264 := codec.Name == core.CodecH264
		d.streams = append(d.streams, media.StreamInfo{
			Index:   index,
			Codec:   codec.Name,
			IsVideo: true,
		})

		sender := core.NewSender(m, codec)
		sender.Handler = func(pkt *rtp.Packet) {
			d.deliver(pkt, index, isH264)
		}
		sender.HandleRTP(receiver)
	}

	if len(d.streams) == 0 {
		_ = conn.Stop()
		return nil, fmt.Errorf("rtsp %s: no video media", url)
	}

	go func() {
		_ = conn.Start()
	}()

	return d, nil
}

func (d *rtspDemuxer) deliver(pkt *rtp.Packet, index int, isH264 bool) {
	out := &media.Packet{
		Data:        pkt.Payload,
		PTS:         int64(pkt.Timestamp),
		DTS:         media.NoPTS,
		StreamIndex: index,
	}
	if isH264 {
		out.Keyframe = h264Keyframe(pkt.Payload)
	}

	select {
	case d.packets <- out:
	case <-d.done:
	default:
		// Backlog full, drop. The reader is stalled or slow; RTP has no
		// retransmission so blocking the connection loop would only move
		// the loss upstream.
	}
}

func (d *rtspDemuxer) ReadPacket() (*media.Packet, error) {
	select {
	case pkt := <-d.packets:
		return pkt, nil
	case <-d.done:
		return nil, ErrClosed
	}
}

func (d *rtspDemuxer) Streams() []media.StreamInfo {
	return d.streams
}

func (d *rtspDemuxer) Close() error {
	d.closeOnce.Do(func() {
		close(d.done)
		_ = d.conn.Stop()
	})
	return nil
}
