package streams

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/nvrnode/internal/demux"
	"github.com/smazurov/nvrnode/internal/media"
	"github.com/smazurov/nvrnode/internal/timestamps"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastTiming() ReaderTiming {
	return ReaderTiming{
		InitialRetries:    5,
		InitialRetryDelay: time.Millisecond,
		UDPRetrySameConn:  3,
		UDPRetryDelay:     time.Millisecond,
		TCPBackoffBase:    time.Millisecond,
		TCPBackoffMax:     4 * time.Millisecond,
		IdleDelay:         time.Millisecond,
		JoinTimeout:       time.Second,
	}
}

// fakeDemuxer serves a scripted queue of packets and errors; once drained,
// reads block until Close.
type fakeDemuxer struct {
	mu      sync.Mutex
	queue   []fakeRead
	reads   atomic.Int64
	closed  chan struct{}
	once    sync.Once
	streams []media.StreamInfo
}

type fakeRead struct {
	pkt *media.Packet
	err error
}

func newFakeDemuxer(queue ...fakeRead) *fakeDemuxer {
	return &fakeDemuxer{
		queue:  queue,
		closed: make(chan struct{}),
		streams: []media.StreamInfo{
			{Index: 0, Codec: "h264", IsVideo: true},
			{Index: 1, Codec: "aac"},
		},
	}
}

func videoPacket(pts, dts int64) fakeRead {
	return fakeRead{pkt: &media.Packet{PTS: pts, DTS: dts, StreamIndex: 0}}
}

func readError() fakeRead {
	return fakeRead{err: errors.New("read failed")}
}

func (d *fakeDemuxer) ReadPacket() (*media.Packet, error) {
	d.reads.Add(1)

	d.mu.Lock()
	if len(d.queue) > 0 {
		next := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		return next.pkt, next.err
	}
	d.mu.Unlock()

	<-d.closed
	return nil, demux.ErrClosed
}

func (d *fakeDemuxer) Streams() []media.StreamInfo { return d.streams }

func (d *fakeDemuxer) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDemuxer) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// fakeOpener scripts connection attempts: the first failures values fail,
// later attempts return fresh demuxers built by build.
type fakeOpener struct {
	mu       sync.Mutex
	attempts int
	failures int
	build    func() *fakeDemuxer
	opened   []*fakeDemuxer
}

func newFakeOpener(failures int, build func() *fakeDemuxer) *fakeOpener {
	if build == nil {
		build = func() *fakeDemuxer { return newFakeDemuxer() }
	}
	return &fakeOpener{failures: failures, build: build}
}

func (o *fakeOpener) open(_ context.Context, _ string, _ demux.Options) (demux.Demuxer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
	if o.attempts <= o.failures {
		return nil, errors.New("connection refused")
	}
	d := o.build()
	o.opened = append(o.opened, d)
	return d, nil
}

func (o *fakeOpener) attemptCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.attempts
}

func (o *fakeOpener) openedDemuxers() []*fakeDemuxer {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*fakeDemuxer, len(o.opened))
	copy(out, o.opened)
	return out
}

// fakeSink records writes and closes.
type fakeSink struct {
	mu       sync.Mutex
	packets  []*media.Packet
	closed   bool
	writeErr error
}

func (s *fakeSink) WritePacket(pkt *media.Packet, _ media.StreamInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.packets = append(s.packets, pkt)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) packetCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.packets)
}

func (s *fakeSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// sinkRecorder builds fakeSinks and remembers them per output type.
type sinkRecorder struct {
	mu    sync.Mutex
	sinks map[string][]*fakeSink
	fail  map[string]bool
}

func newSinkRecorder() *sinkRecorder {
	return &sinkRecorder{
		sinks: make(map[string][]*fakeSink),
		fail:  make(map[string]bool),
	}
}

func (r *sinkRecorder) factory(kind string) SinkFactory {
	return func(_, _ string, _ int) (Sink, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.fail[kind] {
			return nil, errors.New(kind + " factory failure")
		}
		s := &fakeSink{}
		r.sinks[kind] = append(r.sinks[kind], s)
		return s, nil
	}
}

func (r *sinkRecorder) factories() SinkFactories {
	return SinkFactories{HLS: r.factory("hls"), MP4: r.factory("mp4")}
}

func (r *sinkRecorder) setFail(kind string, fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[kind] = fail
}

func (r *sinkRecorder) created(kind string) []*fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*fakeSink, len(r.sinks[kind]))
	copy(out, r.sinks[kind])
	return out
}

func testDeps(opener *fakeOpener, rec *sinkRecorder) ManagerDeps {
	return ManagerDeps{
		Opener:       opener.open,
		Trackers:     timestamps.NewRegistry(),
		Factories:    rec.factories(),
		Logger:       discardLogger(),
		Timing:       fastTiming(),
		RestartDelay: time.Millisecond,
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
