package streams

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/nvrnode/internal/demux"
	"github.com/smazurov/nvrnode/internal/media"
	"github.com/smazurov/nvrnode/internal/metrics"
	"github.com/smazurov/nvrnode/internal/timestamps"
)

// PacketCallback receives each video packet on the reader's goroutine.
type PacketCallback func(pkt *media.Packet, info media.StreamInfo)

// ReaderTiming carries the retry and backoff parameters of a reader. The
// UDP same-connection retry count and delay are empirical values; keep them
// configurable rather than tuning the defaults.
type ReaderTiming struct {
	InitialRetries    int
	InitialRetryDelay time.Duration
	UDPRetrySameConn  int
	UDPRetryDelay     time.Duration
	TCPBackoffBase    time.Duration
	TCPBackoffMax     time.Duration
	IdleDelay         time.Duration
	JoinTimeout       time.Duration
}

// DefaultReaderTiming returns the stock retry parameters.
func DefaultReaderTiming() ReaderTiming {
	return ReaderTiming{
		InitialRetries:    5,
		InitialRetryDelay: 250 * time.Millisecond,
		UDPRetrySameConn:  3,
		UDPRetryDelay:     500 * time.Millisecond,
		TCPBackoffBase:    250 * time.Millisecond,
		TCPBackoffMax:     4000 * time.Millisecond,
		IdleDelay:         20 * time.Millisecond,
		JoinTimeout:       5 * time.Second,
	}
}

// tcpBackoff returns the reconnect delay after n consecutive failures.
func (t ReaderTiming) tcpBackoff(n int) time.Duration {
	d := t.TCPBackoffBase
	for i := 0; i < n; i++ {
		d *= 2
		if d >= t.TCPBackoffMax {
			return t.TCPBackoffMax
		}
	}
	if d > t.TCPBackoffMax {
		d = t.TCPBackoffMax
	}
	return d
}

// ReaderConfig describes one reader instance.
type ReaderConfig struct {
	Name      string
	URL       string
	Protocol  media.Protocol
	Dedicated bool
	Timing    ReaderTiming
	Opener    demux.Opener
	Trackers  *timestamps.Registry
	Logger    *slog.Logger

	// OnExit fires on the reader goroutine when the initial connection
	// cannot be established within the bounded retries. Stop-initiated
	// exits do not fire it.
	OnExit func(err error)
}

// Reader owns one goroutine that reads packets from a source, repairs their
// timestamps, and hands video packets to the registered callback. The
// callback is guarded by a mutex and snapshotted immediately before each
// invocation, so Stop and SetCallback are safe against a reader goroutine
// mid-read.
type Reader struct {
	cfg     ReaderConfig
	opts    demux.Options
	logger  *slog.Logger
	tracker *timestamps.Tracker

	running atomic.Bool

	cbMu     sync.Mutex
	callback PacketCallback

	dmxMu      sync.Mutex
	dmx        demux.Demuxer
	videoIndex int
	videoInfo  media.StreamInfo

	packets    atomic.Uint64
	bytes      atomic.Uint64
	lastPacket atomic.Int64 // unix nanos

	done     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
}

// Counters reports packets and bytes delivered since this reader started,
// and when the last packet arrived.
func (r *Reader) Counters() (packets, bytes uint64, last time.Time) {
	if ns := r.lastPacket.Load(); ns != 0 {
		last = time.Unix(0, ns)
	}
	return r.packets.Load(), r.bytes.Load(), last
}

// StartReader spawns the reader goroutine and returns its handle. The
// initial connection is attempted on the goroutine; failures after the
// bounded initial retries are reported through cfg.OnExit.
func StartReader(cfg ReaderConfig, opts demux.Options, callback PacketCallback) *Reader {
	if cfg.Timing.InitialRetries == 0 {
		cfg.Timing = DefaultReaderTiming()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := &Reader{
		cfg:        cfg,
		opts:       opts,
		logger:     logger.With("stream", cfg.Name),
		tracker:    cfg.Trackers.Get(cfg.Name),
		callback:   callback,
		videoIndex: -1,
		done:       make(chan struct{}),
	}
	r.running.Store(true)
	cfg.Trackers.SetUDP(cfg.Name, cfg.Protocol == media.ProtocolUDP)

	go r.run()
	return r
}

// SetCallback replaces the packet callback; nil idles the reader without
// tearing down the connection.
func (r *Reader) SetCallback(cb PacketCallback) {
	r.cbMu.Lock()
	r.callback = cb
	r.cbMu.Unlock()
}

// Stop shuts the reader down: the callback is cleared first so no further
// packets are delivered, the running flag is flipped, and the demuxer is
// closed to unblock a pending read. The goroutine is then joined with a
// bounded timeout; on timeout cleanup proceeds anyway. Safe to call more
// than once; later calls return immediately.
func (r *Reader) Stop() {
	r.stop(true)
}

func (r *Reader) stop(wait bool) {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)

		r.cbMu.Lock()
		r.callback = nil
		r.cbMu.Unlock()

		r.running.Store(false)

		r.dmxMu.Lock()
		dmx := r.dmx
		r.dmx = nil
		r.dmxMu.Unlock()
		if dmx != nil {
			_ = dmx.Close()
		}

		if !wait {
			return
		}
		select {
		case <-r.done:
		case <-time.After(r.cfg.Timing.JoinTimeout):
			r.logger.Warn("Timeout joining reader goroutine, proceeding with cleanup")
		}
	})
}

// Done is closed when the reader goroutine has exited.
func (r *Reader) Done() <-chan struct{} { return r.done }

func (r *Reader) run() {
	defer close(r.done)

	dmx, err := r.openInitial()
	if err != nil {
		r.logger.Error("Initial connection failed", "url", r.cfg.URL, "error", err)
		r.running.Store(false)
		if !r.stopped.Load() && r.cfg.OnExit != nil {
			// Deferred past our own exit so a handler that joins the
			// reader does not wait on the goroutine it runs in.
			streamErr := NewStreamError(ErrCodeConnectionFailed, "initial open failed", err)
			go func() {
				<-r.done
				// Stop may have landed while we waited; a stopped
				// reader must not report a failure.
				if r.stopped.Load() {
					return
				}
				r.cfg.OnExit(streamErr)
			}()
		}
		return
	}
	if !r.adoptDemuxer(dmx) {
		return
	}

	sameConnFailures := 0
	backoffAttempt := 0

	for r.running.Load() {
		if !r.hasCallback() {
			// Nobody to deliver to; do not read data nobody will receive.
			time.Sleep(r.cfg.Timing.IdleDelay)
			continue
		}

		dmx := r.currentDemuxer()
		if dmx == nil {
			return
		}

		pkt, err := dmx.ReadPacket()
		if err != nil {
			if !r.running.Load() {
				return
			}

			if r.cfg.Protocol == media.ProtocolUDP && sameConnFailures < r.cfg.Timing.UDPRetrySameConn {
				// Transient UDP glitches usually self-resolve; retry the
				// same connection before paying for a full reopen.
				sameConnFailures++
				r.logger.Debug("UDP read failed, retrying same connection",
					"attempt", sameConnFailures, "error", err)
				time.Sleep(r.cfg.Timing.UDPRetryDelay)
				continue
			}

			sameConnFailures = 0
			if !r.reconnect(&backoffAttempt, err) {
				return
			}
			continue
		}

		sameConnFailures = 0
		backoffAttempt = 0

		if pkt.StreamIndex != r.videoIndex {
			continue
		}

		r.tracker.Correct(pkt)
		metrics.IncPacketsRead(r.cfg.Name)
		r.packets.Add(1)
		r.bytes.Add(uint64(len(pkt.Data)))
		r.lastPacket.Store(time.Now().UnixNano())

		// Snapshot immediately before invoking so a concurrent Stop can
		// never race us into a cleared callback.
		r.cbMu.Lock()
		cb := r.callback
		r.cbMu.Unlock()
		if cb != nil {
			cb(pkt, r.videoInfo)
		}
	}
}

// openInitial attempts the first connection with a bounded number of retries.
// The bound applies only here; steady-state reconnection is unbounded.
func (r *Reader) openInitial() (demux.Demuxer, error) {
	var lastErr error
	for attempt := 0; attempt < r.cfg.Timing.InitialRetries; attempt++ {
		if !r.running.Load() {
			return nil, lastErr
		}
		if attempt > 0 {
			time.Sleep(r.cfg.Timing.InitialRetryDelay)
		}
		dmx, err := r.cfg.Opener(context.Background(), r.cfg.URL, r.opts)
		if err == nil {
			return dmx, nil
		}
		lastErr = err
		r.logger.Warn("Open failed", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

// reconnect closes the current demuxer and reopens with protocol-specific
// delays until it succeeds or the reader is stopped. Returns false when the
// reader should exit.
func (r *Reader) reconnect(backoffAttempt *int, cause error) bool {
	r.logger.Info("Reconnecting", "error", cause)
	metrics.IncReconnects(r.cfg.Name, string(r.cfg.Protocol))

	r.dmxMu.Lock()
	if r.dmx != nil {
		_ = r.dmx.Close()
		r.dmx = nil
	}
	r.dmxMu.Unlock()

	for r.running.Load() {
		var delay time.Duration
		if r.cfg.Protocol == media.ProtocolUDP {
			delay = r.cfg.Timing.UDPRetryDelay
		} else {
			delay = r.cfg.Timing.tcpBackoff(*backoffAttempt)
			*backoffAttempt = *backoffAttempt + 1
		}
		time.Sleep(delay)

		if !r.running.Load() {
			return false
		}

		dmx, err := r.cfg.Opener(context.Background(), r.cfg.URL, r.opts)
		if err != nil {
			r.logger.Warn("Reconnect failed", "error", err)
			continue
		}

		if !r.adoptDemuxer(dmx) {
			return false
		}
		*backoffAttempt = 0
		return true
	}
	return false
}

// adoptDemuxer installs a freshly opened demuxer, re-resolves the video
// stream index, and resets timestamp state for the new connection. Returns
// false if the reader was stopped concurrently; the demuxer is closed.
func (r *Reader) adoptDemuxer(dmx demux.Demuxer) bool {
	index := -1
	info := media.StreamInfo{}
	for _, s := range dmx.Streams() {
		if s.IsVideo {
			index, info = s.Index, s
			break
		}
	}

	r.dmxMu.Lock()
	if !r.running.Load() {
		r.dmxMu.Unlock()
		_ = dmx.Close()
		return false
	}
	r.dmx = dmx
	r.videoIndex = index
	r.videoInfo = info
	r.dmxMu.Unlock()

	if index < 0 {
		r.logger.Warn("No video stream in source, packets will be skipped")
	}

	r.cfg.Trackers.SetUDP(r.cfg.Name, r.cfg.Protocol == media.ProtocolUDP)
	r.tracker.SetFrameDuration(info.FrameDuration)
	r.tracker.Reset()
	return true
}

func (r *Reader) hasCallback() bool {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	return r.callback != nil
}

func (r *Reader) currentDemuxer() demux.Demuxer {
	r.dmxMu.Lock()
	defer r.dmxMu.Unlock()
	return r.dmx
}
