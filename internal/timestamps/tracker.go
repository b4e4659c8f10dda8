// Package timestamps repairs missing or invalid PTS/DTS values on demuxed
// packets. Each reader owns a Tracker that is reset on every (re)connect;
// a shared Registry keyed by stream name carries the UDP flag and coarse
// state across reader restarts.
package timestamps

import (
	"sync"

	"github.com/smazurov/nvrnode/internal/media"
)

// udpMu serializes corrections for every UDP tracker in the process. UDP
// sources need correction far more often than TCP ones and a single ordering
// across them keeps the repair logic centrally reasoned about.
var udpMu sync.Mutex

// Tracker holds per-reader timestamp correction state. Corrections run on
// the reader goroutine while snapshots come from API callers, so every
// accessor takes mu.
type Tracker struct {
	mu              sync.Mutex
	udp             bool
	initialized     bool
	lastPTS         int64
	lastDTS         int64
	expectedNext    int64
	frameDuration   int64
	discontinuities int64
}

// NewTracker returns a tracker for a fresh connection. frameDuration is in
// timebase units; zero or negative falls back to the 30 fps default.
func NewTracker(udp bool, frameDuration int64) *Tracker {
	if frameDuration <= 0 {
		frameDuration = media.DefaultFrameDuration
	}
	return &Tracker{udp: udp, frameDuration: frameDuration}
}

// Reset discards correction state, keeping the UDP flag and frame duration.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = false
	t.lastPTS = 0
	t.lastDTS = 0
	t.expectedNext = 0
}

// SetUDP toggles serialization through the process-wide UDP mutex.
func (t *Tracker) SetUDP(udp bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.udp = udp
}

// SetFrameDuration updates the synthesis step for a newly resolved stream.
func (t *Tracker) SetFrameDuration(d int64) {
	if d <= 0 {
		d = media.DefaultFrameDuration
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frameDuration = d
}

// Discontinuities returns the number of packets that needed synthesis or
// clamping since the last reset.
func (t *Tracker) Discontinuities() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discontinuities
}

// LastPTS returns the last valid presentation timestamp observed, and
// whether any has been seen since the last reset.
func (t *Tracker) LastPTS() (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPTS, t.initialized
}

// Correct repairs pkt's timestamps in place. Missing PTS is filled from DTS
// and vice versa; when both are missing the pair is synthesized from the
// last PTS plus the frame duration, or set to 1 for the first packet of a
// connection. Non-positive values are clamped to the best positive value
// available. UDP trackers run under a mutex shared by all UDP readers.
func (t *Tracker) Correct(pkt *media.Packet) {
	t.mu.Lock()
	udp := t.udp
	t.mu.Unlock()

	// udpMu is acquired before mu so the cross-reader ordering covers the
	// whole correction.
	if udp {
		udpMu.Lock()
		defer udpMu.Unlock()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.correct(pkt)
}

func (t *Tracker) correct(pkt *media.Packet) {
	hadPTS, hadDTS := pkt.HasPTS(), pkt.HasDTS()

	switch {
	case !hadPTS && hadDTS:
		pkt.PTS = pkt.DTS
		t.discontinuities++
	case hadPTS && !hadDTS:
		pkt.DTS = pkt.PTS
		t.discontinuities++
	case !hadPTS && !hadDTS:
		next := int64(1)
		if t.initialized {
			next = t.lastPTS + t.frameDuration
		}
		pkt.PTS = next
		pkt.DTS = next
		t.discontinuities++
	}

	if pkt.PTS <= 0 {
		pkt.PTS = t.clampValue(pkt.DTS)
		t.discontinuities++
	}
	if pkt.DTS <= 0 {
		pkt.DTS = t.clampValue(pkt.PTS)
		t.discontinuities++
	}

	if pkt.PTS > 0 {
		t.lastPTS = pkt.PTS
		t.lastDTS = pkt.DTS
		t.expectedNext = pkt.PTS + t.frameDuration
		t.initialized = true
	}
}

// clampValue picks the best positive substitute for an invalid timestamp.
func (t *Tracker) clampValue(candidate int64) int64 {
	if candidate > 0 {
		return candidate
	}
	if t.initialized && t.lastPTS > 0 {
		return t.lastPTS + t.frameDuration
	}
	return 1
}

// State is a coarse snapshot for observability.
type State struct {
	Initialized     bool
	LastPTS         int64
	LastDTS         int64
	ExpectedNext    int64
	Discontinuities int64
}

// Snapshot returns the tracker's coarse state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return State{
		Initialized:     t.initialized,
		LastPTS:         t.lastPTS,
		LastDTS:         t.lastDTS,
		ExpectedNext:    t.expectedNext,
		Discontinuities: t.discontinuities,
	}
}
