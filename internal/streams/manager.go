package streams

import (
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/nvrnode/internal/demux"
	"github.com/smazurov/nvrnode/internal/events"
	"github.com/smazurov/nvrnode/internal/media"
	"github.com/smazurov/nvrnode/internal/metrics"
	"github.com/smazurov/nvrnode/internal/timestamps"
)

// ManagerDeps bundles the collaborators every stream manager shares.
type ManagerDeps struct {
	Opener    demux.Opener
	Trackers  *timestamps.Registry
	Factories SinkFactories
	Logger    *slog.Logger
	Bus       *events.Bus
	Timing    ReaderTiming

	// RestartDelay is the pause between stop and start during error
	// recovery. It blocks the caller of HandleError.
	RestartDelay time.Duration
}

func (d *ManagerDeps) withDefaults() ManagerDeps {
	out := *d
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	if out.Trackers == nil {
		out.Trackers = timestamps.NewRegistry()
	}
	if out.Timing.InitialRetries == 0 {
		out.Timing = DefaultReaderTiming()
	}
	if out.RestartDelay == 0 {
		out.RestartDelay = time.Second
	}
	return out
}

// Manager owns the lifecycle of one stream: its configuration, state
// machine, reference counts, and the reader/processor pair. All operations
// run on the caller's goroutine and may block briefly (stop joins the
// reader with a bounded timeout).
type Manager struct {
	deps ManagerDeps

	mu         sync.Mutex
	cfg        StreamConfig
	state      StreamState
	protoState ProtocolState
	stats      Stats
	refs       map[Component]int
	reader     *Reader
	proc       *Processor
	removed    bool
}

// NewManager creates a manager in the Inactive state holding the caller's
// API reference.
func NewManager(cfg StreamConfig, deps ManagerDeps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := deps.withDefaults()
	m := &Manager{
		deps:       d,
		cfg:        cfg,
		state:      StateInactive,
		protoState: newProtocolState(&cfg),
		refs:       map[Component]int{ComponentAPI: 1},
	}
	metrics.SetStreamState(cfg.Name, string(StateInactive))
	return m, nil
}

// Name returns the stream's unique name.
func (m *Manager) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Name
}

// GetState returns the current lifecycle state.
func (m *Manager) GetState() StreamState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// GetConfig returns a copy of the current configuration.
func (m *Manager) GetConfig() StreamConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// GetStats returns a snapshot of the stream's counters.
func (m *Manager) GetStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.ReconnectAttempts = m.protoState.ReconnectAttempts
	s.LastReconnect = m.protoState.LastReconnect
	if m.proc != nil {
		s.FramesProcessed = m.proc.FramesProcessed()
	}
	if m.reader != nil {
		packets, bytes, last := m.reader.Counters()
		s.PacketsReceived += packets
		s.BytesReceived += bytes
		if last.After(s.LastPacket) {
			s.LastPacket = last
		}
	}
	return s
}

// GetProtocolState returns the transport-level runtime state.
func (m *Manager) GetProtocolState() ProtocolState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.protoState
}

// GetTimestampState returns the coarse timestamp view for observability.
// The reader's own tracker remains the authoritative correction state.
func (m *Manager) GetTimestampState() timestamps.State {
	return m.deps.Trackers.Get(m.Name()).Snapshot()
}

// AddRef records that component holds a reference to this stream.
func (m *Manager) AddRef(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[c]++
}

// ReleaseRef drops component's reference. Releasing a reference that was
// never taken is ignored.
func (m *Manager) ReleaseRef(c Component) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.refs[c] > 0 {
		m.refs[c]--
		if m.refs[c] == 0 {
			delete(m.refs, c)
		}
	}
}

// RefCount returns the aggregate reference count.
func (m *Manager) RefCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refCountLocked()
}

func (m *Manager) refCountLocked() int {
	total := 0
	for _, n := range m.refs {
		total += n
	}
	return total
}

// Start brings the stream up: Inactive (or Error, for a manual restart)
// moves through Starting; every feature-enabled component is attempted and
// one success is enough for Active. No component succeeding moves to Error.
// Start on an Active stream is a no-op.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	switch {
	case m.state == StateActive:
		return nil
	case m.removed:
		return NewStreamError(ErrCodeStreamNotFound, "stream was removed", nil)
	case !m.state.canStart():
		return NewStreamError(ErrCodeInvalidState,
			"cannot start from state "+string(m.state), nil)
	}

	m.setStateLocked(StateStarting)
	m.protoState = newProtocolState(&m.cfg)

	if m.reader == nil {
		opts := demux.Options{
			Protocol:   m.cfg.Protocol,
			BufferSize: m.protoState.BufferSize,
			Timeout:    m.protoState.Timeout,
		}
		opener := m.deps.Opener
		if opener == nil {
			opener = demux.Open
		}
		m.reader = StartReader(ReaderConfig{
			Name:      m.cfg.Name,
			URL:       m.cfg.URL,
			Protocol:  m.cfg.Protocol,
			Dedicated: true,
			Timing:    m.deps.Timing,
			Opener:    opener,
			Trackers:  m.deps.Trackers,
			Logger:    m.deps.Logger,
			OnExit:    m.readerFailed,
		}, opts, nil)
		m.refs[ComponentReader]++
	}
	if m.proc == nil {
		m.proc = NewProcessor(m.cfg.Name, m.reader, m.deps.Factories,
			m.deps.Logger, m.deps.Bus)
	}

	started := 0
	if m.cfg.StreamingEnabled {
		if m.startComponentLocked(ComponentHLS, HLSOutput{
			Path:           m.cfg.HLSPath,
			SegmentSeconds: m.cfg.SegmentSeconds,
		}) {
			started++
		}
	}
	if m.cfg.Record {
		if m.startComponentLocked(ComponentMP4, MP4Output{
			Path:           m.cfg.RecordPath,
			SegmentSeconds: m.cfg.SegmentSeconds,
		}) {
			started++
		}
	}
	if m.cfg.DetectionBasedRecording {
		if m.startComponentLocked(ComponentDetection, DetectionOutput{
			ModelPath:         m.cfg.DetectionModel,
			Threshold:         m.cfg.DetectionThreshold,
			Interval:          m.cfg.DetectionInterval,
			PreBufferSeconds:  m.cfg.PreBufferSeconds,
			PostBufferSeconds: m.cfg.PostBufferSeconds,
		}) {
			started++
		}
	}

	// A half-running stream beats no stream: one component up is success.
	if started == 0 {
		m.teardownLocked(true)
		m.setStateLocked(StateError)
		return NewStreamError(ErrCodeStartFailed, "no component started", nil)
	}

	m.setStateLocked(StateActive)
	return nil
}

// startComponentLocked adds and starts one output, taking the component's
// reference on success.
func (m *Manager) startComponentLocked(c Component, cfg OutputConfig) bool {
	if err := m.proc.AddOutput(cfg); err != nil {
		m.deps.Logger.Warn("Output registration failed",
			"stream", m.cfg.Name, "component", c, "error", err)
		return false
	}
	if err := m.proc.Start(); err != nil {
		m.deps.Logger.Warn("Component start failed",
			"stream", m.cfg.Name, "component", c, "error", err)
		return false
	}
	m.refs[c]++
	return true
}

// Stop tears the stream down. Teardown always attempts both HLS and MP4
// removal regardless of the current feature flags; flags may have been
// toggled after the components started, so the flags cannot be trusted to
// say what needs cleaning up. A second Stop arriving while teardown runs
// blocks on the manager lock until the first finishes and then no-ops.
func (m *Manager) Stop(wait bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(wait)
}

func (m *Manager) stopLocked(wait bool) error {
	if m.state == StateInactive || m.state == StateStopping {
		return nil
	}
	m.setStateLocked(StateStopping)
	m.teardownLocked(wait)
	m.setStateLocked(StateInactive)
	return nil
}

// teardownLocked stops the processor, both writer outputs, the reader, and
// resets timestamp state. Every step runs even when a prior one found
// nothing to do.
func (m *Manager) teardownLocked(wait bool) {
	if m.proc != nil {
		// Idempotent per-output teardown: attempted for both types even
		// when only one (or neither) was ever started.
		if err := m.proc.RemoveOutput(OutputHLS); err == nil {
			m.releaseRefLocked(ComponentHLS)
		}
		if err := m.proc.RemoveOutput(OutputMP4); err == nil {
			m.releaseRefLocked(ComponentMP4)
		}
		if err := m.proc.RemoveOutput(OutputDetection); err == nil {
			m.releaseRefLocked(ComponentDetection)
		}
		m.proc.Stop()
		m.proc = nil
	}
	if m.reader != nil {
		// Fold the connection's counters into the lifetime totals before
		// the reader goes away.
		packets, bytes, last := m.reader.Counters()
		m.stats.PacketsReceived += packets
		m.stats.BytesReceived += bytes
		if last.After(m.stats.LastPacket) {
			m.stats.LastPacket = last
		}
		m.reader.stop(wait)
		m.reader = nil
		m.releaseRefLocked(ComponentReader)
	}
	m.deps.Trackers.Reset(m.cfg.Name)
}

func (m *Manager) releaseRefLocked(c Component) {
	if m.refs[c] > 0 {
		m.refs[c]--
		if m.refs[c] == 0 {
			delete(m.refs, c)
		}
	}
}

// UpdateConfig replaces the stream's configuration. While Active, a change
// to the protocol, URL, or any feature flag forces a full stop-then-start;
// in-place reconfiguration is deliberately not attempted.
func (m *Manager) UpdateConfig(cfg StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.Name != m.cfg.Name {
		return NewStreamError(ErrCodeInvalidParams, "stream name cannot change", nil)
	}

	restart := m.state == StateActive && m.cfg.requiresRestart(&cfg)
	m.cfg = cfg
	m.protoState = newProtocolState(&cfg)

	if restart {
		if err := m.stopLocked(true); err != nil {
			return err
		}
		return m.startLocked()
	}
	return nil
}

// SetFeature toggles one feature flag. While Active a change forces a full
// stop-then-start, same as UpdateConfig.
func (m *Manager) SetFeature(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.cfg
	switch name {
	case "streaming_enabled":
		m.cfg.StreamingEnabled = enabled
	case "record":
		m.cfg.Record = enabled
	case "detection_based_recording":
		m.cfg.DetectionBasedRecording = enabled
	default:
		return NewStreamError(ErrCodeInvalidParams, "unknown feature "+name, nil)
	}

	if m.state == StateActive && prev.requiresRestart(&m.cfg) {
		if err := m.stopLocked(true); err != nil {
			return err
		}
		return m.startLocked()
	}
	return nil
}

// HandleError records a stream error. If the stream was Active it enters
// Reconnecting and performs stop, a configurable pause, then start; the
// sleep runs on the caller's goroutine. Outside the active window the
// stream goes straight to Error with no retry.
func (m *Manager) HandleError(cause error) {
	m.mu.Lock()

	m.stats.Errors++
	metrics.IncStreamErrors(m.cfg.Name)
	m.publishLocked(events.StreamErrorEvent{
		Stream:    m.cfg.Name,
		Code:      errCode(cause),
		Error:     errString(cause),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	if m.state != StateActive {
		m.setStateLocked(StateError)
		m.mu.Unlock()
		return
	}

	m.setStateLocked(StateReconnecting)
	m.protoState.ReconnectAttempts++
	m.protoState.LastReconnect = time.Now()
	m.publishLocked(events.StreamReconnectingEvent{
		Stream:    m.cfg.Name,
		Attempts:  m.protoState.ReconnectAttempts,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})

	m.teardownLocked(true)
	delay := m.deps.RestartDelay
	m.mu.Unlock()

	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReconnecting {
		// A concurrent stop or remove won while we slept.
		return
	}
	// startLocked refuses Reconnecting as a source state; recovery is an
	// internal restart, not an external one.
	m.state = StateInactive
	if err := m.startLocked(); err != nil {
		m.setStateLocked(StateError)
	}
}

// readerFailed runs on the reader goroutine when the initial connection
// never came up.
func (m *Manager) readerFailed(err error) {
	m.HandleError(err)
}

// Remove destroys the manager. It fails with StillReferenced while any
// component other than the caller holds a reference; callers must release
// those first. On success the stream is force-stopped synchronously.
func (m *Manager) Remove() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refCountLocked() > 1 {
		return NewStreamError(ErrCodeStillReferenced,
			"stream still referenced by other components", nil)
	}
	if err := m.stopLocked(true); err != nil {
		return err
	}
	m.removed = true
	m.deps.Trackers.Remove(m.cfg.Name)
	metrics.RemoveStream(m.cfg.Name)
	return nil
}

func (m *Manager) setStateLocked(next StreamState) {
	if m.state == next {
		return
	}
	old := m.state
	m.state = next
	metrics.SetStreamState(m.cfg.Name, string(next))
	m.deps.Logger.Info("Stream state changed",
		"stream", m.cfg.Name, "from", old, "to", next)
	m.publishLocked(events.StreamStateChangedEvent{
		Stream:    m.cfg.Name,
		OldState:  string(old),
		NewState:  string(next),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (m *Manager) publishLocked(ev events.Event) {
	if m.deps.Bus != nil {
		m.deps.Bus.Publish(ev)
	}
}

func errCode(err error) string {
	if se, ok := err.(*StreamError); ok {
		return se.Code
	}
	return ErrCodeProtocolError
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// protocolStateFor is a test seam exposing nominal tuning per protocol.
func protocolStateFor(proto media.Protocol) ProtocolState {
	cfg := StreamConfig{Protocol: proto}
	return newProtocolState(&cfg)
}
