package streams

import (
	"errors"
	"testing"
	"time"

	"github.com/smazurov/nvrnode/internal/media"
)

func testStreamConfig() StreamConfig {
	return StreamConfig{
		Name:             "cam1",
		URL:              "rtsp://camera.local/cam1",
		Protocol:         media.ProtocolTCP,
		StreamingEnabled: true,
		HLSPath:          "/tmp/hls",
		RecordPath:       "/tmp/rec",
		SegmentSeconds:   4,
	}
}

func newTestManager(t *testing.T, cfg StreamConfig, opener *fakeOpener, rec *sinkRecorder) *Manager {
	t.Helper()
	m, err := NewManager(cfg, testDeps(opener, rec))
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Stop(true) })
	return m
}

func TestNewManagerValidatesConfig(t *testing.T) {
	deps := testDeps(newFakeOpener(0, nil), newSinkRecorder())

	cases := []struct {
		name string
		cfg  StreamConfig
	}{
		{"missing name", StreamConfig{URL: "rtsp://x", Protocol: media.ProtocolTCP}},
		{"missing url", StreamConfig{Name: "cam1", Protocol: media.ProtocolTCP}},
		{"bad protocol", StreamConfig{Name: "cam1", URL: "rtsp://x", Protocol: "sctp"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewManager(tc.cfg, deps); !IsCode(err, ErrCodeInvalidParams) {
				t.Errorf("expected INVALID_PARAMS, got %v", err)
			}
		})
	}
}

func TestManagerLifecycle(t *testing.T) {
	opener := newFakeOpener(0, nil)
	rec := newSinkRecorder()
	m := newTestManager(t, testStreamConfig(), opener, rec)

	if got := m.GetState(); got != StateInactive {
		t.Fatalf("initial state = %s, want %s", got, StateInactive)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if got := m.GetState(); got != StateActive {
		t.Fatalf("state after start = %s, want %s", got, StateActive)
	}

	// Only streaming is enabled; recording must not have come up.
	if len(rec.created("hls")) != 1 {
		t.Errorf("hls sinks created = %d, want 1", len(rec.created("hls")))
	}
	if len(rec.created("mp4")) != 0 {
		t.Errorf("mp4 sinks created = %d, want 0", len(rec.created("mp4")))
	}

	// Start while Active is a no-op.
	if err := m.Start(); err != nil {
		t.Errorf("Start while active returned %v", err)
	}
	if len(rec.created("hls")) != 1 {
		t.Error("repeated Start built a second sink")
	}

	if err := m.Stop(true); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := m.GetState(); got != StateInactive {
		t.Errorf("state after stop = %s, want %s", got, StateInactive)
	}
	if !rec.created("hls")[0].isClosed() {
		t.Error("hls sink not closed on stop")
	}
	for _, d := range opener.openedDemuxers() {
		if !d.isClosed() {
			t.Error("demuxer left open after stop")
		}
	}
}

func TestStartWithNoComponentEnabled(t *testing.T) {
	cfg := testStreamConfig()
	cfg.StreamingEnabled = false
	m := newTestManager(t, cfg, newFakeOpener(0, nil), newSinkRecorder())

	err := m.Start()
	if !IsCode(err, ErrCodeStartFailed) {
		t.Fatalf("expected START_FAILED, got %v", err)
	}
	if got := m.GetState(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}

	// Error is a restartable state.
	m.mu.Lock()
	m.cfg.StreamingEnabled = true
	m.mu.Unlock()
	if err := m.Start(); err != nil {
		t.Fatalf("restart from error state failed: %v", err)
	}
	if got := m.GetState(); got != StateActive {
		t.Errorf("state = %s, want %s", got, StateActive)
	}
}

func TestRemoveGuardedByReferences(t *testing.T) {
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), newSinkRecorder())

	m.AddRef(ComponentOther)
	if got := m.RefCount(); got != 2 {
		t.Fatalf("ref count = %d, want 2", got)
	}

	err := m.Remove()
	if !IsCode(err, ErrCodeStillReferenced) {
		t.Fatalf("expected STILL_REFERENCED, got %v", err)
	}

	m.ReleaseRef(ComponentOther)
	if err := m.Remove(); err != nil {
		t.Fatalf("Remove after release failed: %v", err)
	}

	err = m.Start()
	if !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("Start after remove: expected STREAM_NOT_FOUND, got %v", err)
	}
}

func TestReleaseRefNeverGoesNegative(t *testing.T) {
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), newSinkRecorder())

	m.ReleaseRef(ComponentOther)
	m.ReleaseRef(ComponentOther)
	if got := m.RefCount(); got != 1 {
		t.Errorf("ref count = %d, want 1", got)
	}
}

func TestStopTearsDownOutputsDespiteFlagChanges(t *testing.T) {
	cfg := testStreamConfig()
	cfg.Record = true
	rec := newSinkRecorder()
	m := newTestManager(t, cfg, newFakeOpener(0, nil), rec)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	// Flags flipped after startup must not exempt a running output from
	// teardown.
	m.mu.Lock()
	m.cfg.Record = false
	m.cfg.StreamingEnabled = false
	m.mu.Unlock()

	if err := m.Stop(true); err != nil {
		t.Fatal(err)
	}
	if !rec.created("hls")[0].isClosed() {
		t.Error("hls sink survived stop")
	}
	if !rec.created("mp4")[0].isClosed() {
		t.Error("mp4 sink survived stop")
	}
	if got := m.RefCount(); got != 1 {
		t.Errorf("ref count after stop = %d, want only the api reference", got)
	}
}

func TestHandleErrorWhileActiveReconnects(t *testing.T) {
	opener := newFakeOpener(0, nil)
	rec := newSinkRecorder()
	m := newTestManager(t, testStreamConfig(), opener, rec)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	before := time.Now()

	m.HandleError(errors.New("rtsp session dropped"))

	if got := m.GetState(); got != StateActive {
		t.Fatalf("state after recovery = %s, want %s", got, StateActive)
	}
	ps := m.GetProtocolState()
	if ps.ReconnectAttempts != 1 {
		t.Errorf("reconnect attempts = %d, want 1", ps.ReconnectAttempts)
	}
	if ps.LastReconnect.Before(before) {
		t.Error("last reconnect time not updated")
	}
	if got := m.GetStats().Errors; got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
	if !waitFor(time.Second, func() bool { return opener.attemptCount() == 2 }) {
		t.Errorf("connection attempts = %d, want 2 (original plus recovery)",
			opener.attemptCount())
	}
}

func TestHandleErrorOutsideActiveGoesToError(t *testing.T) {
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), newSinkRecorder())

	m.HandleError(errors.New("connect refused"))
	if got := m.GetState(); got != StateError {
		t.Errorf("state = %s, want %s", got, StateError)
	}
	if got := m.GetStats().Errors; got != 1 {
		t.Errorf("error count = %d, want 1", got)
	}
}

func TestHandleErrorRecoveryFailureGoesToError(t *testing.T) {
	rec := newSinkRecorder()
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), rec)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	rec.setFail("hls", true)
	m.HandleError(errors.New("rtsp session dropped"))

	if got := m.GetState(); got != StateError {
		t.Errorf("state after failed recovery = %s, want %s", got, StateError)
	}
}

func TestUpdateConfigRestartsActiveStream(t *testing.T) {
	opener := newFakeOpener(0, nil)
	rec := newSinkRecorder()
	m := newTestManager(t, testStreamConfig(), opener, rec)

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}

	cfg := m.GetConfig()
	cfg.URL = "rtsp://camera.local/cam1-hi"
	if err := m.UpdateConfig(cfg); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	if got := m.GetState(); got != StateActive {
		t.Errorf("state = %s, want %s", got, StateActive)
	}
	if !waitFor(time.Second, func() bool { return opener.attemptCount() == 2 }) {
		t.Errorf("connection attempts = %d, want 2 after url change",
			opener.attemptCount())
	}
	if got := m.GetConfig().URL; got != cfg.URL {
		t.Errorf("url = %q, want %q", got, cfg.URL)
	}
}

func TestUpdateConfigRejectsNameChange(t *testing.T) {
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), newSinkRecorder())

	cfg := m.GetConfig()
	cfg.Name = "cam2"
	if err := m.UpdateConfig(cfg); !IsCode(err, ErrCodeInvalidParams) {
		t.Errorf("expected INVALID_PARAMS, got %v", err)
	}
}

func TestSetFeatureTogglesAndRestarts(t *testing.T) {
	rec := newSinkRecorder()
	m := newTestManager(t, testStreamConfig(), newFakeOpener(0, nil), rec)

	if err := m.SetFeature("bitrate_boost", true); !IsCode(err, ErrCodeInvalidParams) {
		t.Fatalf("expected INVALID_PARAMS for unknown feature, got %v", err)
	}

	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	if len(rec.created("mp4")) != 0 {
		t.Fatal("recording sink created before the feature was enabled")
	}

	if err := m.SetFeature("record", true); err != nil {
		t.Fatalf("SetFeature failed: %v", err)
	}
	if got := m.GetState(); got != StateActive {
		t.Errorf("state = %s, want %s", got, StateActive)
	}
	if len(rec.created("mp4")) != 1 {
		t.Errorf("mp4 sinks created = %d, want 1 after enabling record", len(rec.created("mp4")))
	}
	if !m.GetConfig().Record {
		t.Error("config flag not persisted")
	}
}

func TestProtocolTuningDefaults(t *testing.T) {
	udp := protocolStateFor(media.ProtocolUDP)
	if udp.BufferSize != 16*1024*1024 {
		t.Errorf("udp buffer = %d, want 16MiB", udp.BufferSize)
	}
	if udp.Timeout != 10*time.Second {
		t.Errorf("udp timeout = %s, want 10s", udp.Timeout)
	}

	tcp := protocolStateFor(media.ProtocolTCP)
	if tcp.BufferSize != 8*1024*1024 {
		t.Errorf("tcp buffer = %d, want 8MiB", tcp.BufferSize)
	}
	if tcp.Timeout != 5*time.Second {
		t.Errorf("tcp timeout = %s, want 5s", tcp.Timeout)
	}

	hinted := newProtocolState(&StreamConfig{
		Protocol:       media.ProtocolTCP,
		BufferSize:     1024,
		TimeoutSeconds: 30,
	})
	if hinted.BufferSize != 1024 || hinted.Timeout != 30*time.Second {
		t.Errorf("hints ignored: got %d/%s", hinted.BufferSize, hinted.Timeout)
	}
}
