package streams

import (
	"context"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, *fakeOpener, *sinkRecorder) {
	t.Helper()
	opener := newFakeOpener(0, nil)
	rec := newSinkRecorder()
	r := NewRegistry(testDeps(opener, rec))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, opener, rec
}

func namedConfig(name string) StreamConfig {
	cfg := testStreamConfig()
	cfg.Name = name
	cfg.URL = "rtsp://camera.local/" + name
	return cfg
}

func TestRegistryCreateAndGet(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	m, err := r.Create(namedConfig("cam1"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if m.Name() != "cam1" {
		t.Errorf("name = %q, want cam1", m.Name())
	}

	got, err := r.Get("cam1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != m {
		t.Error("Get returned a different manager")
	}

	if _, err := r.Get("cam9"); !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("expected STREAM_NOT_FOUND, got %v", err)
	}
}

func TestRegistryRejectsDuplicateName(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.Create(namedConfig("cam1")); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Create(namedConfig("cam1")); !IsCode(err, ErrCodeStreamExists) {
		t.Errorf("expected STREAM_EXISTS, got %v", err)
	}
}

func TestRegistryListSorted(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	for _, name := range []string{"garage", "door", "yard"} {
		if _, err := r.Create(namedConfig(name)); err != nil {
			t.Fatal(err)
		}
	}

	got := r.List()
	want := []string{"door", "garage", "yard"}
	if len(got) != len(want) {
		t.Fatalf("List returned %d names, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRegistryRemove(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	if _, err := r.Create(namedConfig("cam1")); err != nil {
		t.Fatal(err)
	}
	if err := r.Remove("cam1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := r.Get("cam1"); !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("removed stream still resolvable: %v", err)
	}
	if err := r.Remove("cam1"); !IsCode(err, ErrCodeStreamNotFound) {
		t.Errorf("expected STREAM_NOT_FOUND, got %v", err)
	}
}

func TestRegistryRemoveKeepsReferencedStream(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	m, err := r.Create(namedConfig("cam1"))
	if err != nil {
		t.Fatal(err)
	}
	m.AddRef(ComponentOther)

	if err := r.Remove("cam1"); !IsCode(err, ErrCodeStillReferenced) {
		t.Fatalf("expected STILL_REFERENCED, got %v", err)
	}
	if _, err := r.Get("cam1"); err != nil {
		t.Error("entry dropped despite failed removal")
	}

	m.ReleaseRef(ComponentOther)
	if err := r.Remove("cam1"); err != nil {
		t.Fatalf("Remove after release failed: %v", err)
	}
}

func TestRegistryStartAllCollectsFirstError(t *testing.T) {
	r, _, rec := newTestRegistry(t)

	if _, err := r.Create(namedConfig("cam1")); err != nil {
		t.Fatal(err)
	}
	broken := namedConfig("cam2")
	if _, err := r.Create(broken); err != nil {
		t.Fatal(err)
	}

	rec.setFail("hls", true)
	err := r.StartAll()
	if !IsCode(err, ErrCodeStartFailed) {
		t.Fatalf("expected START_FAILED, got %v", err)
	}
	rec.setFail("hls", false)

	// Both streams were attempted; both sit in Error until restarted.
	for _, name := range r.List() {
		m, _ := r.Get(name)
		if got := m.GetState(); got != StateError {
			t.Errorf("%s state = %s, want %s", name, got, StateError)
		}
	}
}

func TestRegistryStartAllAndShutdown(t *testing.T) {
	r, _, rec := newTestRegistry(t)

	for _, name := range []string{"cam1", "cam2"} {
		if _, err := r.Create(namedConfig(name)); err != nil {
			t.Fatal(err)
		}
	}
	if err := r.StartAll(); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	for _, name := range r.List() {
		m, _ := r.Get(name)
		if got := m.GetState(); got != StateActive {
			t.Fatalf("%s state = %s, want %s", name, got, StateActive)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	for _, name := range r.List() {
		m, _ := r.Get(name)
		if got := m.GetState(); got != StateInactive {
			t.Errorf("%s state = %s, want %s", name, got, StateInactive)
		}
	}
	for _, sink := range rec.created("hls") {
		if !sink.isClosed() {
			t.Error("sink left open after shutdown")
		}
	}
}
