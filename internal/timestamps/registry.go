package timestamps

import "sync"

// Registry tracks correction state per stream name so that reader restarts
// and protocol switches observe the right UDP flag. Entries survive Reset;
// the flag is sticky until the stream is deregistered.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Tracker
}

// NewRegistry returns an empty tracker registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Tracker)}
}

// Get returns the tracker for name, creating one if needed.
func (r *Registry) Get(name string) *Tracker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.entries[name]
	if !ok {
		t = NewTracker(false, 0)
		r.entries[name] = t
	}
	return t
}

// SetUDP records whether the named stream is currently read over UDP.
func (r *Registry) SetUDP(name string, udp bool) {
	r.Get(name).SetUDP(udp)
}

// Reset clears correction state for the named stream, keeping its UDP flag.
func (r *Registry) Reset(name string) {
	r.mu.Lock()
	t, ok := r.entries[name]
	r.mu.Unlock()
	if ok {
		t.Reset()
	}
}

// Remove deletes the named stream's tracker entirely.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}
