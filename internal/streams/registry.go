package streams

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smazurov/nvrnode/internal/events"
)

// Registry holds every registered stream manager, keyed by stream name.
// Lookups clone nothing heavy; callers receive the live *Manager and the
// registry lock is never held across a manager operation.
type Registry struct {
	deps   ManagerDeps
	logger *slog.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry creates an empty stream registry.
func NewRegistry(deps ManagerDeps) *Registry {
	d := deps.withDefaults()
	return &Registry{
		deps:     d,
		logger:   d.Logger,
		managers: make(map[string]*Manager),
	}
}

// Create registers a new stream. A duplicate name is rejected.
func (r *Registry) Create(cfg StreamConfig) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	if _, exists := r.managers[cfg.Name]; exists {
		r.mu.Unlock()
		return nil, NewStreamError(ErrCodeStreamExists,
			"stream "+cfg.Name+" already registered", nil)
	}
	m, err := NewManager(cfg, r.deps)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.managers[cfg.Name] = m
	r.mu.Unlock()

	r.logger.Info("Stream registered", "stream", cfg.Name, "url", cfg.URL)
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.StreamRegisteredEvent{
			Stream:    cfg.Name,
			URL:       cfg.URL,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return m, nil
}

// Get returns the manager for name.
func (r *Registry) Get(name string) (*Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[name]
	if !ok {
		return nil, NewStreamError(ErrCodeStreamNotFound, "stream "+name+" not found", nil)
	}
	return m, nil
}

// List returns the registered stream names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.managers))
	for name := range r.managers {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Remove deregisters a stream. The manager's own StillReferenced guard
// applies: removal fails while another component holds a reference, and the
// registry entry is kept in that case.
func (r *Registry) Remove(name string) error {
	r.mu.RLock()
	m, ok := r.managers[name]
	r.mu.RUnlock()
	if !ok {
		return NewStreamError(ErrCodeStreamNotFound, "stream "+name+" not found", nil)
	}

	if err := m.Remove(); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.managers, name)
	r.mu.Unlock()

	r.logger.Info("Stream deregistered", "stream", name)
	if r.deps.Bus != nil {
		r.deps.Bus.Publish(events.StreamDeregisteredEvent{
			Stream:    name,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
	return nil
}

// StartAll starts every registered stream, collecting the first error but
// attempting all of them.
func (r *Registry) StartAll() error {
	var firstErr error
	for _, name := range r.List() {
		m, err := r.Get(name)
		if err != nil {
			continue
		}
		if err := m.Start(); err != nil {
			r.logger.Error("Stream start failed", "stream", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown stops every stream concurrently and waits, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	managers := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		managers = append(managers, m)
	}
	r.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	for _, m := range managers {
		g.Go(func() error {
			return m.Stop(true)
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		r.logger.Warn("Shutdown deadline exceeded, proceeding")
		return ctx.Err()
	}
}
