// Package store persists stream definitions in a TOML file.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/smazurov/nvrnode/internal/streams"
)

// config represents the complete streams configuration file for TOML marshaling.
type config struct {
	Version int                              `toml:"version"`
	Streams map[string]streams.StreamConfig `toml:"streams"`
}

// tomlStore implements Repository using TOML file storage. Writes go
// through a temp file and rename so a crash mid-save never truncates the
// definitions file.
type tomlStore struct {
	configPath string
	mu         sync.Mutex
	config     *config
}

// NewTOML creates a new TOML-based store.
func NewTOML(configPath string) streams.Repository {
	if configPath == "" {
		configPath = "streams.toml"
	}

	return &tomlStore{
		configPath: configPath,
		config: &config{
			Version: 1,
			Streams: make(map[string]streams.StreamConfig),
		},
	}
}

// Load loads the streams configuration from file.
func (s *tomlStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		// File doesn't exist, use empty config
		return nil
	}

	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return streams.WrapError(streams.ErrCodeConfigError, err)
	}

	loaded := &config{}
	if unmarshalErr := toml.Unmarshal(data, loaded); unmarshalErr != nil {
		return streams.WrapError(streams.ErrCodeConfigError, unmarshalErr)
	}
	if loaded.Streams == nil {
		loaded.Streams = make(map[string]streams.StreamConfig)
	}
	if loaded.Version == 0 {
		loaded.Version = 1
	}

	// The map key is authoritative for the stream name.
	for name, cfg := range loaded.Streams {
		if cfg.Name == "" {
			cfg.Name = name
			loaded.Streams[name] = cfg
		}
	}

	s.config = loaded
	return nil
}

// Save saves the streams configuration to file.
func (s *tomlStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *tomlStore) saveLocked() error {
	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal streams config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".streams-*.toml")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to chmod temp config: %w", err)
	}
	if err := os.Rename(tmpPath, s.configPath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to replace streams config: %w", err)
	}
	return nil
}

// AddStream adds a new stream to the configuration.
func (s *tomlStore) AddStream(cfg streams.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Streams[cfg.Name] = cfg
	return s.saveLocked()
}

// UpdateStream updates an existing stream configuration.
func (s *tomlStore) UpdateStream(name string, cfg streams.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.config.Streams[name]; !exists {
		return streams.NewStreamError(streams.ErrCodeStreamNotFound,
			"stream "+name+" not found", nil)
	}
	s.config.Streams[name] = cfg
	return s.saveLocked()
}

// RemoveStream removes a stream from the configuration.
func (s *tomlStore) RemoveStream(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.config.Streams, name)
	return s.saveLocked()
}

// GetStream retrieves a stream by name.
func (s *tomlStore) GetStream(name string) (streams.StreamConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, exists := s.config.Streams[name]
	return cfg, exists
}

// GetAllStreams returns a copy of all streams.
func (s *tomlStore) GetAllStreams() map[string]streams.StreamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]streams.StreamConfig, len(s.config.Streams))
	for name, cfg := range s.config.Streams {
		out[name] = cfg
	}
	return out
}
