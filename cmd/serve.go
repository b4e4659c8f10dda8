package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smazurov/nvrnode/internal/config"
	"github.com/smazurov/nvrnode/internal/events"
	"github.com/smazurov/nvrnode/internal/logging"
	"github.com/smazurov/nvrnode/internal/metrics/exporters"
	"github.com/smazurov/nvrnode/internal/streams"
	"github.com/smazurov/nvrnode/internal/streams/store"
	"github.com/smazurov/nvrnode/internal/version"
	"github.com/smazurov/nvrnode/internal/writers"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the stream runtime",
	Long: `Loads stream definitions, connects every enabled stream, and serves ` +
		`Prometheus metrics. Definitions are reloaded live when the file changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	setup(cmd)
	logger := logging.GetLogger("main")
	logger.Info("Starting nvrnode", "version", version.String(),
		"streams_config", opts.StreamsConfigFile)

	bus := events.New()

	streamStore := store.NewTOML(opts.StreamsConfigFile)
	if err := streamStore.Load(); err != nil {
		return err
	}

	registry := streams.NewRegistry(streams.ManagerDeps{
		Factories: streams.SinkFactories{
			HLS: writers.NewHLS,
			MP4: writers.NewMP4,
		},
		Logger: logging.GetLogger("streams"),
		Bus:    bus,
	})

	for name, streamCfg := range streamStore.GetAllStreams() {
		if _, err := registry.Create(streamCfg); err != nil {
			logger.Error("Skipping invalid stream definition", "stream", name, "error", err)
		}
	}
	if err := registry.StartAll(); err != nil {
		// Streams that failed sit in the error state and can be restarted
		// after the operator fixes the camera; the rest keep running.
		logger.Warn("Not all streams started", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.MetricsEnabled {
		go func() {
			metricsLogger := logging.GetLogger("metrics")
			if err := exporters.Serve(ctx, opts.MetricsAddr, metricsLogger); err != nil {
				metricsLogger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	var watcher *config.Watcher[map[string]streams.StreamConfig]
	if opts.StreamsWatch {
		watcher = config.NewConfigWatcher(opts.StreamsConfigFile, loadStreamDefinitions,
			logging.GetLogger("config"))
		watcher.OnReload(func(defs map[string]streams.StreamConfig) {
			reconcileStreams(registry, defs, logger)
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("Stream definition watching disabled", "error", err)
			watcher = nil
		}
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	if watcher != nil {
		_ = watcher.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return registry.Shutdown(shutdownCtx)
}

// loadStreamDefinitions reads the definitions file fresh. The watcher calls
// this on every change so handlers never see a stale snapshot.
func loadStreamDefinitions(path string) (map[string]streams.StreamConfig, error) {
	s := store.NewTOML(path)
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s.GetAllStreams(), nil
}

// reconcileStreams applies a fresh definition snapshot to the registry:
// new definitions are created and started, changed ones updated in place,
// and registered streams missing from the snapshot removed.
func reconcileStreams(registry *streams.Registry, defs map[string]streams.StreamConfig, logger logging.Logger) {
	for name, streamCfg := range defs {
		m, err := registry.Get(name)
		if err != nil {
			created, createErr := registry.Create(streamCfg)
			if createErr != nil {
				logger.Error("Stream definition rejected", "stream", name, "error", createErr)
				continue
			}
			if startErr := created.Start(); startErr != nil {
				logger.Error("Stream start failed", "stream", name, "error", startErr)
			}
			continue
		}
		if err := m.UpdateConfig(streamCfg); err != nil {
			logger.Error("Stream update failed", "stream", name, "error", err)
		}
	}

	for _, name := range registry.List() {
		if _, defined := defs[name]; defined {
			continue
		}
		if err := registry.Remove(name); err != nil {
			logger.Warn("Stream removal deferred", "stream", name, "error", err)
		}
	}
}
