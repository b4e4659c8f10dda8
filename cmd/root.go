package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/smazurov/nvrnode/internal/config"
	"github.com/smazurov/nvrnode/internal/logging"
	"github.com/smazurov/nvrnode/internal/version"
)

// Options is the flat CLI option set. The toml and env tags drive the
// loader's precedence chain: explicit CLI flags win, then environment
// variables, then the config file.
type Options struct {
	// Config is located by field name and points at the TOML file.
	Config string

	StreamsConfigFile string `toml:"streams.config_file" env:"STREAMS_CONFIG_FILE"`
	StreamsWatch      bool   `toml:"streams.watch" env:"STREAMS_WATCH"`

	MetricsEnabled bool   `toml:"metrics.enabled" env:"METRICS_ENABLED"`
	MetricsAddr    string `toml:"metrics.addr" env:"METRICS_ADDR"`

	LoggingLevel   string `toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingStreams string `toml:"logging.streams" env:"LOGGING_STREAMS"`
	LoggingDemux   string `toml:"logging.demux" env:"LOGGING_DEMUX"`
	LoggingMetrics string `toml:"logging.metrics" env:"LOGGING_METRICS"`
	LoggingConfig  string `toml:"logging.config" env:"LOGGING_CONFIG"`
}

var opts = &Options{}

var rootCmd = &cobra.Command{
	Use:     "nvrnode",
	Short:   "NVR stream runtime",
	Long:    "nvrnode ingests RTSP and UDP camera streams and fans them out to HLS, MP4 recording, and detection sampling.",
	Version: version.String(),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Serving is the default action
		return runServe(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.Config, "config", "c", "config.toml", "Path to configuration file")
	pf.StringVar(&opts.StreamsConfigFile, "streams-config-file", "streams.toml", "Stream definitions file")
	pf.BoolVar(&opts.StreamsWatch, "streams-watch", true, "Reload stream definitions when the file changes")
	pf.BoolVar(&opts.MetricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics")
	pf.StringVar(&opts.MetricsAddr, "metrics-addr", ":9100", "Prometheus metrics listen address")
	pf.StringVar(&opts.LoggingLevel, "logging-level", "info", "Global logging level (debug, info, warn, error)")
	pf.StringVar(&opts.LoggingFormat, "logging-format", "text", "Logging format (text, json)")
	pf.StringVar(&opts.LoggingStreams, "logging-streams", "", "Streams logging level")
	pf.StringVar(&opts.LoggingDemux, "logging-demux", "", "Demuxer logging level")
	pf.StringVar(&opts.LoggingMetrics, "logging-metrics", "", "Metrics logging level")
	pf.StringVar(&opts.LoggingConfig, "logging-config", "", "Config watcher logging level")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.SetVersionTemplate(fmt.Sprintf("nvrnode %s (%s, built %s)\n",
		version.Version, version.GitCommit, version.BuildDate))
}

// setup loads the layered configuration and initializes logging. Every
// subcommand calls it before doing real work.
func setup(cmd *cobra.Command) {
	if err := config.LoadConfig(opts, cmd); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Failed to load config: %v\n", err)
	}

	// The TOML [logging] table may carry levels for any module name; the
	// flag-backed options override the well-known ones.
	logCfg := config.LoadLoggingConfig(opts.Config)
	logCfg.Level = opts.LoggingLevel
	logCfg.Format = opts.LoggingFormat
	for module, level := range map[string]string{
		"streams": opts.LoggingStreams,
		"demux":   opts.LoggingDemux,
		"metrics": opts.LoggingMetrics,
		"config":  opts.LoggingConfig,
	} {
		if level != "" {
			logCfg.Modules[module] = level
		}
	}
	logging.Initialize(logCfg)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
