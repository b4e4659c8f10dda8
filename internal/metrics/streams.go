// Package metrics provides Prometheus metrics for the stream pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvrnode",
		Subsystem: "reader",
		Name:      "packets_total",
		Help:      "Video packets read and delivered per stream",
	}, []string{"stream"})

	reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvrnode",
		Subsystem: "reader",
		Name:      "reconnects_total",
		Help:      "Full close-and-reopen reconnections per stream",
	}, []string{"stream", "protocol"})

	sinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvrnode",
		Subsystem: "processor",
		Name:      "sink_errors_total",
		Help:      "Sink write failures per stream and output type",
	}, []string{"stream", "output"})

	framesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvrnode",
		Subsystem: "processor",
		Name:      "frames_total",
		Help:      "Frames dispatched to outputs per stream",
	}, []string{"stream"})

	streamState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "nvrnode",
		Subsystem: "stream",
		Name:      "state",
		Help:      "Current state per stream (one-hot across state label values)",
	}, []string{"stream", "state"})

	streamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "nvrnode",
		Subsystem: "stream",
		Name:      "errors_total",
		Help:      "Errors recorded per stream",
	}, []string{"stream"})
)

// knownStates enumerates the state label values kept one-hot per stream.
var knownStates = []string{
	"inactive", "starting", "active", "reconnecting", "stopping", "error",
}

// IncPacketsRead counts one delivered video packet.
func IncPacketsRead(stream string) {
	packetsRead.WithLabelValues(stream).Inc()
}

// IncReconnects counts one full reconnection.
func IncReconnects(stream, protocol string) {
	reconnects.WithLabelValues(stream, protocol).Inc()
}

// IncSinkErrors counts one failed sink write.
func IncSinkErrors(stream, output string) {
	sinkErrors.WithLabelValues(stream, output).Inc()
}

// IncFramesProcessed counts one dispatched frame.
func IncFramesProcessed(stream string) {
	framesProcessed.WithLabelValues(stream).Inc()
}

// IncStreamErrors counts one recorded stream error.
func IncStreamErrors(stream string) {
	streamErrors.WithLabelValues(stream).Inc()
}

// SetStreamState marks the stream's current state gauge.
func SetStreamState(stream, state string) {
	for _, s := range knownStates {
		v := 0.0
		if s == state {
			v = 1.0
		}
		streamState.WithLabelValues(stream, s).Set(v)
	}
}

// RemoveStream drops all series for a deregistered stream.
func RemoveStream(stream string) {
	packetsRead.DeletePartialMatch(prometheus.Labels{"stream": stream})
	reconnects.DeletePartialMatch(prometheus.Labels{"stream": stream})
	sinkErrors.DeletePartialMatch(prometheus.Labels{"stream": stream})
	framesProcessed.DeletePartialMatch(prometheus.Labels{"stream": stream})
	streamState.DeletePartialMatch(prometheus.Labels{"stream": stream})
	streamErrors.DeletePartialMatch(prometheus.Labels{"stream": stream})
}
