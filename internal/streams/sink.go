package streams

import "github.com/smazurov/nvrnode/internal/media"

// Sink consumes packets for one output. Segment-writer implementations are
// collaborators behind this contract; the pipeline never looks inside.
type Sink interface {
	WritePacket(pkt *media.Packet, info media.StreamInfo) error
	Close() error
}

// SinkFactory constructs a sink for an output path and segment duration.
type SinkFactory func(path, streamName string, segmentSeconds int) (Sink, error)

// DetectionSampler receives every interval-th packet of a detection output.
// Inference itself lives outside this package; only the cadence is supplied.
type DetectionSampler func(pkt *media.Packet)

// SinkFactories bundles the writer collaborators a processor needs.
type SinkFactories struct {
	HLS       SinkFactory
	MP4       SinkFactory
	Detection DetectionSampler
}

// OutputType tags the variant of a processor output.
type OutputType string

// Output types.
const (
	OutputHLS       OutputType = "hls"
	OutputMP4       OutputType = "mp4"
	OutputDetection OutputType = "detection"
)

// OutputConfig is the tagged variant describing one processor output.
type OutputConfig interface {
	OutputType() OutputType
}

// HLSOutput configures a live streaming segment writer.
type HLSOutput struct {
	Path           string
	SegmentSeconds int
}

// OutputType identifies the variant.
func (HLSOutput) OutputType() OutputType { return OutputHLS }

// MP4Output configures a recording segment writer.
type MP4Output struct {
	Path           string
	SegmentSeconds int
}

// OutputType identifies the variant.
func (MP4Output) OutputType() OutputType { return OutputMP4 }

// DetectionOutput configures the sampling cadence for a detector.
type DetectionOutput struct {
	ModelPath         string
	Threshold         float32
	Interval          int
	PreBufferSeconds  int
	PostBufferSeconds int
}

// OutputType identifies the variant.
func (DetectionOutput) OutputType() OutputType { return OutputDetection }
