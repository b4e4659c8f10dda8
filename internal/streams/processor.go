package streams

import (
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/nvrnode/internal/events"
	"github.com/smazurov/nvrnode/internal/media"
	"github.com/smazurov/nvrnode/internal/metrics"
)

// MaxOutputs bounds the number of outputs a processor will hold.
const MaxOutputs = 8

// sinkErrorLogInterval spaces out non-keyframe error logging under
// sustained sink failure.
const sinkErrorLogInterval = 200

// output is one registered fan-out target. sink is nil until Start
// constructs it; detection outputs never carry a sink.
type output struct {
	cfg        OutputConfig
	sink       Sink
	active     bool
	frameCount uint64
	errorCount uint64
}

// Processor fans one stream's packets out to its outputs. Dispatch runs on
// the reader's goroutine; the processor has no goroutine of its own. The
// mutex is held only for short bookkeeping sections, never across a sink
// write or close.
type Processor struct {
	name      string
	reader    *Reader
	factories SinkFactories
	logger    *slog.Logger
	bus       *events.Bus

	mu              sync.Mutex
	outputs         []*output
	running         bool
	framesProcessed uint64
}

// NewProcessor creates a processor bound to a reader.
func NewProcessor(name string, reader *Reader, factories SinkFactories, logger *slog.Logger, bus *events.Bus) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		name:      name,
		reader:    reader,
		factories: factories,
		logger:    logger.With("stream", name),
		bus:       bus,
	}
}

// AddOutput registers an output. A second output of the same type is
// rejected, as is any output once the bounded list is full. The output
// stays inactive until Start constructs its sink.
func (p *Processor) AddOutput(cfg OutputConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, o := range p.outputs {
		if o.cfg.OutputType() == cfg.OutputType() {
			return NewStreamError(ErrCodeDuplicateOutput,
				"output type "+string(cfg.OutputType())+" already registered", nil)
		}
	}
	if len(p.outputs) >= MaxOutputs {
		return NewStreamError(ErrCodeOutputsFull, "output list is full", nil)
	}

	p.outputs = append(p.outputs, &output{cfg: cfg})
	return nil
}

// RemoveOutput drops the output of the given type. The sink is closed after
// the lock is released; a slow close must not stall dispatch or stop.
func (p *Processor) RemoveOutput(typ OutputType) error {
	p.mu.Lock()
	var removed *output
	for i, o := range p.outputs {
		if o.cfg.OutputType() == typ {
			removed = o
			p.outputs = append(p.outputs[:i], p.outputs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if removed == nil {
		return NewStreamError(ErrCodeOutputNotFound,
			"no output of type "+string(typ), nil)
	}
	if removed.sink != nil {
		if err := removed.sink.Close(); err != nil {
			p.logger.Warn("Sink close failed", "output", typ, "error", err)
		}
	}
	p.publish(events.OutputStoppedEvent{
		Stream:     p.name,
		OutputType: string(typ),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	return nil
}

// Start constructs sinks for outputs that do not have one yet, resets
// detection counters, and registers dispatch as the reader's callback.
// Construction failure removes the failing output, rolls back sinks newly
// built in this call, and returns an error; outputs already running from a
// previous Start are left untouched.
func (p *Processor) Start() error {
	p.mu.Lock()

	var built []*output
	for _, o := range p.outputs {
		if o.active {
			continue
		}
		sink, err := p.buildSink(o.cfg)
		if err != nil {
			failed := o.cfg.OutputType()
			for _, b := range built {
				_ = b.sink.Close()
				b.sink = nil
				b.active = false
			}
			p.removeLocked(failed)
			p.mu.Unlock()
			return NewStreamError(ErrCodeStartFailed,
				"sink construction failed for "+string(failed), err)
		}
		o.sink = sink
		o.frameCount = 0
		o.errorCount = 0
		o.active = true
		if sink != nil {
			built = append(built, o)
		}
		p.publish(events.OutputStartedEvent{
			Stream:     p.name,
			OutputType: string(o.cfg.OutputType()),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
	p.running = true
	p.mu.Unlock()

	p.reader.SetCallback(p.dispatch)
	return nil
}

// buildSink constructs the concrete sink for an output config. Detection
// outputs have no sink; the sampler hook is invoked from dispatch.
// Called with p.mu held; factories must not call back into the processor.
func (p *Processor) buildSink(cfg OutputConfig) (Sink, error) {
	switch c := cfg.(type) {
	case HLSOutput:
		if p.factories.HLS == nil {
			return nil, NewStreamError(ErrCodeConfigError, "no hls sink factory", nil)
		}
		return p.factories.HLS(c.Path, p.name, c.SegmentSeconds)
	case MP4Output:
		if p.factories.MP4 == nil {
			return nil, NewStreamError(ErrCodeConfigError, "no mp4 sink factory", nil)
		}
		return p.factories.MP4(c.Path, p.name, c.SegmentSeconds)
	case DetectionOutput:
		return nil, nil
	}
	return nil, NewStreamError(ErrCodeInvalidParams, "unknown output config", nil)
}

func (p *Processor) removeLocked(typ OutputType) {
	for i, o := range p.outputs {
		if o.cfg.OutputType() == typ {
			p.outputs = append(p.outputs[:i], p.outputs[i+1:]...)
			return
		}
	}
}

// dispatch delivers one packet to every output. The lock is held only for
// the running check, the output-list copy, and the frame counter; sinks are
// then written from the local copy so a blocked write never stalls
// RemoveOutput or Stop.
func (p *Processor) dispatch(pkt *media.Packet, info media.StreamInfo) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	local := make([]*output, 0, len(p.outputs))
	for _, o := range p.outputs {
		if o.active {
			local = append(local, o)
		}
	}
	p.framesProcessed++
	p.mu.Unlock()

	metrics.IncFramesProcessed(p.name)

	for _, o := range local {
		switch cfg := o.cfg.(type) {
		case DetectionOutput:
			p.sampleDetection(o, cfg, pkt)
		default:
			p.writeSink(o, pkt, info)
		}
	}
}

func (p *Processor) writeSink(o *output, pkt *media.Packet, info media.StreamInfo) {
	if o.sink == nil {
		return
	}
	err := o.sink.WritePacket(pkt, info)
	if err == nil {
		return
	}

	typ := o.cfg.OutputType()

	p.mu.Lock()
	o.errorCount++
	count := o.errorCount
	p.mu.Unlock()

	metrics.IncSinkErrors(p.name, string(typ))

	// Keyframes always log; otherwise sampled, so a wedged sink does not
	// flood the journal at packet rate.
	if pkt.Keyframe || count%sinkErrorLogInterval == 0 {
		p.logger.Error("Sink write failed", "output", typ,
			"errors", count, "error", err)
		p.publish(events.SinkWriteErrorEvent{
			Stream:     p.name,
			OutputType: string(typ),
			Errors:     count,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// sampleDetection fires the sampling hook every interval-th frame.
func (p *Processor) sampleDetection(o *output, cfg DetectionOutput, pkt *media.Packet) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1
	}

	p.mu.Lock()
	o.frameCount++
	fire := o.frameCount%uint64(interval) == 0
	p.mu.Unlock()

	if fire && p.factories.Detection != nil {
		p.factories.Detection(pkt)
	}
}

// Stop clears the reader callback without holding the processor lock, then
// closes all sinks. The callback must go first: once it is cleared no new
// dispatch can begin, and any dispatch already running works from its own
// local copy.
func (p *Processor) Stop() {
	p.reader.SetCallback(nil)

	p.mu.Lock()
	p.running = false
	outputs := p.outputs
	p.outputs = nil
	p.mu.Unlock()

	for _, o := range outputs {
		if o.sink != nil {
			if err := o.sink.Close(); err != nil {
				p.logger.Warn("Sink close failed", "output", o.cfg.OutputType(), "error", err)
			}
		}
		p.publish(events.OutputStoppedEvent{
			Stream:     p.name,
			OutputType: string(o.cfg.OutputType()),
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// HasOutput reports whether an output of the given type is registered.
func (p *Processor) HasOutput(typ OutputType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.outputs {
		if o.cfg.OutputType() == typ {
			return true
		}
	}
	return false
}

// OutputActive reports whether the output of the given type has started.
func (p *Processor) OutputActive(typ OutputType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, o := range p.outputs {
		if o.cfg.OutputType() == typ {
			return o.active
		}
	}
	return false
}

// FramesProcessed returns the dispatch counter.
func (p *Processor) FramesProcessed() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.framesProcessed
}

func (p *Processor) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
