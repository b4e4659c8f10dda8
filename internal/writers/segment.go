// Package writers provides filesystem-backed segment sinks. Packets are
// appended verbatim to rotating segment files; rotation happens on the
// first keyframe past the segment boundary so every segment is decodable
// from its start.
package writers

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/smazurov/nvrnode/internal/media"
	"github.com/smazurov/nvrnode/internal/streams"
)

// DefaultSegmentSeconds is used when a stream config gives no duration.
const DefaultSegmentSeconds = 4

// SegmentWriter appends packets to rotating files under one directory and
// keeps an index of finished segments.
type SegmentWriter struct {
	dir            string
	streamName     string
	ext            string
	segmentSeconds int

	mu           sync.Mutex
	file         *os.File
	segmentStart time.Time
	segmentIndex int
	closed       bool
}

// NewHLS returns a sink writing transport-stream style segments.
func NewHLS(path, streamName string, segmentSeconds int) (streams.Sink, error) {
	return newSegmentWriter(path, streamName, ".ts", segmentSeconds)
}

// NewMP4 returns a sink writing recording segments.
func NewMP4(path, streamName string, segmentSeconds int) (streams.Sink, error) {
	return newSegmentWriter(path, streamName, ".mp4", segmentSeconds)
}

func newSegmentWriter(dir, streamName, ext string, segmentSeconds int) (*SegmentWriter, error) {
	if dir == "" {
		return nil, fmt.Errorf("segment writer for %s: empty output path", streamName)
	}
	if segmentSeconds <= 0 {
		segmentSeconds = DefaultSegmentSeconds
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("segment writer for %s: %w", streamName, err)
	}
	return &SegmentWriter{
		dir:            dir,
		streamName:     streamName,
		ext:            ext,
		segmentSeconds: segmentSeconds,
	}, nil
}

// WritePacket appends the packet to the current segment, rotating first
// when the segment duration has elapsed and the packet is a keyframe.
func (w *SegmentWriter) WritePacket(pkt *media.Packet, _ media.StreamInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("segment writer for %s is closed", w.streamName)
	}

	boundary := time.Duration(w.segmentSeconds) * time.Second
	if w.file == nil || (pkt.Keyframe && time.Since(w.segmentStart) >= boundary) {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	if _, err := w.file.Write(pkt.Data); err != nil {
		return fmt.Errorf("segment write for %s: %w", w.streamName, err)
	}
	return nil
}

// rotateLocked closes the current segment, records it in the index, and
// opens the next one.
func (w *SegmentWriter) rotateLocked() error {
	if w.file != nil {
		finished := w.file.Name()
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("segment close for %s: %w", w.streamName, err)
		}
		w.file = nil
		if err := w.appendIndexLocked(finished); err != nil {
			return err
		}
	}

	w.segmentIndex++
	name := fmt.Sprintf("%s-%05d%s", w.streamName, w.segmentIndex, w.ext)
	f, err := os.OpenFile(filepath.Join(w.dir, name),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("segment open for %s: %w", w.streamName, err)
	}
	w.file = f
	w.segmentStart = time.Now()
	return nil
}

func (w *SegmentWriter) appendIndexLocked(segmentPath string) error {
	indexPath := filepath.Join(w.dir, w.streamName+".index")
	f, err := os.OpenFile(indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("segment index for %s: %w", w.streamName, err)
	}
	defer f.Close()

	line := fmt.Sprintf("%s %d\n", filepath.Base(segmentPath), w.segmentSeconds)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("segment index for %s: %w", w.streamName, err)
	}
	return nil
}

// Close finishes the current segment. Further writes fail.
func (w *SegmentWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.file != nil {
		finished := w.file.Name()
		err := w.file.Close()
		w.file = nil
		if err != nil {
			return fmt.Errorf("segment close for %s: %w", w.streamName, err)
		}
		return w.appendIndexLocked(finished)
	}
	return nil
}
