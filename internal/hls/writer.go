// Package hls maintains one live HLS directory per stream: a rolling
// playlist plus numbered MPEG-TS segment files, re-muxed on the fly
// from a packetbus.Bus's H.264 access units.
package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// DefaultPlaylistSize is the number of segments a playlist names at
// once (spec default N=6).
const DefaultPlaylistSize = 6

// ErrAlreadyEnabled is returned by Enable when the stream already has
// a live writer.
var ErrAlreadyEnabled = errors.New("hls: stream already enabled")

// ErrNotEnabled is returned by Disable, PlaylistPath, and SegmentPath
// when the stream has no live writer.
var ErrNotEnabled = errors.New("hls: stream not enabled")

// Writer owns every stream's live HLS output under one root directory.
type Writer struct {
	root         string
	playlistSize int
	logger       *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamWriter
}

// NewWriter creates a Writer rooted at root (typically
// "<storage_root>/hls"). logger may be nil.
func NewWriter(root string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		root:         root,
		playlistSize: DefaultPlaylistSize,
		logger:       logger,
		streams:      make(map[string]*streamWriter),
	}
}

// Enable starts a live HLS writer for stream, subscribing to bus and
// re-segmenting at segmentSec boundaries.
func (w *Writer) Enable(ctx context.Context, stream string, bus *packetbus.Bus, segmentSec int) error {
	w.mu.Lock()
	if _, exists := w.streams[stream]; exists {
		w.mu.Unlock()
		return ErrAlreadyEnabled
	}
	w.mu.Unlock()

	dir := filepath.Join(w.root, stream)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("hls: creating stream directory: %w", err)
	}

	sub := bus.Subscribe("hls", packetbus.DefaultQueueSize, packetbus.DropOldestAfterBlock)
	sw := newStreamWriter(stream, dir, segmentSec, w.playlistSize, sub, w.logger)

	w.mu.Lock()
	w.streams[stream] = sw
	w.mu.Unlock()

	sw.start(ctx)
	return nil
}

// Disable stops the writer for stream and leaves its last playlist
// and segments on disk; it does not delete them.
func (w *Writer) Disable(stream string) error {
	w.mu.Lock()
	sw, ok := w.streams[stream]
	if ok {
		delete(w.streams, stream)
	}
	w.mu.Unlock()

	if !ok {
		return ErrNotEnabled
	}
	sw.stop()
	return nil
}

// PlaylistPath returns the on-disk path of stream's playlist.
func (w *Writer) PlaylistPath(stream string) (string, error) {
	w.mu.Lock()
	sw, ok := w.streams[stream]
	w.mu.Unlock()
	if !ok {
		return "", ErrNotEnabled
	}
	return sw.playlistPath(), nil
}

// SegmentPath returns the on-disk path of one of stream's segment
// files by sequence number.
func (w *Writer) SegmentPath(stream string, sequence uint64) (string, error) {
	w.mu.Lock()
	sw, ok := w.streams[stream]
	w.mu.Unlock()
	if !ok {
		return "", ErrNotEnabled
	}
	return sw.segmentPath(sequence), nil
}

// DisableAll stops every live writer; used during process shutdown.
func (w *Writer) DisableAll() {
	w.mu.Lock()
	streams := make([]*streamWriter, 0, len(w.streams))
	for _, sw := range w.streams {
		streams = append(streams, sw)
	}
	w.streams = make(map[string]*streamWriter)
	w.mu.Unlock()

	for _, sw := range streams {
		sw.stop()
	}
}
