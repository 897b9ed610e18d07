package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// streamWriter owns one stream's live HLS directory: it consumes
// packets from a subscription, re-muxes video access units into
// numbered .ts segments, and keeps a rolling playlist in sync.
type streamWriter struct {
	stream       string
	dir          string
	segmentSec   int
	playlistSize int
	logger       *slog.Logger

	sub    *packetbus.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	entries     []playlistEntry
	nextSeq     uint64
	preRollDrop uint64
}

func newStreamWriter(stream, dir string, segmentSec, playlistSize int, sub *packetbus.Subscription, logger *slog.Logger) *streamWriter {
	return &streamWriter{
		stream:       stream,
		dir:          dir,
		segmentSec:   segmentSec,
		playlistSize: playlistSize,
		logger:       logger,
		sub:          sub,
		done:         make(chan struct{}),
	}
}

func (sw *streamWriter) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	go sw.run(runCtx)
}

func (sw *streamWriter) stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

// segmentState tracks the muxer and timing for the segment currently
// being written.
type segmentState struct {
	muxer      *tsMuxer
	sequence   uint64
	startWall  time.Time
	startPTS   time.Duration
	expectPTS  time.Duration
	discont    bool
	wroteFrame bool
}

func (sw *streamWriter) run(ctx context.Context) {
	defer close(sw.done)
	defer sw.sub.Unsubscribe()

	var cur *segmentState

	for {
		pkt, err := sw.sub.Next(ctx)
		if err != nil {
			if cur != nil {
				sw.closeSegment(cur)
			}
			return
		}

		if pkt.Codec != "h264" {
			continue
		}

		if cur == nil {
			if !pkt.Keyframe {
				sw.mu.Lock()
				sw.preRollDrop++
				sw.mu.Unlock()
				continue
			}
			cur = sw.openSegment(pkt)
			continue
		}

		if discontinuous(cur, pkt, sw.segmentSec) {
			sw.closeSegment(cur)
			cur = nil
			if !pkt.Keyframe {
				continue
			}
			next := sw.openSegment(pkt)
			next.discont = true
			cur = next
			continue
		}

		if pkt.Keyframe && time.Since(cur.startWall) >= time.Duration(sw.segmentSec)*time.Second {
			sw.closeSegment(cur)
			cur = sw.openSegment(pkt)
			continue
		}

		sw.writeFrame(cur, pkt)
	}
}

func (sw *streamWriter) openSegment(pkt packetbus.Packet) *segmentState {
	muxer, err := newTSMuxer()
	if err != nil {
		sw.logger.Error("hls: opening segment muxer failed", "stream", sw.stream, "error", err)
	}

	sw.mu.Lock()
	seq := sw.nextSeq
	sw.nextSeq++
	sw.mu.Unlock()

	st := &segmentState{
		muxer:     muxer,
		sequence:  seq,
		startWall: time.Now(),
		startPTS:  pkt.PTS,
		expectPTS: pkt.PTS,
	}
	sw.writeFrame(st, pkt)
	return st
}

func (sw *streamWriter) writeFrame(st *segmentState, pkt packetbus.Packet) {
	if st.muxer == nil {
		return
	}
	pts := toPTS90k(pkt.PTS)
	dts := pts
	if pkt.DTS != 0 {
		dts = toPTS90k(pkt.DTS)
	}
	if err := st.muxer.WriteVideo(pts, dts, pkt.Data); err != nil {
		sw.logger.Warn("hls: write video access unit failed", "stream", sw.stream, "error", err)
		return
	}
	st.wroteFrame = true
	st.expectPTS = pkt.PTS
}

func (sw *streamWriter) closeSegment(st *segmentState) {
	if st == nil || st.muxer == nil || !st.wroteFrame {
		return
	}

	duration := time.Since(st.startWall).Seconds()
	path := sw.segmentPath(st.sequence)

	if err := writeSegmentAtomic(path, st.muxer.Bytes()); err != nil {
		sw.logger.Error("hls: write segment failed", "stream", sw.stream, "segment", st.sequence, "error", err)
		return
	}

	sw.mu.Lock()
	sw.entries = append(sw.entries, playlistEntry{
		sequence:      st.sequence,
		duration:      duration,
		discontinuity: st.discont,
	})

	var evicted []playlistEntry
	if len(sw.entries) > sw.playlistSize {
		evicted = append(evicted, sw.entries[:len(sw.entries)-sw.playlistSize]...)
		sw.entries = sw.entries[len(sw.entries)-sw.playlistSize:]
	}
	entriesCopy := append([]playlistEntry(nil), sw.entries...)
	sw.mu.Unlock()

	text := renderPlaylist(entriesCopy, sw.segmentSec)
	if err := writePlaylistAtomic(sw.playlistPath(), text); err != nil {
		sw.logger.Error("hls: write playlist failed", "stream", sw.stream, "error", err)
		return
	}

	for _, e := range evicted {
		if err := os.Remove(sw.segmentPath(e.sequence)); err != nil && !errors.Is(err, os.ErrNotExist) {
			sw.logger.Warn("hls: evict old segment failed", "stream", sw.stream, "segment", e.sequence, "error", err)
		}
	}
}

func (sw *streamWriter) segmentPath(sequence uint64) string {
	return filepath.Join(sw.dir, segmentFileName(sequence))
}

func (sw *streamWriter) playlistPath() string {
	return filepath.Join(sw.dir, "index.m3u8")
}

// discontinuous reports whether pkt's PTS has jumped further from the
// current segment's expected PTS than 2x the configured segment
// duration, the threshold named in the segmentation policy for
// closing a segment immediately rather than waiting for its scheduled
// boundary.
func discontinuous(cur *segmentState, pkt packetbus.Packet, segmentSec int) bool {
	delta := pkt.PTS - cur.expectPTS
	if delta < 0 {
		delta = -delta
	}
	threshold := 2 * time.Duration(segmentSec) * time.Second
	return delta > threshold
}

func toPTS90k(d time.Duration) int64 {
	return int64(d * 90000 / time.Second)
}

func writeSegmentAtomic(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending segment file: %w", err)
	}
	defer pending.Cleanup()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}
