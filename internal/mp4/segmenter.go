// Package mp4 writes each stream's continuous recording as a sequence
// of finalized (progressive, non-fragmented) MP4 files under
// <storage_root>/mp4/<stream>/<YYYY>/<MM>/<DD>/<HHMMSS>.mp4, indexing
// each closed file as a RecordingRow.
package mp4

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
	"github.com/lightnvr/lightnvr/internal/repository"
)

// ErrAlreadyStarted is returned by Start when the stream already has a
// live segmenter.
var ErrAlreadyStarted = errors.New("mp4: stream already started")

// ErrNotStarted is returned by Stop and CurrentSegment when the stream
// has no live segmenter.
var ErrNotStarted = errors.New("mp4: stream not started")

// ThumbnailGenerator decodes one keyframe of a closed segment into a
// still image. Full H.264 decode is out of scope for a re-mux-only
// core, so the real implementation is an external collaborator; the
// core only defines the seam and calls it best-effort after a segment
// closes.
type ThumbnailGenerator interface {
	GenerateThumbnail(keyframeNALUs [][]byte) ([]byte, error)
}

// Segmenter owns every stream's live MP4 writer.
type Segmenter struct {
	root      string
	thumbRoot string
	repo      repository.RecordingRepository
	thumbs    ThumbnailGenerator
	logger    *slog.Logger

	mu      sync.Mutex
	streams map[string]*segmentWriter
}

// NewSegmenter creates a Segmenter rooted at root (typically
// "<storage_root>/mp4"), writing thumbnails under thumbRoot. repo and
// thumbs may be nil; a nil repo skips indexing (used by tests), a nil
// thumbs skips thumbnail generation.
func NewSegmenter(root, thumbRoot string, repo repository.RecordingRepository, thumbs ThumbnailGenerator, logger *slog.Logger) *Segmenter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Segmenter{
		root:      root,
		thumbRoot: thumbRoot,
		repo:      repo,
		thumbs:    thumbs,
		logger:    logger,
		streams:   make(map[string]*segmentWriter),
	}
}

// Start begins writing segments for stream, rotating every segmentSec
// seconds (§4.4 default 900).
func (s *Segmenter) Start(ctx context.Context, stream string, bus *packetbus.Bus, segmentSec int) error {
	s.mu.Lock()
	if _, exists := s.streams[stream]; exists {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	sub := bus.Subscribe("mp4", packetbus.DefaultQueueSize, packetbus.DropOldestAfterBlock)
	sw := newSegmentWriter(stream, s.root, s.thumbRoot, segmentSec, s.repo, s.thumbs, s.logger, sub)

	s.mu.Lock()
	s.streams[stream] = sw
	s.mu.Unlock()

	sw.start(ctx)
	return nil
}

// Stop closes out the current segment (indexing it like any other
// rotation) and stops writing for stream.
func (s *Segmenter) Stop(stream string) error {
	s.mu.Lock()
	sw, ok := s.streams[stream]
	if ok {
		delete(s.streams, stream)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotStarted
	}
	sw.stop()
	return nil
}

// CurrentSegment reports the segment presently being written, or nil
// if none has opened yet.
func (s *Segmenter) CurrentSegment(stream string) (*Segment, error) {
	s.mu.Lock()
	sw, ok := s.streams[stream]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotStarted
	}
	return sw.currentSegment(), nil
}

// ExtendActive pushes out the close deadline of stream's current
// segment by extra, used by the detection trigger controller's
// Active state to keep recording through a post-roll window
// (spec §4.6) instead of rotating on the schedule alone.
func (s *Segmenter) ExtendActive(stream string, extra time.Duration) error {
	s.mu.Lock()
	sw, ok := s.streams[stream]
	s.mu.Unlock()
	if !ok {
		return ErrNotStarted
	}
	sw.extendActive(extra)
	return nil
}

// CloseActive cancels stream's detection extension, used when the
// trigger controller returns to Idle: the current segment then rotates
// at the first keyframe once its scheduled length has elapsed, and a
// segment younger than that stays open.
func (s *Segmenter) CloseActive(stream string) error {
	s.mu.Lock()
	sw, ok := s.streams[stream]
	s.mu.Unlock()
	if !ok {
		return ErrNotStarted
	}
	sw.requestClose()
	return nil
}

// StopAll stops every live segmenter; used during process shutdown.
func (s *Segmenter) StopAll() {
	s.mu.Lock()
	streams := make([]*segmentWriter, 0, len(s.streams))
	for _, sw := range s.streams {
		streams = append(streams, sw)
	}
	s.streams = make(map[string]*segmentWriter)
	s.mu.Unlock()

	for _, sw := range streams {
		sw.stop()
	}
}

// segmentWriter owns one stream's live MP4 output: it consumes packets
// from a subscription, buffers access units into a progressiveMuxer,
// and finalizes+indexes a file every rotation.
type segmentWriter struct {
	stream     string
	root       string
	thumbRoot  string
	segmentSec int
	repo       repository.RecordingRepository
	thumbs     ThumbnailGenerator
	logger     *slog.Logger

	sub    *packetbus.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	nextSeq     uint64
	extendUntil time.Time
	closeNow    bool
	current     *Segment
}

func newSegmentWriter(stream, root, thumbRoot string, segmentSec int, repo repository.RecordingRepository, thumbs ThumbnailGenerator, logger *slog.Logger, sub *packetbus.Subscription) *segmentWriter {
	return &segmentWriter{
		stream:     stream,
		root:       root,
		thumbRoot:  thumbRoot,
		segmentSec: segmentSec,
		repo:       repo,
		thumbs:     thumbs,
		logger:     logger,
		sub:        sub,
		done:       make(chan struct{}),
	}
}

func (sw *segmentWriter) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	go sw.run(runCtx)
}

func (sw *segmentWriter) stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

func (sw *segmentWriter) currentSegment() *Segment {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.current == nil {
		return nil
	}
	cp := *sw.current
	return &cp
}

func (sw *segmentWriter) extendActive(extra time.Duration) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	until := time.Now().Add(extra)
	if until.After(sw.extendUntil) {
		sw.extendUntil = until
	}
}

func (sw *segmentWriter) requestClose() {
	sw.mu.Lock()
	sw.closeNow = true
	sw.mu.Unlock()
}

// activeState tracks the muxer and timing for the segment currently
// being written.
type activeState struct {
	muxer      *progressiveMuxer
	sequence   uint64
	path       string
	startWall  time.Time
	trigger    models.TriggerKind
	thumbNALUs [][]byte
	expectPTS  time.Duration
}

func (sw *segmentWriter) run(ctx context.Context) {
	defer close(sw.done)
	defer sw.sub.Unsubscribe()

	var cur *activeState

	for {
		pkt, err := sw.sub.Next(ctx)
		if err != nil {
			if cur != nil {
				sw.closeSegment(ctx, cur)
			}
			return
		}

		if pkt.Codec != "h264" {
			continue
		}

		if cur == nil {
			if !pkt.Keyframe {
				continue
			}
			cur = sw.openSegment(pkt)
			continue
		}

		if discontinuous(cur, pkt, sw.segmentSec) {
			sw.closeSegment(ctx, cur)
			cur = nil
			if !pkt.Keyframe {
				continue
			}
			cur = sw.openSegment(pkt)
			continue
		}

		if pkt.Keyframe && sw.boundaryReached(cur) {
			sw.closeSegment(ctx, cur)
			cur = sw.openSegment(pkt)
			continue
		}

		sw.writeSample(cur, pkt)
	}
}

// discontinuous reports whether pkt's PTS has jumped further from the
// current segment's expected PTS than 2x the configured segment
// duration, the threshold named in the segmentation policy for closing
// a segment immediately rather than waiting for its scheduled boundary
// or keyframe alignment. Mirrors internal/hls/stream_writer.go's check
// of the same name for the live HLS output.
func discontinuous(cur *activeState, pkt packetbus.Packet, segmentSec int) bool {
	delta := pkt.PTS - cur.expectPTS
	if delta < 0 {
		delta = -delta
	}
	threshold := 2 * time.Duration(segmentSec) * time.Second
	return delta > threshold
}

func (sw *segmentWriter) boundaryReached(cur *activeState) bool {
	sw.mu.Lock()
	forceClose := sw.closeNow
	extendUntil := sw.extendUntil
	sw.mu.Unlock()

	elapsed := time.Since(cur.startWall) >= time.Duration(sw.segmentSec)*time.Second
	if !elapsed {
		return false
	}
	if forceClose {
		return true
	}
	return time.Now().After(extendUntil)
}

func (sw *segmentWriter) openSegment(pkt packetbus.Packet) *activeState {
	sw.mu.Lock()
	seq := sw.nextSeq
	sw.nextSeq++
	extended := !sw.extendUntil.IsZero() && time.Now().Before(sw.extendUntil)
	sw.closeNow = false
	sw.extendUntil = time.Time{}
	sw.mu.Unlock()

	now := time.Now()
	path := sw.segmentPath(now)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		sw.logger.Error("mp4: creating segment directory failed", "stream", sw.stream, "error", err)
	}

	muxer, err := openProgressiveMuxer(path)
	if err != nil {
		sw.logger.Error("mp4: opening segment failed", "stream", sw.stream, "error", err)
	}

	trigger := models.TriggerSchedule
	if extended {
		trigger = models.TriggerDetection
	}

	st := &activeState{
		muxer:     muxer,
		sequence:  seq,
		path:      path,
		startWall: now,
		trigger:   trigger,
		expectPTS: pkt.PTS,
	}

	sw.mu.Lock()
	sw.current = &Segment{Stream: sw.stream, Sequence: seq, FilePath: path, WallStart: now}
	sw.mu.Unlock()

	sw.writeSample(st, pkt)
	return st
}

func (sw *segmentWriter) writeSample(st *activeState, pkt packetbus.Packet) {
	if st.muxer == nil {
		return
	}
	if err := st.muxer.AddSample(toPTS90k(pkt.PTS), pkt.Data, pkt.Keyframe); err != nil {
		sw.logger.Warn("mp4: write sample failed", "stream", sw.stream, "error", err)
	}
	st.expectPTS = pkt.PTS

	if pkt.Keyframe && st.thumbNALUs == nil {
		half := time.Duration(sw.segmentSec) * time.Second / 2
		if time.Since(st.startWall) >= half {
			st.thumbNALUs = splitAVCUnits(pkt.Data)
		}
	}
}

func (sw *segmentWriter) closeSegment(ctx context.Context, st *activeState) {
	if st == nil || st.muxer == nil {
		return
	}

	size, err := st.muxer.FinalizeContent()
	if err != nil {
		sw.logger.Warn("mp4: finalizing segment failed", "stream", sw.stream, "path", st.path, "error", err)
		st.muxer.Abort()
		return
	}

	wallEnd := time.Now()
	row := &models.RecordingRow{
		Stream:    sw.stream,
		FilePath:  st.path,
		WallStart: st.startWall,
		WallEnd:   wallEnd,
		SizeBytes: size,
		Trigger:   st.trigger,
	}

	if thumbPath, ok := sw.generateThumbnail(st); ok {
		row.ThumbnailPath = thumbPath
	}

	if sw.repo != nil {
		if err := sw.repo.Create(ctx, row); err != nil {
			sw.logger.Error("mp4: indexing segment failed", "stream", sw.stream, "path", st.path, "error", err)
			st.muxer.Abort()
			return
		}
	}

	if err := st.muxer.Commit(); err != nil {
		sw.logger.Error("mp4: committing segment failed", "stream", sw.stream, "path", st.path, "error", err)
		return
	}

	sw.mu.Lock()
	if sw.current != nil && sw.current.Sequence == st.sequence {
		sw.current.WallEnd = wallEnd
		sw.current.SizeBytes = size
	}
	sw.mu.Unlock()
}

// generateThumbnail best-effort decodes the segment's captured
// mid-point keyframe into a still image. Failure here never blocks
// indexing: a segment without a thumbnail is still a valid recording.
func (sw *segmentWriter) generateThumbnail(st *activeState) (string, bool) {
	if sw.thumbs == nil || st.thumbNALUs == nil || sw.thumbRoot == "" {
		return "", false
	}

	img, err := sw.thumbs.GenerateThumbnail(st.thumbNALUs)
	if err != nil {
		sw.logger.Warn("mp4: thumbnail generation failed", "stream", sw.stream, "path", st.path, "error", err)
		return "", false
	}

	path := filepath.Join(sw.thumbRoot, sw.stream, fmt.Sprintf("%d.jpg", st.sequence))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		sw.logger.Warn("mp4: creating thumbnail directory failed", "stream", sw.stream, "error", err)
		return "", false
	}
	if err := os.WriteFile(path, img, 0o644); err != nil {
		sw.logger.Warn("mp4: writing thumbnail failed", "stream", sw.stream, "error", err)
		return "", false
	}
	return path, true
}

func (sw *segmentWriter) segmentPath(t time.Time) string {
	return filepath.Join(
		sw.root, sw.stream,
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", t.Month()),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d%02d%02d.mp4", t.Hour(), t.Minute(), t.Second()),
	)
}

func toPTS90k(d time.Duration) int64 {
	return int64(d * mp4Timescale / time.Second)
}
