package detect

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/preroll"
	"github.com/lightnvr/lightnvr/internal/repository"
)

// bboxString renders a Box's normalized coordinates as the compact
// "x,y,w,h" form models.DetectionLabel.BBox stores.
func bboxString(b Box) string {
	return fmt.Sprintf("%.4f,%.4f,%.4f,%.4f", b.X, b.Y, b.W, b.H)
}

// State is a stream's position in the detection trigger state machine.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// segmenter is the slice of mp4.Segmenter the trigger controller
// drives; expressed as an interface so this package never imports
// internal/mp4 directly and tests can substitute a fake.
type segmenter interface {
	ExtendActive(stream string, extra time.Duration) error
	CloseActive(stream string) error
}

type triggerState struct {
	mu          sync.Mutex
	state       State
	activeUntil time.Time
}

// TriggerController evaluates whether a detection fires (confidence and
// object filter) and drives the Idle/Active state machine tabulated in
// the detection design: draining the pre-roll buffer and extending the
// active segment on the rising edge, extending again on every
// subsequent detection, and signalling the segmenter to close once
// active_until elapses.
type TriggerController struct {
	segmenter     segmenter
	preroll       *preroll.Buffer
	publisher     EventPublisher
	detectionRepo repository.DetectionRepository
	logger        *slog.Logger

	mu      sync.Mutex
	streams map[string]*triggerState
}

// NewTriggerController wires a TriggerController. publisher must not be
// nil; use NewLoggingPublisher for the default fire-and-forget behavior.
// detectionRepo may be nil, in which case detections are published but
// not persisted (useful in tests).
func NewTriggerController(segmenter segmenter, prerollBuf *preroll.Buffer, publisher EventPublisher, detectionRepo repository.DetectionRepository, logger *slog.Logger) *TriggerController {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerController{
		segmenter:     segmenter,
		preroll:       prerollBuf,
		publisher:     publisher,
		detectionRepo: detectionRepo,
		logger:        logger,
		streams:       make(map[string]*triggerState),
	}
}

// Evaluate reports whether boxes contains a detection that fires, given
// threshold and an optional object filter (empty filter accepts every
// label).
func Evaluate(boxes []Box, threshold float64, filter models.ObjectFilter) []Box {
	var fired []Box
	for _, b := range boxes {
		if b.Confidence < threshold {
			continue
		}
		if !filter.Contains(b.Label) {
			continue
		}
		fired = append(fired, b)
	}
	return fired
}

// OnDetection processes a firing detection for stream: on the Idle→Active
// edge it calls the pre-roll buffer's DrainFromLastKeyframe and discards
// the result, so pre-roll packets are not written into any segment; on
// every firing detection it extends the current segment and pushes
// active_until forward.
// Labels are persisted and the event is published best-effort; neither
// failure aborts the state transition.
func (c *TriggerController) OnDetection(ctx context.Context, stream string, now time.Time, postRollSec time.Duration, boxes []Box) error {
	st := c.stateFor(stream)

	st.mu.Lock()
	rising := st.state == StateIdle
	st.state = StateActive
	next := now.Add(postRollSec)
	if next.After(st.activeUntil) {
		st.activeUntil = next
	}
	st.mu.Unlock()

	if rising && c.preroll != nil {
		if _, err := c.preroll.DrainFromLastKeyframe(stream, now); err != nil {
			c.logger.Debug("detect: no pre-roll buffer to drain", slog.String("stream", stream), slog.String("error", err.Error()))
		}
	}

	if err := c.segmenter.ExtendActive(stream, postRollSec); err != nil {
		c.logger.Warn("detect: extend active segment failed", slog.String("stream", stream), slog.String("error", err.Error()))
	}

	c.recordLabels(ctx, stream, now, boxes)
	c.publish(ctx, stream, now, boxes)
	return nil
}

// Sweep closes out any stream whose active_until has elapsed, the
// "Active, now >= active_until" row of the state table. Intended to be
// called on the same cadence as detection sampling.
func (c *TriggerController) Sweep(now time.Time) {
	c.mu.Lock()
	streams := make(map[string]*triggerState, len(c.streams))
	for k, v := range c.streams {
		streams[k] = v
	}
	c.mu.Unlock()

	for stream, st := range streams {
		st.mu.Lock()
		expired := st.state == StateActive && !now.Before(st.activeUntil)
		if expired {
			st.state = StateIdle
		}
		st.mu.Unlock()

		if expired {
			if err := c.segmenter.CloseActive(stream); err != nil {
				c.logger.Warn("detect: close active segment failed", slog.String("stream", stream), slog.String("error", err.Error()))
			}
		}
	}
}

// OnStreamDisabled closes an Active stream immediately, for the
// "stream disabled / shutdown" row of the state table.
func (c *TriggerController) OnStreamDisabled(stream string) {
	st := c.stateFor(stream)

	st.mu.Lock()
	wasActive := st.state == StateActive
	st.state = StateIdle
	st.mu.Unlock()

	if wasActive {
		if err := c.segmenter.CloseActive(stream); err != nil {
			c.logger.Warn("detect: close active segment on disable failed", slog.String("stream", stream), slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	delete(c.streams, stream)
	c.mu.Unlock()
}

// StateOf returns stream's current state, defaulting to Idle for an
// unregistered stream.
func (c *TriggerController) StateOf(stream string) State {
	c.mu.Lock()
	st, ok := c.streams[stream]
	c.mu.Unlock()
	if !ok {
		return StateIdle
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.state
}

func (c *TriggerController) stateFor(stream string) *triggerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.streams[stream]
	if !ok {
		st = &triggerState{}
		c.streams[stream] = st
	}
	return st
}

func (c *TriggerController) recordLabels(ctx context.Context, stream string, now time.Time, boxes []Box) {
	if c.detectionRepo == nil {
		return
	}
	for _, b := range boxes {
		label := &models.DetectionLabel{
			Stream:     stream,
			WallTime:   models.Time(now),
			Label:      b.Label,
			Confidence: b.Confidence,
			BBox:       bboxString(b),
			TrackID:    b.TrackID,
		}
		if err := c.detectionRepo.Create(ctx, label); err != nil {
			c.logger.Warn("detect: persisting detection label failed", slog.String("stream", stream), slog.String("error", err.Error()))
		}
	}
}

func (c *TriggerController) publish(ctx context.Context, stream string, now time.Time, boxes []Box) {
	items := make([]models.EventItem, len(boxes))
	for i, b := range boxes {
		items[i] = models.EventItem{
			Label:      b.Label,
			Confidence: b.Confidence,
			BBox:       bboxString(b),
			TrackID:    b.TrackID,
		}
	}
	event := models.Event{Stream: stream, Timestamp: models.Time(now), Detections: items}
	if err := c.publisher.Publish(ctx, event); err != nil {
		c.logger.Debug("detect: publishing detection event failed", slog.String("stream", stream), slog.String("error", err.Error()))
	}
}
