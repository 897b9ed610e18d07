package preroll

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// ErrAlreadyEnabled is returned by Enable when the stream already has
// a live ring.
var ErrAlreadyEnabled = errors.New("preroll: stream already enabled")

// ErrNotEnabled is returned by Disable and DrainFromLastKeyframe when
// the stream has no live ring.
var ErrNotEnabled = errors.New("preroll: stream not enabled")

// Buffer owns every stream's pre-roll Ring. A TriggerController
// (internal/detect) calls DrainFromLastKeyframe when a detection starts;
// it does not pass the returned packets to the Mp4Segmenter, so no
// segment contains footage from before the event fired.
type Buffer struct {
	logger *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamRing
}

// NewBuffer creates an empty Buffer. logger may be nil.
func NewBuffer(logger *slog.Logger) *Buffer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{logger: logger, streams: make(map[string]*streamRing)}
}

// Enable starts buffering stream's packets, sized for preRollSec
// seconds of video at fps.
func (b *Buffer) Enable(ctx context.Context, stream string, bus *packetbus.Bus, preRollSec time.Duration, fps float64) error {
	b.mu.Lock()
	if _, exists := b.streams[stream]; exists {
		b.mu.Unlock()
		return ErrAlreadyEnabled
	}
	b.mu.Unlock()

	sub := bus.Subscribe("preroll", packetbus.DefaultQueueSize, packetbus.OverwriteOldestRing)
	sr := &streamRing{
		stream: stream,
		ring:   NewRing(preRollSec, fps),
		sub:    sub,
		logger: b.logger,
	}

	b.mu.Lock()
	b.streams[stream] = sr
	b.mu.Unlock()

	sr.start(ctx)
	return nil
}

// Disable stops buffering stream and discards its ring contents.
func (b *Buffer) Disable(stream string) error {
	b.mu.Lock()
	sr, ok := b.streams[stream]
	if ok {
		delete(b.streams, stream)
	}
	b.mu.Unlock()

	if !ok {
		return ErrNotEnabled
	}
	sr.stop()
	return nil
}

// DrainFromLastKeyframe returns stream's buffered packets from the
// keyframe at or before now-preRollSec onward, for seeding a
// detection-triggered segment.
func (b *Buffer) DrainFromLastKeyframe(stream string, now time.Time) ([]packetbus.Packet, error) {
	b.mu.Lock()
	sr, ok := b.streams[stream]
	b.mu.Unlock()
	if !ok {
		return nil, ErrNotEnabled
	}
	return sr.drain(now), nil
}

// DisableAll stops buffering every stream; used during process
// shutdown.
func (b *Buffer) DisableAll() {
	b.mu.Lock()
	streams := make([]*streamRing, 0, len(b.streams))
	for _, sr := range b.streams {
		streams = append(streams, sr)
	}
	b.streams = make(map[string]*streamRing)
	b.mu.Unlock()

	for _, sr := range streams {
		sr.stop()
	}
}

// streamRing drains one stream's subscription into its Ring on a
// dedicated goroutine, the same shape as hls.streamWriter and
// mp4.segmentWriter's subscription loops.
type streamRing struct {
	stream string
	logger *slog.Logger

	sub    *packetbus.Subscription
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	ring *Ring
}

func (sr *streamRing) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sr.cancel = cancel
	sr.done = make(chan struct{})
	go sr.run(runCtx)
}

func (sr *streamRing) run(ctx context.Context) {
	defer close(sr.done)
	for {
		pkt, err := sr.sub.Next(ctx)
		if err != nil {
			return
		}
		sr.mu.Lock()
		sr.ring.Push(pkt, time.Now())
		sr.mu.Unlock()
	}
}

func (sr *streamRing) drain(now time.Time) []packetbus.Packet {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	return sr.ring.DrainFromLastKeyframe(now)
}

func (sr *streamRing) stop() {
	if sr.cancel != nil {
		sr.cancel()
	}
	sr.sub.Unsubscribe()
	if sr.done != nil {
		<-sr.done
	}
	sr.mu.Lock()
	sr.ring.Clear()
	sr.mu.Unlock()
	sr.logger.Debug("preroll: stream disabled", slog.String("stream", sr.stream))
}
