package rtsp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/lightnvr/lightnvr/internal/codec"
	"github.com/lightnvr/lightnvr/internal/ingest"
	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// Source is an ingest.Source backed by a Client pulling TCP-interleaved
// RTSP. One Source owns one camera connection for its lifetime; a new
// Source is created on every reconnect attempt by the owning worker.
type Source struct {
	logger      *slog.Logger
	reconnector *ingest.Reconnector

	mu     sync.Mutex
	client *Client
	depkt  *H264Depacketizer
	bus    *packetbus.Bus
	stream string
	seq    uint64

	// clockRate, haveBaseline, and baseline convert the video track's
	// raw RTP timestamps into wall-clock-relative PTS durations: the
	// first frame's timestamp becomes the zero point, and later deltas
	// are computed with 32-bit wraparound-safe signed arithmetic.
	clockRate    uint32
	haveBaseline bool
	baseline     uint32

	cancel context.CancelFunc
	runErr chan error
}

// NewSource creates a Source. logger may be nil.
func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		logger:      logger,
		reconnector: ingest.NewReconnector(ingest.DefaultBackoffConfig()),
		runErr:      make(chan error, 1),
	}
}

// Start connects, negotiates tracks, and sends PLAY. Run then reads the
// interleaved stream until it ends.
func (s *Source) Start(ctx context.Context, cfg *models.StreamConfig, bus *packetbus.Bus) error {
	connectCtx, cancel := context.WithTimeout(ctx, ingest.ConnectTimeout)
	defer cancel()

	client := NewClient(cfg.URL)
	if err := client.Connect(connectCtx); err != nil {
		return wrapConnectError(err)
	}

	hasVideo := false
	for _, track := range client.Tracks {
		if track.MediaType == "video" {
			hasVideo = true
			if err := checkVideoCodec(track); err != nil {
				_ = client.Close()
				return err
			}
			break
		}
	}
	if !hasVideo {
		_ = client.Close()
		return ingest.ErrNoVideoStream
	}

	if err := client.SetupTracks(); err != nil {
		_ = client.Close()
		return fmt.Errorf("setup tracks: %w", err)
	}
	if err := client.Play(); err != nil {
		_ = client.Close()
		return fmt.Errorf("play: %w", err)
	}

	depkt := NewH264Depacketizer()

	s.mu.Lock()
	s.client = client
	s.depkt = depkt
	s.bus = bus
	s.stream = cfg.Name
	s.mu.Unlock()

	var videoChannel byte
	clockRate := uint32(defaultClockRate)
	for ch, track := range client.Tracks {
		if track.MediaType == "video" {
			videoChannel = ch
			if track.ClockRate != 0 {
				clockRate = track.ClockRate
			}
			break
		}
	}

	s.mu.Lock()
	s.clockRate = clockRate
	s.mu.Unlock()

	depkt.OnFrame = func(frame []byte, keyframe bool, timestamp uint32) {
		s.publish(frame, keyframe, timestamp)
	}
	client.OnRTPPacket = func(channel byte, pkt *rtp.Packet) {
		if channel != videoChannel {
			return
		}
		if err := depkt.Process(pkt); err != nil {
			s.logger.Warn("h264 depacketize error", "stream", cfg.Name, "error", err)
		}
	}

	s.reconnector.RecordSuccess()
	return nil
}

// Run blocks reading RTP until ctx is cancelled or the connection ends.
func (s *Source) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.cancel = cancel
	client := s.client
	s.mu.Unlock()

	if client == nil {
		cancel()
		return fmt.Errorf("ingest/rtsp: Run called before Start")
	}

	err := client.ReadPackets(runCtx)
	cancel()
	return err
}

// Stop tears down the connection, waiting up to ingest.StopGrace.
func (s *Source) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	client := s.client
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if client == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- client.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(ingest.StopGrace):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe connects and describes a candidate URL without starting PLAY,
// satisfying ingest.Prober for the "test this camera" API surface.
func (s *Source) Probe(ctx context.Context, rawURL string, protocol models.Protocol) (ingest.ProbeResult, error) {
	client := NewClient(rawURL)
	if err := client.Connect(ctx); err != nil {
		return ingest.ProbeResult{}, wrapConnectError(err)
	}
	defer client.Close()

	for _, track := range client.Tracks {
		if track.MediaType == "video" {
			if err := checkVideoCodec(track); err != nil {
				return ingest.ProbeResult{}, err
			}
			return ingest.ProbeResult{Codec: "h264"}, nil
		}
	}
	return ingest.ProbeResult{}, ingest.ErrNoVideoStream
}

// checkVideoCodec rejects a video track whose advertised encoding is
// recognized and is not H.264, which is the only codec this source's
// depacketizer understands. A track with no rtpmap (a static payload
// type, or a camera that omits it) is assumed to be H.264 since that is
// what every camera this source has ever been pointed at actually sends.
func checkVideoCodec(track *Track) error {
	if track.EncodingName == "" {
		return nil
	}
	v, ok := codec.ParseVideo(track.EncodingName)
	if !ok || v == codec.VideoH264 {
		return nil
	}
	return fmt.Errorf("%w: camera advertises unsupported video codec %q", ingest.ErrFatalSource, v)
}

// publish converts timestamp, the raw RTP clock ticks shared by every
// packet of this access unit, into a PTS relative to the session's
// first frame and forwards the packet to the bus. The conversion uses
// signed 32-bit arithmetic so a wrapped RTP timestamp still produces
// the correct small delta.
func (s *Source) publish(frame []byte, keyframe bool, timestamp uint32) {
	s.mu.Lock()
	bus := s.bus
	stream := s.stream
	s.seq++
	seq := s.seq
	clockRate := s.clockRate
	if !s.haveBaseline {
		s.baseline = timestamp
		s.haveBaseline = true
	}
	delta := int32(timestamp - s.baseline)
	s.mu.Unlock()

	if bus == nil {
		return
	}

	pts := time.Duration(delta) * time.Second / time.Duration(clockRate)

	bus.Publish(packetbus.Packet{
		Stream:   stream,
		Sequence: seq,
		PTS:      pts,
		Data:     frame,
		Keyframe: keyframe,
		Codec:    "h264",
	})
}

// wrapConnectError reports whether err should be treated as fatal
// (never retried) or transient (eligible for reconnect backoff).
// Authentication and malformed-URL failures, signalled by the server
// with a non-2xx status, are fatal; everything else — refused
// connections, timeouts, resets — is transient and left unwrapped.
func wrapConnectError(err error) error {
	if errors.Is(err, ErrUnexpectedStatus) {
		return fmt.Errorf("%w: %w", ingest.ErrFatalSource, err)
	}
	return err
}
