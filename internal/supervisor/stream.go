package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lightnvr/lightnvr/internal/detect"
	"github.com/lightnvr/lightnvr/internal/ingest"
	"github.com/lightnvr/lightnvr/internal/ingest/rtsp"
	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
	"github.com/lightnvr/lightnvr/internal/urlutil"
)

// streamRuntime is one camera's live state: the packet bus its ingest
// source publishes to, the reconnect loop driving that source, and the
// fan-out writers subscribed to the bus. Everything here is torn down
// together by stopStream.
type streamRuntime struct {
	cfg    *models.StreamConfig
	bus    *packetbus.Bus
	cancel context.CancelFunc
	done   chan struct{}
}

// newSource picks an ingest.Source implementation for cfg.URL's scheme.
// An http/https URL is read as MJPEG; anything else (bare rtsp:// or no
// scheme) is read as interleaved RTSP.
func newSource(cfg *models.StreamConfig, logger *slog.Logger) ingest.Source {
	switch urlutil.GetScheme(cfg.URL) {
	case "http", "https":
		return ingest.NewHTTPSource(logger)
	default:
		return rtsp.NewSource(logger)
	}
}

// startStream builds the bus and fan-out writers for cfg and launches
// its reconnect loop. Calling startStream twice for the same name
// replaces the prior runtime without stopping it first — callers must
// stopStream first.
func (s *Supervisor) startStream(parent context.Context, cfg *models.StreamConfig) {
	ctx, cancel := context.WithCancel(parent)
	bus := packetbus.New(cfg.Name, s.logger)

	rt := &streamRuntime{
		cfg:    cfg,
		bus:    bus,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	s.mu.Lock()
	s.streams[cfg.Name] = rt
	s.mu.Unlock()

	s.health.set(cfg.Name, func(st *StreamHealth) { st.State = StateConnecting })

	go func() {
		defer close(rt.done)
		s.runStream(ctx, cfg, bus)
	}()
}

// stopStream cancels and waits for the named stream's reconnect loop,
// then tears down every writer subscribed to its bus. A stream not
// currently running is a no-op.
func (s *Supervisor) stopStream(ctx context.Context, name string) {
	s.mu.Lock()
	rt, ok := s.streams[name]
	if ok {
		delete(s.streams, name)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	rt.cancel()
	select {
	case <-rt.done:
	case <-ctx.Done():
	}

	s.hls.Disable(name)
	s.mp4.Stop(name)
	s.preroll.Disable(name)
	if s.sampler != nil {
		s.sampler.Stop(name)
	}
	rt.bus.Close()
	s.health.remove(name)
}

// runStream is the reconnect loop: it owns one ingest.Source for its
// whole connect/read lifetime, replacing the Source on every failed
// attempt, and backs off between attempts per cfg's reconnect policy.
// It returns once ctx is cancelled.
func (s *Supervisor) runStream(ctx context.Context, cfg *models.StreamConfig, bus *packetbus.Bus) {
	backoff := ingest.BackoffConfig{
		Initial: time.Duration(s.cfg.Stream.ReconnectMinBackoff),
		Max:     time.Duration(s.cfg.Stream.ReconnectMaxBackoff),
		Jitter:  0.2,
	}
	reconnector := ingest.NewReconnector(backoff)

	for {
		if ctx.Err() != nil {
			return
		}

		src := newSource(cfg, s.logger)
		if err := src.Start(ctx, cfg, bus); err != nil {
			s.handleConnectFailure(ctx, cfg.Name, reconnector, err)
			continue
		}

		reconnector.RecordSuccess()
		s.onStreamConnected(ctx, cfg, bus)

		runErr := src.Run(ctx)
		_ = src.Stop(context.Background())
		s.stopFanout(cfg.Name)

		if ctx.Err() != nil {
			return
		}
		if runErr != nil {
			s.handleConnectFailure(ctx, cfg.Name, reconnector, runErr)
			continue
		}
		// Run returned cleanly (EOF, camera closed): handled like a
		// failure, so the loop waits out the next backoff step before
		// reconnecting, with ErrNoVideoStream as the logged error.
		s.handleConnectFailure(ctx, cfg.Name, reconnector, ingest.ErrNoVideoStream)
	}
}

// handleConnectFailure records the failure, waits out the backoff (or
// ctx cancellation), and returns. Fatal errors disable the stream
// outright instead of entering backoff.
func (s *Supervisor) handleConnectFailure(ctx context.Context, stream string, reconnector *ingest.Reconnector, err error) {
	if errors.Is(err, ingest.ErrFatalSource) {
		s.health.recordFatal(stream, err)
		s.logger.Error("stream disabled after fatal source error",
			slog.String("stream", stream), slog.Any("error", err))
		<-ctx.Done()
		return
	}

	delay := reconnector.RecordFailure()
	s.health.recordTransient(stream, err, time.Now().Add(delay))
	s.logger.Warn("ingest connect/run failed, backing off",
		slog.String("stream", stream), slog.Any("error", err),
		slog.Duration("delay", delay), slog.Int("attempt", reconnector.Attempts()))

	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

// onStreamConnected starts every fan-out consumer for a newly connected
// stream: HLS, MP4 recording (if enabled), the pre-roll ring, and
// detection sampling (if configured and a detector is wired).
func (s *Supervisor) onStreamConnected(ctx context.Context, cfg *models.StreamConfig, bus *packetbus.Bus) {
	s.health.recordConnected(cfg.Name)

	segmentSec := cfg.SegmentDurationSec
	if segmentSec <= 0 {
		segmentSec = s.cfg.Stream.SegmentDurationSec
	}

	if err := s.hls.Enable(ctx, cfg.Name, bus, segmentSec); err != nil {
		s.logger.Error("hls enable failed", slog.String("stream", cfg.Name), slog.Any("error", err))
	}

	if cfg.ShouldRecord() {
		if err := s.mp4.Start(ctx, cfg.Name, bus, segmentSec); err != nil {
			s.logger.Error("mp4 start failed", slog.String("stream", cfg.Name), slog.Any("error", err))
		}
	}

	preRollSec := cfg.PreRollSec
	if preRollSec <= 0 {
		preRollSec = s.cfg.Detection.PreRollSec
	}
	fps := float64(cfg.FPS)
	if fps <= 0 {
		fps = float64(s.cfg.Stream.FPS)
	}
	if fps <= 0 {
		fps = 15
	}
	if err := s.preroll.Enable(ctx, cfg.Name, bus, time.Duration(preRollSec)*time.Second, fps); err != nil {
		s.logger.Error("preroll enable failed", slog.String("stream", cfg.Name), slog.Any("error", err))
	}

	if cfg.HasDetection() && s.sampler != nil {
		params := detect.StreamParams{
			Interval:     s.detectionIntervalFor(cfg),
			Threshold:    s.detectionThresholdFor(cfg),
			PostRollSec:  s.postRollFor(cfg),
			ObjectFilter: cfg.ObjectFilter,
		}
		if err := s.sampler.Start(ctx, cfg.Name, bus, params); err != nil {
			s.logger.Error("detection sampler start failed", slog.String("stream", cfg.Name), slog.Any("error", err))
		} else {
			s.health.set(cfg.Name, func(st *StreamHealth) { st.DetectingOn = true })
		}
	}
	s.health.set(cfg.Name, func(st *StreamHealth) { st.RecordingOn = cfg.ShouldRecord() })
}

// stopFanout tears down per-connection writers when the source drops,
// without removing the stream from s.streams — runStream immediately
// tries to reconnect and re-enable them.
func (s *Supervisor) stopFanout(stream string) {
	s.hls.Disable(stream)
	s.mp4.Stop(stream)
	s.preroll.Disable(stream)
	if s.sampler != nil {
		s.sampler.Stop(stream)
	}
	s.health.set(stream, func(st *StreamHealth) {
		st.RecordingOn = false
		st.DetectingOn = false
	})
}

func (s *Supervisor) detectionIntervalFor(cfg *models.StreamConfig) time.Duration {
	if cfg.DetectionInterval > 0 {
		return time.Duration(cfg.DetectionInterval) * time.Millisecond
	}
	return s.cfg.Detection.Interval
}

func (s *Supervisor) detectionThresholdFor(cfg *models.StreamConfig) float64 {
	if cfg.DetectionThreshold > 0 {
		return cfg.DetectionThreshold
	}
	return s.cfg.Detection.Threshold
}

func (s *Supervisor) postRollFor(cfg *models.StreamConfig) time.Duration {
	if cfg.PostRollSec > 0 {
		return time.Duration(cfg.PostRollSec) * time.Second
	}
	return time.Duration(s.cfg.Detection.PostRollSec) * time.Second
}
