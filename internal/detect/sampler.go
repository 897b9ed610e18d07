package detect

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// ErrAlreadyStarted is returned by Sampler.Start when the stream
// already has a running sampler.
var ErrAlreadyStarted = errors.New("detect: stream already sampling")

// ErrNotStarted is returned by Sampler.Stop when the stream has no
// running sampler.
var ErrNotStarted = errors.New("detect: stream not sampling")

// StreamParams holds one stream's detection block, copied out of its
// StreamConfig so the sampler never depends on the config package.
type StreamParams struct {
	Interval     time.Duration
	Threshold    float64
	PostRollSec  time.Duration
	ObjectFilter models.ObjectFilter
}

// Sampler decodes one frame every Interval per stream — here,
// "decoding" means taking the latest keyframe observed on the bus,
// which is what a Detector operates on — and dispatches it through the
// Worker pool to the configured Detector, handing any firing detection
// to the TriggerController.
type Sampler struct {
	detector   Detector
	worker     *Worker
	controller *TriggerController
	logger     *slog.Logger

	mu      sync.Mutex
	streams map[string]*streamSampler
}

// NewSampler wires a Sampler. logger may be nil.
func NewSampler(detector Detector, worker *Worker, controller *TriggerController, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		detector:   detector,
		worker:     worker,
		controller: controller,
		logger:     logger,
		streams:    make(map[string]*streamSampler),
	}
}

// Start begins sampling stream at params.Interval.
func (s *Sampler) Start(ctx context.Context, stream string, bus *packetbus.Bus, params StreamParams) error {
	s.mu.Lock()
	if _, exists := s.streams[stream]; exists {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.mu.Unlock()

	sub := bus.Subscribe("detect", packetbus.DefaultQueueSize, packetbus.DropNewest)
	ss := &streamSampler{stream: stream, params: params, sub: sub}

	s.mu.Lock()
	s.streams[stream] = ss
	s.mu.Unlock()

	ss.start(ctx, s)
	return nil
}

// Stop ends sampling for stream and unregisters its trigger state.
func (s *Sampler) Stop(stream string) error {
	s.mu.Lock()
	ss, ok := s.streams[stream]
	if ok {
		delete(s.streams, stream)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotStarted
	}
	ss.stop()
	if s.controller != nil {
		s.controller.OnStreamDisabled(stream)
	}
	return nil
}

// StopAll stops every running sampler; used during process shutdown.
func (s *Sampler) StopAll() {
	s.mu.Lock()
	streams := make([]*streamSampler, 0, len(s.streams))
	for name, ss := range s.streams {
		streams = append(streams, ss)
		_ = name
	}
	s.streams = make(map[string]*streamSampler)
	s.mu.Unlock()

	for _, ss := range streams {
		ss.stop()
	}
}

type streamSampler struct {
	stream string
	params StreamParams
	sub    *packetbus.Subscription

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	latest  []byte
	hasData bool
}

func (ss *streamSampler) start(ctx context.Context, s *Sampler) {
	runCtx, cancel := context.WithCancel(ctx)
	ss.cancel = cancel

	ss.wg.Add(2)
	go ss.collect(runCtx)
	go ss.sampleLoop(runCtx, s)
}

func (ss *streamSampler) collect(ctx context.Context) {
	defer ss.wg.Done()
	for {
		pkt, err := ss.sub.Next(ctx)
		if err != nil {
			return
		}
		if !pkt.Keyframe {
			continue
		}
		ss.mu.Lock()
		ss.latest = pkt.Data
		ss.hasData = true
		ss.mu.Unlock()
	}
}

func (ss *streamSampler) sampleLoop(ctx context.Context, s *Sampler) {
	defer ss.wg.Done()

	interval := ss.params.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ss.sampleOnce(ctx, s, now)
			if s.controller != nil {
				s.controller.Sweep(now)
			}
		}
	}
}

func (ss *streamSampler) sampleOnce(ctx context.Context, s *Sampler, now time.Time) {
	ss.mu.Lock()
	frame := ss.latest
	ok := ss.hasData
	ss.mu.Unlock()
	if !ok {
		return
	}

	err := s.worker.Try(ss.stream, func() error {
		boxes, err := s.detector.Detect(ctx, frame, ss.params.Threshold)
		if err != nil {
			return err
		}
		fired := Evaluate(boxes, ss.params.Threshold, ss.params.ObjectFilter)
		if len(fired) == 0 || s.controller == nil {
			return nil
		}
		return s.controller.OnDetection(ctx, ss.stream, now, ss.params.PostRollSec, fired)
	})
	if err != nil && !errors.Is(err, ErrPoolSaturated) && !errors.Is(err, ErrStreamBusy) {
		s.logger.Warn("detect: sample failed", slog.String("stream", ss.stream), slog.String("error", err.Error()))
	}
}

func (ss *streamSampler) stop() {
	if ss.cancel != nil {
		ss.cancel()
	}
	ss.sub.Unsubscribe()
	ss.wg.Wait()
}
