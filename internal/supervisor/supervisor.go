// Package supervisor wires every other package into one running
// recorder: it loads the configured cameras, starts one ingest +
// packetbus + fan-out set per enabled stream, runs the shared
// detection pipeline and the retention engine, and drives graceful
// shutdown through internal/shutdown. It follows the same sequential
// construct-then-wire style cmd/lightnvr/cmd/serve.go uses to start
// the process, with the HTTP server replaced by this package's own
// stream lifecycle.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/internal/database"
	"github.com/lightnvr/lightnvr/internal/detect"
	"github.com/lightnvr/lightnvr/internal/hls"
	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/mp4"
	"github.com/lightnvr/lightnvr/internal/preroll"
	"github.com/lightnvr/lightnvr/internal/repository"
	"github.com/lightnvr/lightnvr/internal/retention"
	"github.com/lightnvr/lightnvr/internal/shutdown"
	"github.com/lightnvr/lightnvr/internal/startup"
)

// shutdown priorities: higher is signalled and waited on first. The
// Coordinator signals every component before waiting on any, so the
// ingest and retention drains run concurrently. Within the ingest drain,
// stopStream stops each source before its writers and only then closes
// the bus, so nothing publishes into a closed bus.
const (
	priorityIngest    = 100
	priorityRetention = 50
)

// Supervisor owns every camera's ingest lifecycle, the shared
// detection pipeline, and the retention engine, and answers the
// read-oriented queries the API collaborator needs (health, reload).
type Supervisor struct {
	cfg              *config.Config
	db               *database.DB
	streamConfigRepo repository.StreamConfigRepository
	recordingRepo    repository.RecordingRepository
	detectionRepo    repository.DetectionRepository
	logger           *slog.Logger

	hls     *hls.Writer
	mp4     *mp4.Segmenter
	preroll *preroll.Buffer

	detector detect.Detector
	worker   *detect.Worker
	trigger  *detect.TriggerController
	sampler  *detect.Sampler

	retention *retention.Engine
	shutdown  *shutdown.Coordinator
	health    *healthTracker

	mu      sync.Mutex
	streams map[string]*streamRuntime
}

// New builds every collaborator and wires them together but starts
// nothing; call Start to begin ingesting.
func New(
	cfg *config.Config,
	db *database.DB,
	streamConfigRepo repository.StreamConfigRepository,
	recordingRepo repository.RecordingRepository,
	detectionRepo repository.DetectionRepository,
	logger *slog.Logger,
	opts Options,
) (*Supervisor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:              cfg,
		db:               db,
		streamConfigRepo: streamConfigRepo,
		recordingRepo:    recordingRepo,
		detectionRepo:    detectionRepo,
		logger:           logger,
		hls:              hls.NewWriter(cfg.Storage.HLSPath(), logger),
		mp4:              mp4.NewSegmenter(cfg.Storage.MP4Path(), cfg.Storage.ThumbnailPath(), recordingRepo, opts.Thumbnails, logger),
		preroll:          preroll.NewBuffer(logger),
		health:           newHealthTracker(),
		streams:          make(map[string]*streamRuntime),
	}

	detector, err := buildDetector(cfg.Detection, opts.Inference)
	if err != nil {
		return nil, fmt.Errorf("supervisor: building detector: %w", err)
	}
	s.detector = detector

	if detector != nil {
		poolSize := cfg.Detection.WorkerPoolSize
		s.worker = detect.NewWorker(poolSize)

		publisher := opts.Publisher
		if publisher == nil {
			publisher = detect.NewLoggingPublisher(logger)
		}
		s.trigger = detect.NewTriggerController(s.mp4, s.preroll, publisher, detectionRepo, logger)
		s.sampler = detect.NewSampler(detector, s.worker, s.trigger, logger)
	} else {
		logger.Warn("no detection backend configured; streams requesting detection run without a sampler")
	}

	s.retention = retention.New(db, recordingRepo, streamConfigRepo, detectionRepo, cfg.Storage.MP4Path(), cfg.Retention, logger)

	return s, nil
}

// buildDetector picks a Detector backend from cfg: an HTTP endpoint
// takes priority over an embedded inference callable, and either may be
// absent (nil, nil), in which case the Supervisor runs with no
// detection backend at all.
func buildDetector(cfg config.DetectionConfig, infer detect.InferenceFunc) (detect.Detector, error) {
	if cfg.HTTPEndpoint != "" {
		return detect.NewHTTPDetector(cfg.HTTPEndpoint, cfg.HTTPTimeout), nil
	}
	if infer != nil {
		return detect.NewONNXDetector(cfg.Model, infer)
	}
	return nil, nil
}

// Start runs startup recovery, brings up the retention engine, and
// begins the reconnect loop for every enabled stream. It registers two
// components with a fresh shutdown.Coordinator and returns once both
// the coordinator-driven stop goroutines are armed; Stop later drives
// them via InitiateShutdown.
func (s *Supervisor) Start(ctx context.Context) error {
	if removed, err := startup.CleanupSystemTempDirs(s.logger); err != nil {
		s.logger.Warn("temp dir cleanup failed", slog.Any("error", err))
	} else if removed > 0 {
		s.logger.Info("cleaned orphaned temp directories", slog.Int("removed", removed))
	}

	if err := startup.RecoverRecordings(ctx, s.logger, s.cfg.Storage.MP4Path(), s.recordingRepo); err != nil {
		s.logger.Warn("recording recovery failed", slog.Any("error", err))
	}

	s.shutdown = shutdown.New(s.logger, ctx)

	ingestHandle, ingestComp, err := s.shutdown.Register("ingest", "fanout", priorityIngest)
	if err != nil {
		return fmt.Errorf("supervisor: registering ingest component: %w", err)
	}
	retentionHandle, retentionComp, err := s.shutdown.Register("retention", "engine", priorityRetention)
	if err != nil {
		return fmt.Errorf("supervisor: registering retention component: %w", err)
	}

	go func() {
		<-s.shutdown.Context(ingestHandle).Done()
		s.stopAllStreams()
		ingestComp.MarkStopped()
	}()
	go func() {
		<-s.shutdown.Context(retentionHandle).Done()
		s.retention.Stop()
		retentionComp.MarkStopped()
	}()

	if err := s.retention.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: starting retention engine: %w", err)
	}

	cfgs, err := s.streamConfigRepo.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: loading enabled streams: %w", err)
	}
	for _, cfg := range cfgs {
		s.startStream(ctx, cfg)
	}

	s.logger.Info("supervisor started", slog.Int("streams", len(cfgs)))
	return nil
}

// Stop initiates graceful shutdown through the coordinator, waiting up
// to cfg.Shutdown.Timeout for every registered component before forcing
// the remainder.
func (s *Supervisor) Stop(ctx context.Context) shutdown.Report {
	return s.shutdown.InitiateShutdown(ctx, s.cfg.Shutdown.Timeout)
}

// stopAllStreams tears down every currently running stream. Used by the
// ingest component's shutdown goroutine; streams are stopped
// concurrently since each owns an independent bus and set of writers.
func (s *Supervisor) stopAllStreams() {
	s.mu.Lock()
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			s.stopStream(context.Background(), name)
		}(name)
	}
	wg.Wait()
}

// Reload diffs the current set of running streams against what's now
// enabled in the repository and applies the delta: newly enabled
// streams are started, newly disabled or deleted streams are stopped,
// and a stream whose detection block changed is restarted so the
// sampler picks up the new parameters. Streams untouched by the diff
// keep running without interruption.
func (s *Supervisor) Reload(ctx context.Context) error {
	cfgs, err := s.streamConfigRepo.GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: reloading stream list: %w", err)
	}

	wanted := make(map[string]*models.StreamConfig, len(cfgs))
	for _, cfg := range cfgs {
		wanted[cfg.Name] = cfg
	}

	s.mu.Lock()
	var toStop, toRestart []string
	var toStart []*models.StreamConfig
	for name, rt := range s.streams {
		cfg, stillEnabled := wanted[name]
		if !stillEnabled {
			toStop = append(toStop, name)
			continue
		}
		if streamConfigChanged(rt.cfg, cfg) {
			toRestart = append(toRestart, name)
		}
	}
	for name, cfg := range wanted {
		if _, running := s.streams[name]; !running {
			toStart = append(toStart, cfg)
		}
	}
	s.mu.Unlock()

	for _, name := range toStop {
		s.stopStream(ctx, name)
	}
	for _, name := range toRestart {
		s.stopStream(ctx, name)
		s.startStream(ctx, wanted[name])
	}
	for _, cfg := range toStart {
		s.startStream(ctx, cfg)
	}

	s.logger.Info("supervisor reloaded",
		slog.Int("stopped", len(toStop)),
		slog.Int("restarted", len(toRestart)),
		slog.Int("started", len(toStart)))
	return nil
}

// streamConfigChanged reports whether a running stream's detection or
// recording parameters differ enough to require a restart rather than
// running unattended with stale settings.
func streamConfigChanged(old, next *models.StreamConfig) bool {
	if old.URL != next.URL || old.Protocol != next.Protocol {
		return true
	}
	if old.ShouldRecord() != next.ShouldRecord() {
		return true
	}
	if old.DetectionModel != next.DetectionModel ||
		old.DetectionInterval != next.DetectionInterval ||
		old.DetectionThreshold != next.DetectionThreshold ||
		old.PreRollSec != next.PreRollSec ||
		old.PostRollSec != next.PostRollSec {
		return true
	}
	return false
}

// Health returns a snapshot of every stream's current connection state,
// the API collaborator's source for a health/status endpoint.
func (s *Supervisor) Health() map[string]StreamHealth {
	return s.health.all()
}

// Jobs exposes the retention engine's job registry for an API
// collaborator polling sweep progress.
func (s *Supervisor) Jobs() *retention.Registry {
	return s.retention.Jobs()
}
