package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/internal/database"
	"github.com/lightnvr/lightnvr/internal/repository"
	"github.com/lightnvr/lightnvr/internal/scheduler"
)

// Engine runs the age/quota reclamation sweep on a timer and the
// weekly orphan-file sweep on its own cron entry, grounded on
// internal/scheduler/scheduler.go's cron wiring (a robfig/cron.Cron
// with a seconds-aware parser, normalizing 6- and 7-field expressions
// through scheduler.NormalizeCronExpression) but narrowed to two fixed
// internal entries instead of a database-backed schedule sync loop —
// retention has no per-target schedules to reconcile.
type Engine struct {
	db               *database.DB
	recordingRepo    repository.RecordingRepository
	streamConfigRepo repository.StreamConfigRepository
	detectionRepo    repository.DetectionRepository
	storageRoot      string
	cfg              config.RetentionConfig
	logger           *slog.Logger
	registry         *Registry

	parser cron.Parser
	sched  *cron.Cron

	mu      sync.Mutex
	running bool

	// nowFunc overrides time.Now in tests; nil means use the real clock.
	nowFunc func() time.Time
}

// New builds a retention Engine. detectionRepo may be nil, in which
// case expired detection labels are never pruned.
func New(
	db *database.DB,
	recordingRepo repository.RecordingRepository,
	streamConfigRepo repository.StreamConfigRepository,
	detectionRepo repository.DetectionRepository,
	storageRoot string,
	cfg config.RetentionConfig,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Engine{
		db:               db,
		recordingRepo:    recordingRepo,
		streamConfigRepo: streamConfigRepo,
		detectionRepo:    detectionRepo,
		storageRoot:      storageRoot,
		cfg:              cfg,
		logger:           logger,
		registry:         NewRegistry(),
		parser:           parser,
	}
}

// Start registers the tick and orphan-sweep cron entries and begins
// running them. Calling Start twice returns an error.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("retention: engine already started")
	}

	e.sched = cron.New(cron.WithParser(e.parser), cron.WithChain(
		cron.Recover(cron.DefaultLogger),
	))

	tickExpr, err := scheduler.NormalizeCronExpression(e.cfg.TickCron)
	if err != nil {
		return fmt.Errorf("retention: invalid tick_cron: %w", err)
	}
	if _, err := e.sched.AddFunc(tickExpr, func() { e.Tick(ctx) }); err != nil {
		return fmt.Errorf("retention: registering tick entry: %w", err)
	}

	sweepExpr, err := scheduler.NormalizeCronExpression(e.cfg.OrphanSweepCron)
	if err != nil {
		return fmt.Errorf("retention: invalid orphan_sweep_cron: %w", err)
	}
	if _, err := e.sched.AddFunc(sweepExpr, func() {
		if removed, err := e.OrphanSweep(ctx); err != nil {
			e.logger.Error("retention: orphan sweep failed", slog.Any("error", err))
		} else if removed > 0 {
			e.logger.Info("retention: orphan sweep removed files", slog.Int("removed", removed))
		}
	}); err != nil {
		return fmt.Errorf("retention: registering orphan sweep entry: %w", err)
	}

	e.sched.Start()
	e.running = true
	e.logger.Info("retention engine started",
		slog.String("tick_cron", tickExpr),
		slog.String("orphan_sweep_cron", sweepExpr))
	return nil
}

// Stop halts both cron entries and waits for any in-flight run to
// finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	stopCtx := e.sched.Stop()
	<-stopCtx.Done()
	e.running = false
	e.logger.Info("retention engine stopped")
}

// Jobs returns the job registry, for an API collaborator polling sweep
// progress.
func (e *Engine) Jobs() *Registry { return e.registry }

// clockNow is overridden in tests via Engine.nowFunc; defaults to
// time.Now.
func (e *Engine) clockNow() time.Time {
	if e.nowFunc != nil {
		return e.nowFunc()
	}
	return time.Now()
}
