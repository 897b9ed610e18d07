package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/repository"
)

const reclaimTxTimeout = 10 * time.Second

// Tick runs one full sweep: per-stream tiered age expiry, then
// quota-driven oldest-first reclamation if configured, then a
// best-effort detection-label prune. It is safe to call directly; in
// this tree the engine's cron entry is its only caller.
func (e *Engine) Tick(ctx context.Context) *Job {
	job := e.registry.start()
	now := e.clockNow()

	deleted, err := e.sweepExpiredByStream(ctx, job, now)
	if err != nil {
		e.logger.Error("retention: age sweep failed", slog.Any("error", err))
	}

	quotaDeleted, err := e.sweepQuota(ctx, job)
	if err != nil {
		e.logger.Error("retention: quota sweep failed", slog.Any("error", err))
	}

	if e.detectionRepo != nil {
		if err := e.pruneOrphanDetections(ctx); err != nil {
			e.logger.Warn("retention: detection label prune failed", slog.Any("error", err))
		}
	}

	total := deleted + quotaDeleted
	job.finish(fmt.Sprintf("removed %d rows (%d age, %d quota)", total, deleted, quotaDeleted))
	return job
}

// sweepExpiredByStream deletes rows whose wall_end predates each
// stream's tiered retention cutoff (spec §4.7 step 2).
func (e *Engine) sweepExpiredByStream(ctx context.Context, job *Job, now time.Time) (int, error) {
	streams, err := e.streamConfigRepo.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stream configs: %w", err)
	}

	deleted := 0
	for _, sc := range streams {
		days := e.cfg.RetentionDays
		if sc.RetentionDaysOverride != nil {
			days = *sc.RetentionDaysOverride
		}
		effectiveDays := float64(days) * sc.Tier.Multiplier()
		cutoff := now.Add(-time.Duration(effectiveDays * float64(24*time.Hour)))

		rows, err := e.recordingRepo.ExpiredBeforeForStream(ctx, sc.Name, cutoff, 0)
		if err != nil {
			e.logger.Error("retention: listing expired rows", slog.String("stream", sc.Name), slog.Any("error", err))
			continue
		}
		if len(rows) == 0 {
			continue
		}

		n, err := e.deleteRows(ctx, job, rows)
		deleted += n
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}

// sweepQuota deletes oldest-first rows until used bytes falls to
// reclaim_fraction * max_storage_size (spec §4.7 step 3). Ties between
// streams at the same wall_end are broken by storage_priority
// ascending (lower priority reclaimed first), per spec §4.7's closing
// paragraph.
func (e *Engine) sweepQuota(ctx context.Context, job *Job) (int, error) {
	if e.cfg.MaxStorageSize <= 0 || !e.cfg.AutoDeleteOldest {
		return 0, nil
	}

	used, err := e.recordingRepo.UsedBytes(ctx)
	if err != nil {
		return 0, fmt.Errorf("computing used bytes: %w", err)
	}
	target := int64(float64(e.cfg.MaxStorageSize) * e.cfg.ReclaimFraction)
	if used <= target {
		return 0, nil
	}

	candidates, err := e.oldestByPriority(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for used > target && len(candidates) > 0 {
		row := candidates[0]
		candidates = candidates[1:]

		n, err := e.deleteRows(ctx, job, []*models.RecordingRow{row})
		if err != nil {
			return deleted, err
		}
		if n > 0 {
			used -= row.SizeBytes
			deleted += n
		}
	}
	return deleted, nil
}

// oldestByPriority returns closed rows ordered oldest-first, with ties
// at the same wall_end broken by the owning stream's storage_priority
// ascending (lower priority reclaimed first).
func (e *Engine) oldestByPriority(ctx context.Context) ([]*models.RecordingRow, error) {
	rows, err := e.recordingRepo.OldestClosed(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("listing oldest closed rows: %w", err)
	}
	if len(rows) == 0 {
		return rows, nil
	}

	streams, err := e.streamConfigRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing stream configs: %w", err)
	}
	priority := make(map[string]int, len(streams))
	for _, sc := range streams {
		priority[sc.Name] = sc.StoragePriority
	}

	sortRowsByWallEndThenPriority(rows, priority)
	return rows, nil
}

func sortRowsByWallEndThenPriority(rows []*models.RecordingRow, priority map[string]int) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		at, bt := time.Time(a.WallEnd), time.Time(b.WallEnd)
		if !at.Equal(bt) {
			return at.Before(bt)
		}
		return priority[a.Stream] < priority[b.Stream]
	})
}

// deleteRows performs the two-phase delete (spec §4.7 step 2/4): every
// row's index entry is removed inside one transaction bounded at 10s,
// and only once that commits are the backing files unlinked outside
// any transaction. A failed unlink is logged, not retried — the weekly
// orphan sweep reclaims it later.
func (e *Engine) deleteRows(ctx context.Context, job *Job, rows []*models.RecordingRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	job.setTotal(job.Snapshot().Total + len(rows))

	txCtx, cancel := context.WithTimeout(ctx, reclaimTxTimeout)
	defer cancel()

	err := e.db.Transaction(txCtx, func(tx *gorm.DB) error {
		repo := repository.NewRecordingRepository(tx)
		for _, row := range rows {
			if err := repo.DeleteRow(txCtx, row.ID); err != nil {
				return fmt.Errorf("deleting row %s: %w", row.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		for range rows {
			job.recordResult(false)
		}
		return 0, err
	}

	deleted := 0
	for _, row := range rows {
		if err := os.Remove(row.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			e.logger.Warn("retention: unlinking reclaimed file failed",
				slog.String("path", row.FilePath), slog.Any("error", err))
		}
		job.recordResult(true)
		deleted++
	}
	return deleted, nil
}

// pruneOrphanDetections removes detection labels older than the longest
// effective retention of any stream (its retention_days or override,
// scaled by its tier, never less than the global retention_days), so a
// label table doesn't grow unbounded once its owning segment has been
// reclaimed. A label newer than that cutoff is never pruned, even if its
// own stream's tiered cutoff has already expired it.
func (e *Engine) pruneOrphanDetections(ctx context.Context) error {
	days := float64(e.cfg.RetentionDays)
	streams, err := e.streamConfigRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("listing stream configs: %w", err)
	}
	for _, sc := range streams {
		d := e.cfg.RetentionDays
		if sc.RetentionDaysOverride != nil {
			d = *sc.RetentionDaysOverride
		}
		if eff := float64(d) * sc.Tier.Multiplier(); eff > days {
			days = eff
		}
	}
	cutoff := e.clockNow().Add(-time.Duration(days * float64(24*time.Hour)))
	_, err := e.detectionRepo.DeleteOlderThan(ctx, cutoff)
	return err
}
