package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// OrphanSweep walks storageRoot and unlinks any regular file with no
// matching recording row, reclaiming files left behind by a crash
// between a two-phase delete's row removal and its file unlink (spec
// §4.7 step 2's closing sentence). Directories and files the mp4/hls
// packages are still actively writing are never touched by this sweep
// since only closed, indexed rows are ever removed from the index in
// the first place — an un-indexed file is either an orphan or a
// segment that crashed before its row was ever committed, and both are
// safe to remove.
func (e *Engine) OrphanSweep(ctx context.Context) (int, error) {
	indexed, err := e.recordingRepo.AllFilePaths(ctx)
	if err != nil {
		return 0, fmt.Errorf("retention: listing indexed file paths: %w", err)
	}

	removed := 0
	walkErr := filepath.WalkDir(e.storageRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := indexed[path]; ok {
			return nil
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				e.logger.Warn("retention: orphan unlink failed", slog.String("path", path), slog.Any("error", err))
			}
			return nil
		}
		removed++
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, context.Canceled) {
		return removed, fmt.Errorf("retention: walking storage root: %w", walkErr)
	}
	return removed, nil
}
