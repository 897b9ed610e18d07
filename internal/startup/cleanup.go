// Package startup provides utilities run once at process boot, before
// the Supervisor starts ingesting: clearing temp files left behind by a
// crash and reconciling the MP4 index against what's actually on disk.
package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lightnvr/lightnvr/internal/mp4"
	"github.com/lightnvr/lightnvr/internal/repository"
)

// TempDirPrefix is the name prefix of the temp directories
// CleanupOrphanedTempDirs removes (under os.TempDir() when called through
// CleanupSystemTempDirs). Nothing in this tree creates such directories.
const TempDirPrefix = "lightnvr-"

// CleanupOrphanedTempDirs removes orphaned temporary directories older
// than maxAge from baseDir, matching TempDirPrefix.
//
// Returns the number of directories removed and any error encountered.
func CleanupOrphanedTempDirs(logger *slog.Logger, baseDir string, maxAge time.Duration) (int, error) {
	if _, err := os.Stat(baseDir); os.IsNotExist(err) {
		logger.Debug("base directory does not exist, skipping cleanup",
			"path", baseDir,
		)
		return 0, nil
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		logger.Error("failed to read directory for cleanup",
			"path", baseDir,
			"error", err,
		)
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if !strings.HasPrefix(entry.Name(), TempDirPrefix) {
			continue
		}

		dirPath := filepath.Join(baseDir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			logger.Warn("failed to get directory info",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		if info.ModTime().After(cutoff) {
			logger.Debug("preserving recent temp directory",
				"path", dirPath,
				"age", time.Since(info.ModTime()).Round(time.Second),
			)
			continue
		}

		if err := os.RemoveAll(dirPath); err != nil {
			logger.Warn("failed to remove orphaned temp directory",
				"path", dirPath,
				"error", err,
			)
			continue
		}

		logger.Info("removed orphaned temp directory",
			"path", dirPath,
			"age", time.Since(info.ModTime()).Round(time.Second),
		)
		removed++
	}

	return removed, nil
}

// DefaultCleanupAge is the default maximum age for orphaned temp directories (1 hour).
const DefaultCleanupAge = 1 * time.Hour

// CleanupSystemTempDirs cleans up orphaned lightnvr temp directories from
// the system temp directory using the default cleanup age.
func CleanupSystemTempDirs(logger *slog.Logger) (int, error) {
	return CleanupOrphanedTempDirs(logger, os.TempDir(), DefaultCleanupAge)
}

// RecoverRecordings walks mp4Root and reconciles it against the
// RecordingRow index, wrapping mp4.Recover for the Supervisor's startup
// sequence. This handles the case where the process crashed mid-segment:
// a completed-but-unindexed file is re-indexed, and a file that died
// mid-write is renamed ".broken" so it never passes for a playable
// recording.
//
// Returns an error only if the walk itself failed; per-file problems are
// logged and skipped by mp4.Recover.
func RecoverRecordings(ctx context.Context, logger *slog.Logger, mp4Root string, repo repository.RecordingRepository) error {
	return mp4.Recover(ctx, mp4Root, repo, logger)
}
