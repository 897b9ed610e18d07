package startup

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/models"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestCleanupOrphanedTempDirs(t *testing.T) {
	t.Run("removes old lightnvr directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDir := filepath.Join(baseDir, "lightnvr-01HZ1234567890ABCDEF")
		require.NoError(t, os.Mkdir(oldDir, 0755))

		dummyFile := filepath.Join(oldDir, "dummy.txt")
		require.NoError(t, os.WriteFile(dummyFile, []byte("test"), 0644))

		// Creating the file would update the dir mtime, so backdate after.
		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(oldDir, oldTime, oldTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 1, count)
		_, err = os.Stat(oldDir)
		assert.True(t, os.IsNotExist(err), "old directory should be removed")
	})

	t.Run("preserves recent lightnvr directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		recentDir := filepath.Join(baseDir, "lightnvr-01HZ0987654321FEDCBA")
		require.NoError(t, os.Mkdir(recentDir, 0755))

		recentTime := time.Now().Add(-30 * time.Minute)
		require.NoError(t, os.Chtimes(recentDir, recentTime, recentTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(recentDir)
		assert.NoError(t, err, "recent directory should be preserved")
	})

	t.Run("ignores non-lightnvr directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		otherDir := filepath.Join(baseDir, "some-other-dir")
		require.NoError(t, os.Mkdir(otherDir, 0755))

		oldTime := time.Now().Add(-2 * time.Hour)
		require.NoError(t, os.Chtimes(otherDir, oldTime, oldTime))

		count, err := CleanupOrphanedTempDirs(logger, baseDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 0, count)
		_, err = os.Stat(otherDir)
		assert.NoError(t, err, "non-lightnvr directory should be preserved")
	})

	t.Run("handles non-existent directory gracefully", func(t *testing.T) {
		logger := newTestLogger()

		count, err := CleanupOrphanedTempDirs(logger, "/nonexistent/path/12345", 1*time.Hour)
		require.NoError(t, err)
		assert.Equal(t, 0, count)
	})

	t.Run("cleans up multiple old directories", func(t *testing.T) {
		logger := newTestLogger()

		baseDir, err := os.MkdirTemp("", "cleanup-test-*")
		require.NoError(t, err)
		defer os.RemoveAll(baseDir)

		oldDirs := []string{
			"lightnvr-01HZ1111111111111111",
			"lightnvr-01HZ2222222222222222",
			"lightnvr-01HZ3333333333333333",
		}

		oldTime := time.Now().Add(-2 * time.Hour)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(baseDir, dir)
			require.NoError(t, os.Mkdir(dirPath, 0755))
			require.NoError(t, os.Chtimes(dirPath, oldTime, oldTime))
		}

		count, err := CleanupOrphanedTempDirs(logger, baseDir, 1*time.Hour)
		require.NoError(t, err)

		assert.Equal(t, 3, count)
		for _, dir := range oldDirs {
			dirPath := filepath.Join(baseDir, dir)
			_, err = os.Stat(dirPath)
			assert.True(t, os.IsNotExist(err), "directory %s should be removed", dir)
		}
	})
}

// fakeRecordingRepo is a minimal in-memory repository.RecordingRepository
// for exercising RecoverRecordings without a real database.
type fakeRecordingRepo struct {
	created []*models.RecordingRow
	indexed map[string]struct{}
}

func (f *fakeRecordingRepo) Create(ctx context.Context, row *models.RecordingRow) error {
	f.created = append(f.created, row)
	return nil
}
func (f *fakeRecordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.RecordingRow, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) ListByStream(ctx context.Context, stream string, limit int) ([]*models.RecordingRow, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) MarkClosed(ctx context.Context, id models.ULID, wallEnd time.Time, sizeBytes int64) error {
	return nil
}
func (f *fakeRecordingRepo) SetHasDetection(ctx context.Context, id models.ULID) error { return nil }
func (f *fakeRecordingRepo) UsedBytes(ctx context.Context) (int64, error)              { return 0, nil }
func (f *fakeRecordingRepo) ExpiredBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.RecordingRow, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) ExpiredBeforeForStream(ctx context.Context, stream string, cutoff time.Time, limit int) ([]*models.RecordingRow, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) OldestClosed(ctx context.Context, limit int) ([]*models.RecordingRow, error) {
	return nil, nil
}
func (f *fakeRecordingRepo) DeleteRow(ctx context.Context, id models.ULID) error { return nil }
func (f *fakeRecordingRepo) AllFilePaths(ctx context.Context) (map[string]struct{}, error) {
	return f.indexed, nil
}

func TestRecoverRecordings_IgnoresIndexedFile(t *testing.T) {
	root := t.TempDir()
	indexedPath := filepath.Join(root, "front", "2026", "07", "31", "120000.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(indexedPath), 0755))
	require.NoError(t, os.WriteFile(indexedPath, []byte("data"), 0644))

	repo := &fakeRecordingRepo{indexed: map[string]struct{}{indexedPath: {}}}

	err := RecoverRecordings(context.Background(), newTestLogger(), root, repo)
	require.NoError(t, err)
	assert.Empty(t, repo.created)
}

func TestRecoverRecordings_RenamesUnindexedTruncatedFile(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "front", "2026", "07", "31", "120000.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	// A truncated box header (declared size larger than the file) never
	// parses as a trailing moov, so it's renamed .broken rather than
	// re-indexed.
	require.NoError(t, os.WriteFile(path, []byte{0, 0, 0, 64, 'm', 'o', 'o', 'v'}, 0644))

	repo := &fakeRecordingRepo{indexed: map[string]struct{}{}}

	err := RecoverRecordings(context.Background(), newTestLogger(), root, repo)
	require.NoError(t, err)
	assert.Empty(t, repo.created)
	_, statErr := os.Stat(path + ".broken")
	assert.NoError(t, statErr)
}
