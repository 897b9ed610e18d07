package api

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStreamConfigRepo is a minimal in-memory repository.StreamConfigRepository,
// keyed by stream name.
type fakeStreamConfigRepo struct {
	byName map[string]*models.StreamConfig
}

func newFakeStreamConfigRepo(cfgs ...*models.StreamConfig) *fakeStreamConfigRepo {
	f := &fakeStreamConfigRepo{byName: make(map[string]*models.StreamConfig)}
	for _, c := range cfgs {
		f.byName[c.Name] = c
	}
	return f
}

func (f *fakeStreamConfigRepo) Create(ctx context.Context, cfg *models.StreamConfig) error {
	f.byName[cfg.Name] = cfg
	return nil
}
func (f *fakeStreamConfigRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamConfig, error) {
	for _, c := range f.byName {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, assert.AnError
}
func (f *fakeStreamConfigRepo) GetByName(ctx context.Context, name string) (*models.StreamConfig, error) {
	c, ok := f.byName[name]
	if !ok {
		return nil, assert.AnError
	}
	return c, nil
}
func (f *fakeStreamConfigRepo) GetAll(ctx context.Context) ([]*models.StreamConfig, error) {
	out := make([]*models.StreamConfig, 0, len(f.byName))
	for _, c := range f.byName {
		out = append(out, c)
	}
	return out, nil
}
func (f *fakeStreamConfigRepo) GetEnabled(ctx context.Context) ([]*models.StreamConfig, error) {
	return f.GetAll(ctx)
}
func (f *fakeStreamConfigRepo) Update(ctx context.Context, cfg *models.StreamConfig) error {
	f.byName[cfg.Name] = cfg
	return nil
}
func (f *fakeStreamConfigRepo) Delete(ctx context.Context, id models.ULID) error {
	for name, c := range f.byName {
		if c.ID == id {
			delete(f.byName, name)
		}
	}
	return nil
}

// fakeRecordingRepo is a minimal in-memory repository.RecordingRepository,
// keyed by stream name.
type fakeRecordingRepo struct {
	byStream map[string][]*models.RecordingRow
}

func newFakeRecordingRepo() *fakeRecordingRepo {
	return &fakeRecordingRepo{byStream: make(map[string][]*models.RecordingRow)}
}

func (f *fakeRecordingRepo) add(row *models.RecordingRow) {
	f.byStream[row.Stream] = append(f.byStream[row.Stream], row)
}

func (f *fakeRecordingRepo) Create(ctx context.Context, row *models.RecordingRow) error {
	f.add(row)
	return nil
}
func (f *fakeRecordingRepo) GetByID(ctx context.Context, id models.ULID) (*models.RecordingRow, error) {
	for _, rows := range f.byStream {
		for _, r := range rows {
			if r.ID == id {
				return r, nil
			}
		}
	}
	return nil, assert.AnError
}
func (f *fakeRecordingRepo) ListByStream(ctx context.Context, stream string, limit int) ([]*models.RecordingRow, error) {
	rows := f.byStream[stream]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
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
	return map[string]struct{}{}, nil
}

// fakeReloader counts Reload calls instead of reconciling any real streams.
type fakeReloader struct {
	calls int
}

func (f *fakeReloader) Reload(ctx context.Context) error {
	f.calls++
	return nil
}

func newRow(stream string, start time.Time, hasDetection bool) *models.RecordingRow {
	row := &models.RecordingRow{
		Stream:       stream,
		FilePath:     "/rec/" + stream + "/" + start.Format("20060102T150405") + ".mp4",
		WallStart:    start,
		WallEnd:      start.Add(10 * time.Minute),
		HasDetection: hasDetection,
	}
	row.ID = models.NewULID()
	return row
}

func newTestAPI() (*API, *fakeStreamConfigRepo, *fakeRecordingRepo, *fakeReloader) {
	streams := newFakeStreamConfigRepo()
	recordings := newFakeRecordingRepo()
	rel := &fakeReloader{}
	a := New(nil, streams, recordings, rel, discardLogger())
	return a, streams, recordings, rel
}

func TestToRecordingView_FormatsBothTimestampForms(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := newRow("front-door", start, false)
	view := toRecordingView(row)

	assert.Equal(t, "2026-03-01T12:00:00Z", view.WallStartISO)
	assert.Equal(t, start.Unix(), view.WallStartUnix)
	assert.Equal(t, start.Add(10*time.Minute).Unix(), view.WallEndUnix)
	assert.Equal(t, 600.0, view.DurationSeconds)
}

func TestListRecordings_ScopedToSingleStream(t *testing.T) {
	a, _, recordings, _ := newTestAPI()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recordings.add(newRow("front-door", base, false))
	recordings.add(newRow("back-yard", base, false))

	views, err := a.ListRecordings(context.Background(), RecordingFilter{Stream: "front-door"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "front-door", views[0].Stream)
}

func TestListRecordings_MergesAcrossStreamsWhenUnscoped(t *testing.T) {
	a, streams, recordings, _ := newTestAPI()
	streams.Create(context.Background(), &models.StreamConfig{Name: "front-door"})
	streams.Create(context.Background(), &models.StreamConfig{Name: "back-yard"})

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recordings.add(newRow("front-door", t0.Add(2*time.Hour), false))
	recordings.add(newRow("back-yard", t0, false))

	views, err := a.ListRecordings(context.Background(), RecordingFilter{})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "back-yard", views[0].Stream, "oldest wall_start sorts first")
	assert.Equal(t, "front-door", views[1].Stream)
}

func TestListRecordings_FiltersByHasDetectionAndWindow(t *testing.T) {
	a, _, recordings, _ := newTestAPI()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recordings.add(newRow("front-door", t0, false))
	recordings.add(newRow("front-door", t0.Add(time.Hour), true))
	recordings.add(newRow("front-door", t0.Add(2*time.Hour), true))

	yes := true
	views, err := a.ListRecordings(context.Background(), RecordingFilter{
		Stream:       "front-door",
		HasDetection: &yes,
		From:         t0.Add(30 * time.Minute),
	})
	require.NoError(t, err)
	require.Len(t, views, 2)
	for _, v := range views {
		assert.True(t, v.HasDetection)
	}
}

func TestListRecordings_AppliesGlobalLimitAfterMerge(t *testing.T) {
	a, streams, recordings, _ := newTestAPI()
	streams.Create(context.Background(), &models.StreamConfig{Name: "front-door"})
	streams.Create(context.Background(), &models.StreamConfig{Name: "back-yard"})

	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recordings.add(newRow("front-door", t0, false))
	recordings.add(newRow("back-yard", t0.Add(time.Hour), false))
	recordings.add(newRow("front-door", t0.Add(2*time.Hour), false))

	views, err := a.ListRecordings(context.Background(), RecordingFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, views, 2)
}

func TestGetRecording_InvalidIDReturnsError(t *testing.T) {
	a, _, _, _ := newTestAPI()
	_, err := a.GetRecording(context.Background(), "not-a-ulid")
	assert.Error(t, err)
}

func TestAddStream_RejectsInvalidConfigWithoutCallingReload(t *testing.T) {
	a, _, _, reloader := newTestAPI()
	err := a.AddStream(context.Background(), &models.StreamConfig{Name: "", URL: "rtsp://x"})
	assert.Error(t, err)
	assert.Equal(t, 0, reloader.calls)
}

func TestAddStream_TriggersReloadOnSuccess(t *testing.T) {
	a, _, _, reloader := newTestAPI()
	err := a.AddStream(context.Background(), &models.StreamConfig{
		Name:     "front-door",
		URL:      "rtsp://camera/front-door",
		Protocol: models.ProtocolTCP,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, reloader.calls)
}

func TestDeleteStream_UnknownNameReturnsError(t *testing.T) {
	a, _, _, _ := newTestAPI()
	err := a.DeleteStream(context.Background(), "nonexistent")
	assert.Error(t, err)
}

func TestBatchDeleteProgress_UnknownJobReturnsFalse(t *testing.T) {
	a, _, _, _ := newTestAPI()
	_, ok := a.BatchDeleteProgress("00000000-0000-0000-0000-000000000000")
	assert.False(t, ok)
}

func TestBatchDeleteProgress_MalformedIDReturnsFalse(t *testing.T) {
	a, _, _, _ := newTestAPI()
	_, ok := a.BatchDeleteProgress("not-a-uuid")
	assert.False(t, ok)
}

func TestBatchDelete_RequiresIDsOrFilter(t *testing.T) {
	a, _, _, _ := newTestAPI()
	_, err := a.BatchDelete(context.Background(), BatchDeleteRequest{})
	assert.Error(t, err)
}
