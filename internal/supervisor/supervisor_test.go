package supervisor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/config"
	"github.com/lightnvr/lightnvr/internal/database"
	"github.com/lightnvr/lightnvr/internal/detect"
	"github.com/lightnvr/lightnvr/internal/ingest"
	"github.com/lightnvr/lightnvr/internal/ingest/rtsp"
	"github.com/lightnvr/lightnvr/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStreamConfigRepo is a minimal in-memory repository.StreamConfigRepository.
type fakeStreamConfigRepo struct {
	enabled []*models.StreamConfig
}

func (f *fakeStreamConfigRepo) Create(ctx context.Context, cfg *models.StreamConfig) error {
	return nil
}
func (f *fakeStreamConfigRepo) GetByID(ctx context.Context, id models.ULID) (*models.StreamConfig, error) {
	return nil, nil
}
func (f *fakeStreamConfigRepo) GetByName(ctx context.Context, name string) (*models.StreamConfig, error) {
	return nil, nil
}
func (f *fakeStreamConfigRepo) GetAll(ctx context.Context) ([]*models.StreamConfig, error) {
	return f.enabled, nil
}
func (f *fakeStreamConfigRepo) GetEnabled(ctx context.Context) ([]*models.StreamConfig, error) {
	return f.enabled, nil
}
func (f *fakeStreamConfigRepo) Update(ctx context.Context, cfg *models.StreamConfig) error {
	return nil
}
func (f *fakeStreamConfigRepo) Delete(ctx context.Context, id models.ULID) error { return nil }

// fakeRecordingRepo is a minimal in-memory repository.RecordingRepository.
type fakeRecordingRepo struct{}

func (f *fakeRecordingRepo) Create(ctx context.Context, row *models.RecordingRow) error { return nil }
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
	return map[string]struct{}{}, nil
}

// fakeDetectionRepo is a minimal in-memory repository.DetectionRepository.
type fakeDetectionRepo struct{}

func (f *fakeDetectionRepo) Create(ctx context.Context, label *models.DetectionLabel) error {
	return nil
}
func (f *fakeDetectionRepo) ExistsInWindow(ctx context.Context, stream string, start, end time.Time) (bool, error) {
	return false, nil
}
func (f *fakeDetectionRepo) ListInWindow(ctx context.Context, stream string, start, end time.Time) ([]*models.DetectionLabel, error) {
	return nil, nil
}
func (f *fakeDetectionRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		Storage: config.StorageConfig{Root: root},
		Stream: config.StreamDefaults{
			SegmentDurationSec:  60,
			FPS:                 15,
			ReconnectMinBackoff: config.Duration(time.Second),
			ReconnectMaxBackoff: config.Duration(30 * time.Second),
		},
		Detection: config.DetectionConfig{
			Interval:    time.Second,
			Threshold:   0.5,
			PreRollSec:  5,
			PostRollSec: 10,
		},
		Retention: config.RetentionConfig{
			TickCron:        "@every 1h",
			OrphanSweepCron: "0 0 3 * * 0",
		},
		Shutdown: config.ShutdownConfig{
			Timeout: time.Second,
		},
	}
}

func newTestSupervisor(t *testing.T, enabled []*models.StreamConfig) *Supervisor {
	t.Helper()
	cfg := testConfig(t)
	streamRepo := &fakeStreamConfigRepo{enabled: enabled}
	s, err := New(cfg, &database.DB{}, streamRepo, &fakeRecordingRepo{}, &fakeDetectionRepo{}, discardLogger(), Options{})
	require.NoError(t, err)
	return s
}

func TestNew_NoDetectorConfigured(t *testing.T) {
	s := newTestSupervisor(t, nil)
	assert.Nil(t, s.detector)
	assert.Nil(t, s.sampler)
}

func TestNew_EmbeddedInferenceWiresSampler(t *testing.T) {
	cfg := testConfig(t)
	infer := func(ctx context.Context, frame []byte) ([]detect.Box, error) { return nil, nil }
	s, err := New(cfg, &database.DB{}, &fakeStreamConfigRepo{}, &fakeRecordingRepo{}, &fakeDetectionRepo{}, discardLogger(),
		Options{Inference: infer})
	require.NoError(t, err)
	assert.NotNil(t, s.detector)
	assert.NotNil(t, s.sampler)
}

func TestNew_HTTPEndpointPreferredOverEmbedded(t *testing.T) {
	cfg := testConfig(t)
	cfg.Detection.HTTPEndpoint = "http://localhost:9000/detect"
	infer := func(ctx context.Context, frame []byte) ([]detect.Box, error) { return nil, nil }
	s, err := New(cfg, &database.DB{}, &fakeStreamConfigRepo{}, &fakeRecordingRepo{}, &fakeDetectionRepo{}, discardLogger(),
		Options{Inference: infer})
	require.NoError(t, err)
	_, isHTTP := s.detector.(*detect.HTTPDetector)
	assert.True(t, isHTTP, "HTTP endpoint should win over an embedded inference callable")
}

func TestStartStop_NoStreamsConfigured(t *testing.T) {
	s := newTestSupervisor(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.Empty(t, s.Health())

	report := s.Stop(context.Background())
	assert.Equal(t, 2, report.TotalComponents)
	assert.Empty(t, report.Forced)
}

func TestNewSource_SchemeSelection(t *testing.T) {
	httpCfg := &models.StreamConfig{Name: "front", URL: "http://camera.local/stream.mjpg"}
	src := newSource(httpCfg, discardLogger())
	_, isHTTP := src.(*ingest.HTTPSource)
	assert.True(t, isHTTP)

	rtspCfg := &models.StreamConfig{Name: "back", URL: "rtsp://camera.local:554/live"}
	src = newSource(rtspCfg, discardLogger())
	_, isRTSP := src.(*rtsp.Source)
	assert.True(t, isRTSP)

	bareCfg := &models.StreamConfig{Name: "side", URL: "camera.local:554/live"}
	src = newSource(bareCfg, discardLogger())
	_, isRTSP = src.(*rtsp.Source)
	assert.True(t, isRTSP, "a URL with no recognized scheme falls back to RTSP")
}

func TestStreamConfigChanged(t *testing.T) {
	base := &models.StreamConfig{
		Name: "front", URL: "rtsp://a", Protocol: models.ProtocolTCP,
		DetectionModel: "yolo", DetectionInterval: 1000, DetectionThreshold: 0.5,
	}

	t.Run("identical config", func(t *testing.T) {
		next := *base
		assert.False(t, streamConfigChanged(base, &next))
	})

	t.Run("url changed", func(t *testing.T) {
		next := *base
		next.URL = "rtsp://b"
		assert.True(t, streamConfigChanged(base, &next))
	})

	t.Run("detection model changed", func(t *testing.T) {
		next := *base
		next.DetectionModel = "mobilenet"
		assert.True(t, streamConfigChanged(base, &next))
	})

	t.Run("width alone does not force a restart", func(t *testing.T) {
		next := *base
		next.Width = 1920
		assert.False(t, streamConfigChanged(base, &next))
	})
}
