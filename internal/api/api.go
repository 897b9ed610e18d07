package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lightnvr/lightnvr/internal/database"
	"github.com/lightnvr/lightnvr/internal/ingest"
	"github.com/lightnvr/lightnvr/internal/ingest/rtsp"
	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/onvif"
	"github.com/lightnvr/lightnvr/internal/repository"
	"github.com/lightnvr/lightnvr/internal/urlutil"
)

// reloader is the slice of *supervisor.Supervisor that API depends on.
// Kept as a narrow interface rather than importing the concrete type
// directly so this package's tests never need to construct a real Supervisor.
type reloader interface {
	Reload(ctx context.Context) error
}

// discoverTimeout bounds how long OnvifDiscover waits for ProbeMatch
// responses on the network before returning what it has collected.
const discoverTimeout = 3 * time.Second

// API implements Handle over the repository layer and a running
// Supervisor, the same way the teacher's service layer wraps a
// repository and hands the result to whatever calls it.
type API struct {
	db            *database.DB
	streamConfigs repository.StreamConfigRepository
	recordings    repository.RecordingRepository
	sup           reloader
	jobs          *deleteJobRegistry
	logger        *slog.Logger
}

// New constructs an API bound to the given Supervisor and repositories.
// db is used only to open the transactions DeleteRecording/BatchDelete
// need around their index-row deletes.
func New(db *database.DB, streamConfigs repository.StreamConfigRepository, recordings repository.RecordingRepository, sup reloader, logger *slog.Logger) *API {
	return &API{
		db:            db,
		streamConfigs: streamConfigs,
		recordings:    recordings,
		sup:           sup,
		jobs:          newDeleteJobRegistry(),
		logger:        logger,
	}
}

func (a *API) ListStreams(ctx context.Context) ([]*models.StreamConfig, error) {
	return a.streamConfigs.GetAll(ctx)
}

func (a *API) AddStream(ctx context.Context, cfg *models.StreamConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := a.streamConfigs.Create(ctx, cfg); err != nil {
		return err
	}
	return a.sup.Reload(ctx)
}

func (a *API) UpdateStream(ctx context.Context, name string, cfg *models.StreamConfig) error {
	existing, err := a.streamConfigs.GetByName(ctx, name)
	if err != nil {
		return err
	}
	cfg.BaseModel = existing.BaseModel
	cfg.Name = existing.Name
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := a.streamConfigs.Update(ctx, cfg); err != nil {
		return err
	}
	return a.sup.Reload(ctx)
}

func (a *API) DeleteStream(ctx context.Context, name string) error {
	existing, err := a.streamConfigs.GetByName(ctx, name)
	if err != nil {
		return err
	}
	if err := a.streamConfigs.Delete(ctx, existing.ID); err != nil {
		return err
	}
	return a.sup.Reload(ctx)
}

// ProbeStream tests a candidate camera URL without persisting anything,
// dispatching on scheme the same way internal/supervisor picks an
// ingest source for an enabled stream.
func (a *API) ProbeStream(ctx context.Context, rawURL string, protocol models.Protocol) (ingest.ProbeResult, error) {
	switch urlutil.GetScheme(rawURL) {
	case "http", "https":
		return ingest.NewHTTPSource(a.logger).Probe(ctx, rawURL, protocol)
	default:
		return rtsp.NewSource(a.logger).Probe(ctx, rawURL, protocol)
	}
}

func (a *API) ListRecordings(ctx context.Context, filter RecordingFilter) ([]RecordingView, error) {
	limit := filter.Limit

	var rows []*models.RecordingRow
	if filter.Stream != "" {
		// Fetch unlimited: the From/To/HasDetection filters below run in
		// process, so the limit is applied only after filtering.
		r, err := a.recordings.ListByStream(ctx, filter.Stream, 0)
		if err != nil {
			return nil, err
		}
		rows = r
	} else {
		streams, err := a.streamConfigs.GetAll(ctx)
		if err != nil {
			return nil, err
		}
		for _, s := range streams {
			// Fetch unlimited per stream; the merged result is re-sorted
			// before the global limit below is applied.
			r, err := a.recordings.ListByStream(ctx, s.Name, 0)
			if err != nil {
				return nil, err
			}
			rows = append(rows, r...)
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].WallStart.Before(rows[j].WallStart) })
	}

	views := make([]RecordingView, 0, len(rows))
	for _, row := range rows {
		if !filter.From.IsZero() && row.WallStart.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && row.WallStart.After(filter.To) {
			continue
		}
		if filter.HasDetection != nil && row.HasDetection != *filter.HasDetection {
			continue
		}
		views = append(views, toRecordingView(row))
		if limit > 0 && len(views) >= limit {
			break
		}
	}
	return views, nil
}

func (a *API) GetRecording(ctx context.Context, id string) (*RecordingView, error) {
	ulid, err := models.ParseULID(id)
	if err != nil {
		return nil, fmt.Errorf("invalid recording id %q: %w", id, err)
	}
	row, err := a.recordings.GetByID(ctx, ulid)
	if err != nil {
		return nil, err
	}
	view := toRecordingView(row)
	return &view, nil
}

// deleteOne removes one recording's index row inside a transaction and
// then unlinks its backing file outside the transaction, mirroring
// internal/retention's two-phase delete: a file left behind after the
// row is gone is an orphan the weekly sweep will find, while a row
// pointing at a missing file would be worse (a ghost entry an API
// client could still see).
func (a *API) deleteOne(ctx context.Context, id models.ULID) error {
	row, err := a.recordings.GetByID(ctx, id)
	if err != nil {
		return err
	}

	err = a.db.Transaction(ctx, func(tx *gorm.DB) error {
		return repository.NewRecordingRepository(tx).DeleteRow(ctx, id)
	})
	if err != nil {
		return err
	}

	if err := os.Remove(row.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.logger.Warn("failed to unlink recording file", "path", row.FilePath, "error", err)
	}
	return nil
}

func (a *API) DeleteRecording(ctx context.Context, id string) error {
	ulid, err := models.ParseULID(id)
	if err != nil {
		return fmt.Errorf("invalid recording id %q: %w", id, err)
	}
	return a.deleteOne(ctx, ulid)
}

// BatchDelete resolves the request to a concrete set of recording IDs,
// then runs the deletes in the background and returns a job ID the
// caller polls with BatchDeleteProgress.
func (a *API) BatchDelete(ctx context.Context, req BatchDeleteRequest) (string, error) {
	var ids []models.ULID

	if len(req.IDs) > 0 {
		for _, raw := range req.IDs {
			ulid, err := models.ParseULID(raw)
			if err != nil {
				return "", fmt.Errorf("invalid recording id %q: %w", raw, err)
			}
			ids = append(ids, ulid)
		}
	} else if req.Filter != nil {
		views, err := a.ListRecordings(ctx, *req.Filter)
		if err != nil {
			return "", err
		}
		for _, v := range views {
			ulid, err := models.ParseULID(v.ID)
			if err != nil {
				return "", err
			}
			ids = append(ids, ulid)
		}
	} else {
		return "", errors.New("batch delete requires ids or a filter")
	}

	job := a.jobs.start(len(ids))

	go func() {
		bg := context.Background()
		for _, id := range ids {
			err := a.deleteOne(bg, id)
			job.recordResult(err == nil)
			if err != nil {
				a.logger.Warn("batch delete failed for recording", "id", id.String(), "error", err)
			}
		}
		job.finish()
	}()

	return job.id.String(), nil
}

func (a *API) BatchDeleteProgress(jobID string) (DeleteJobSnapshot, bool) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return DeleteJobSnapshot{}, false
	}
	job := a.jobs.get(id)
	if job == nil {
		return DeleteJobSnapshot{}, false
	}
	return job.Snapshot(), true
}

func (a *API) OnvifDiscover(ctx context.Context, network string) ([]onvif.Device, error) {
	return onvif.Discover(ctx, network, discoverTimeout, a.logger)
}
