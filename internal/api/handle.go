// Package api defines the narrow Go-level seam a future HTTP/REST
// layer (or any other front end) calls through to reach the recorder
// core, grounded on the teacher's "service wraps repository + domain
// logic, HTTP handler wraps service" layering (internal/service/*.go):
// Handle plays the role of that service layer, with API wrapping the
// Supervisor and repositories instead of a handler wrapping a service
// struct directly. The HTTP/REST surface itself is not part of this
// module.
package api

import (
	"context"
	"time"

	"github.com/lightnvr/lightnvr/internal/ingest"
	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/onvif"
)

// RecordingFilter narrows ListRecordings to a stream, a time window, or
// a detection-presence flag. Every field is optional; an unset Stream
// searches every configured stream, and a zero Limit means no cap.
type RecordingFilter struct {
	Stream       string
	From         time.Time
	To           time.Time
	HasDetection *bool
	Limit        int
}

// RecordingView is the read-oriented projection of a models.RecordingRow
// a caller actually wants: timestamps rendered both as ISO-8601 UTC and
// Unix seconds, per spec.md §6.
type RecordingView struct {
	ID              string
	Stream          string
	FilePath        string
	ThumbnailPath   string
	WallStartISO    string
	WallStartUnix   int64
	WallEndISO      string
	WallEndUnix     int64
	DurationSeconds float64
	SizeBytes       int64
	Trigger         models.TriggerKind
	HasDetection    bool
	Open            bool
}

func toRecordingView(row *models.RecordingRow) RecordingView {
	return RecordingView{
		ID:              row.ID.String(),
		Stream:          row.Stream,
		FilePath:        row.FilePath,
		ThumbnailPath:   row.ThumbnailPath,
		WallStartISO:    row.WallStart.UTC().Format(time.RFC3339),
		WallStartUnix:   row.WallStart.Unix(),
		WallEndISO:      row.WallEnd.UTC().Format(time.RFC3339),
		WallEndUnix:     row.WallEnd.Unix(),
		DurationSeconds: row.Duration().Seconds(),
		SizeBytes:       row.SizeBytes,
		Trigger:         row.Trigger,
		HasDetection:    row.HasDetection,
		Open:            row.Open,
	}
}

// BatchDeleteRequest selects the recordings a BatchDelete call removes:
// either an explicit ID list or a RecordingFilter, never both — IDs
// takes priority if both are set.
type BatchDeleteRequest struct {
	IDs    []string
	Filter *RecordingFilter
}

// Handle is the API collaborator surface spec.md §6 names:
// list_streams, add_stream, update_stream, delete_stream, probe_stream,
// list_recordings, get_recording, delete_recording, batch_delete,
// batch_delete_progress, onvif_discover. Implemented by *API, which
// wraps a Supervisor and the repository layer.
type Handle interface {
	ListStreams(ctx context.Context) ([]*models.StreamConfig, error)
	AddStream(ctx context.Context, cfg *models.StreamConfig) error
	UpdateStream(ctx context.Context, name string, cfg *models.StreamConfig) error
	DeleteStream(ctx context.Context, name string) error
	ProbeStream(ctx context.Context, rawURL string, protocol models.Protocol) (ingest.ProbeResult, error)

	ListRecordings(ctx context.Context, filter RecordingFilter) ([]RecordingView, error)
	GetRecording(ctx context.Context, id string) (*RecordingView, error)
	DeleteRecording(ctx context.Context, id string) error
	BatchDelete(ctx context.Context, req BatchDeleteRequest) (string, error)
	BatchDeleteProgress(jobID string) (DeleteJobSnapshot, bool)

	OnvifDiscover(ctx context.Context, network string) ([]onvif.Device, error)
}
