package mp4

import "time"

// Segment describes one in-progress or just-closed MP4 recording, the
// plain (non-GORM) counterpart to models.RecordingRow that
// internal/supervisor and internal/api read without touching the
// database. internal/hls mirrors the same shape with its own
// playlistEntry, since a live HLS segment and an archival MP4 segment
// carry different enough fields that sharing one exported struct would
// just grow optional fields neither package needs.
type Segment struct {
	Stream    string
	Sequence  uint64
	FilePath  string
	WallStart time.Time
	WallEnd   time.Time // zero while still open
	SizeBytes int64
}
