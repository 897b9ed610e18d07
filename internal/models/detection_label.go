package models

import "gorm.io/gorm"

// DetectionLabel is one detected object instance, attributed to a
// stream and a point in wall-clock time. A RecordingRow's has_detection
// flag is true iff at least one DetectionLabel exists within its
// [wall_start, wall_end) window for the same stream.
type DetectionLabel struct {
	BaseModel

	Stream     string  `gorm:"not null;size:63;index" json:"stream"`
	WallTime   Time    `gorm:"not null;index" json:"wall_time"`
	Label      string  `gorm:"not null;size:128;index" json:"label"`
	Confidence float64 `gorm:"not null" json:"confidence"`

	// BBox is "x,y,w,h" normalized to [0,1], stored as a compact string
	// rather than four separate columns since it is read back as a
	// whole, never queried by coordinate.
	BBox string `gorm:"size:64" json:"bbox"`

	TrackID string `gorm:"size:64" json:"track_id,omitempty"`
	ZoneID  string `gorm:"size:64" json:"zone_id,omitempty"`
}

// TableName returns the table name for DetectionLabel.
func (DetectionLabel) TableName() string {
	return "detection_labels"
}

// BeforeCreate is a GORM hook that generates a ULID.
func (d *DetectionLabel) BeforeCreate(tx *gorm.DB) error {
	return d.BaseModel.BeforeCreate(tx)
}

// Event is the wire shape published to the event-publish interface
// (spec §6 "Detection event stream"), grouping every label observed in
// one detector invocation for a stream.
type Event struct {
	Stream     string      `json:"stream"`
	Timestamp  Time        `json:"timestamp"`
	Detections []EventItem `json:"detections"`
}

// EventItem is one detection within an Event.
type EventItem struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	BBox       string  `json:"bbox"`
	TrackID    string  `json:"track_id,omitempty"`
	ZoneID     string  `json:"zone_id,omitempty"`
}
