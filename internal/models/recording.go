package models

import (
	"time"

	"gorm.io/gorm"
)

// TriggerKind records why a segment was opened.
type TriggerKind string

const (
	TriggerSchedule  TriggerKind = "schedule"
	TriggerDetection TriggerKind = "detection"
)

// RecordingRow is the persisted index entry for one closed MP4 segment.
// Deletion is two-phase (§4.7): the row is removed inside a
// transaction, and the backing file is unlinked only after that
// transaction commits, so a crash between the two never leaves an index
// entry pointing at a missing file.
type RecordingRow struct {
	BaseModel

	Stream   string `gorm:"not null;size:63;index" json:"stream"`
	FilePath string `gorm:"not null;size:4096" json:"file_path"`

	WallStart Time `gorm:"not null;index" json:"wall_start"`
	WallEnd   Time `gorm:"not null;index" json:"wall_end"`

	SizeBytes int64       `gorm:"not null;default:0" json:"size_bytes"`
	Trigger   TriggerKind `gorm:"not null;size:16" json:"trigger"`

	ThumbnailPath string `gorm:"size:4096" json:"thumbnail_path,omitempty"`

	// HasDetection is set only by RecordingRepository.SetHasDetection,
	// which nothing in the core calls; a row is indexed with false even
	// when a DetectionLabel exists within [WallStart, WallEnd) for Stream.
	HasDetection bool `gorm:"default:false;index" json:"has_detection"`

	// Open is true while the segment is still being written. Open rows
	// are excluded from quota-driven oldest-first reclamation.
	Open bool `gorm:"default:false;index" json:"open"`
}

// TableName returns the table name for RecordingRow.
func (RecordingRow) TableName() string {
	return "recording_rows"
}

// Duration returns the wall-clock span covered by the segment.
func (r *RecordingRow) Duration() time.Duration {
	return r.WallEnd.Sub(r.WallStart)
}

// BeforeCreate is a GORM hook that generates a ULID.
func (r *RecordingRow) BeforeCreate(tx *gorm.DB) error {
	return r.BaseModel.BeforeCreate(tx)
}
