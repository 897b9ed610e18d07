package models

import (
	"encoding/json"
	"strings"

	"gorm.io/gorm"

	"github.com/lightnvr/lightnvr/internal/errs"
	"github.com/lightnvr/lightnvr/internal/urlutil"
)

// Protocol is the preferred transport for an RTSP source.
type Protocol string

const (
	ProtocolTCP Protocol = "tcp"
	ProtocolUDP Protocol = "udp"
)

// StorageTier scales retention_days for a stream via a per-tier
// multiplier, and breaks ties (storage_priority) when the retention
// engine selects oldest-first during quota reclamation.
type StorageTier string

const (
	TierCritical  StorageTier = "critical"
	TierImportant StorageTier = "important"
	TierEphemeral StorageTier = "ephemeral"
)

// Multiplier returns the retention_days scaling factor for a tier.
// Unknown/empty tiers are treated as "important" (neutral, 1x).
func (t StorageTier) Multiplier() float64 {
	switch t {
	case TierCritical:
		return 3.0
	case TierEphemeral:
		return 0.25
	default:
		return 1.0
	}
}

// ObjectFilter is a set of detection labels stored as a JSON array in a
// single TEXT column; empty means "no filter, accept every label".
type ObjectFilter []string

// Value implements driver.Valuer.
func (f ObjectFilter) Value() (interface{}, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (f *ObjectFilter) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return nil
	}
	if raw == "" {
		*f = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return err
	}
	*f = out
	return nil
}

// Contains reports whether label passes the filter (empty filter passes
// everything).
func (f ObjectFilter) Contains(label string) bool {
	if len(f) == 0 {
		return true
	}
	for _, l := range f {
		if l == label {
			return true
		}
	}
	return false
}

// StreamConfig is the durable description of one camera. It is the
// source of truth for the set of configured cameras and their
// detection/retention overrides; the file-based global config only
// supplies process-wide defaults applied when a field here is unset.
type StreamConfig struct {
	BaseModel

	// Name is the unique, human-chosen identifier for this camera. Used
	// as the directory component under the storage root, so it must
	// stay filesystem-safe.
	Name string `gorm:"uniqueIndex;not null;size:63" json:"name"`

	URL      string   `gorm:"not null;size:2048" json:"url"`
	Enabled  *bool    `gorm:"default:true" json:"enabled"`
	Protocol Protocol `gorm:"not null;default:'tcp';size:8" json:"protocol"`

	Width  int    `json:"width"`
	Height int    `json:"height"`
	FPS    int    `json:"fps"`
	Codec  string `gorm:"size:32" json:"codec"`

	// Priority orders the stream lists the repository returns (highest
	// first). The Supervisor and the detection worker pool do not read
	// it; detection work is not weighted by it.
	Priority int `gorm:"default:0" json:"priority"`

	Record             *bool `gorm:"default:true" json:"record"`
	SegmentDurationSec int   `gorm:"default:900" json:"segment_duration_sec"`

	// Per-stream retention overrides. RetentionDaysOverride, when set,
	// replaces the global retention.retention_days before Tier scaling.
	RetentionDaysOverride *int        `json:"retention_days_override,omitempty"`
	Tier                  StorageTier `gorm:"size:16;default:'important'" json:"tier"`
	StoragePriority       int         `gorm:"default:0" json:"storage_priority"`

	// Detection block. Model is the discriminator: empty Model means
	// detection is fully disabled for this stream (the block must be
	// fully absent or fully valid, never partial).
	DetectionModel     string       `gorm:"size:255" json:"detection_model,omitempty"`
	DetectionInterval  int64        `json:"detection_interval_ms,omitempty"`
	DetectionThreshold float64      `json:"detection_threshold,omitempty"`
	PreRollSec         int          `json:"pre_roll_sec,omitempty"`
	PostRollSec        int          `json:"post_roll_sec,omitempty"`
	ObjectFilter       ObjectFilter `gorm:"type:text" json:"object_filter,omitempty"`
}

// TableName returns the table name for StreamConfig.
func (StreamConfig) TableName() string {
	return "stream_configs"
}

// HasDetection reports whether the detection block is populated.
func (s *StreamConfig) HasDetection() bool {
	return s.DetectionModel != ""
}

// IsEnabled returns whether the stream should be ingested, defaulting
// to true when unset.
func (s *StreamConfig) IsEnabled() bool {
	return BoolValDefault(s.Enabled, true)
}

// ShouldRecord returns whether MP4 recording is enabled, defaulting to
// true when unset.
func (s *StreamConfig) ShouldRecord() bool {
	return BoolValDefault(s.Record, true)
}

// Sanitize trims whitespace from user-provided fields.
func (s *StreamConfig) Sanitize() {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	s.DetectionModel = strings.TrimSpace(s.DetectionModel)
}

// Validate enforces the StreamConfig invariants from the data model: the
// name is bounded and slash-free, and the detection block is either
// fully absent or fully valid.
func (s *StreamConfig) Validate() error {
	s.Sanitize()

	const maxNameLen = 63
	if s.Name == "" {
		return errs.ErrNameRequired
	}
	if len(s.Name) > maxNameLen || strings.Contains(s.Name, "/") {
		return errs.ErrNameInvalid
	}
	for _, r := range s.Name {
		if r < 0x20 || r == 0x7f {
			return errs.ErrNameInvalid
		}
	}

	if err := urlutil.ValidateURL(s.URL); err != nil {
		return err
	}

	if s.Protocol != ProtocolTCP && s.Protocol != ProtocolUDP {
		return errs.ErrInvalidProtocol
	}

	if s.HasDetection() {
		if s.DetectionThreshold < 0 || s.DetectionThreshold > 1 {
			return errs.ErrThresholdRange
		}
		if s.PreRollSec < 0 || s.PostRollSec < 0 {
			return errs.ErrDetectionBlockPartial
		}
	}

	return nil
}

// BeforeCreate is a GORM hook that validates the row and generates a ULID.
func (s *StreamConfig) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// BeforeUpdate is a GORM hook that re-validates the row before update.
func (s *StreamConfig) BeforeUpdate(tx *gorm.DB) error {
	return s.Validate()
}
