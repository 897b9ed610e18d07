// Package errs defines the error kind taxonomy shared across the
// recorder core, following the style of the teacher's
// internal/models/errors.go and internal/pipeline/core/errors.go: a
// small wrapper type carrying a stable, loggable kind alongside the
// underlying error.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for health reporting and propagation policy.
// Kinds are a taxonomy, not Go types — callers switch on Kind(), not on
// concrete error types.
type Kind string

const (
	// ConfigInvalid is surfaced at startup and is fatal.
	ConfigInvalid Kind = "config_invalid"
	// SourceTransient covers network glitches; Ingest retries with
	// backoff, writers observe the gap as a discontinuity.
	SourceTransient Kind = "source_transient"
	// SourceFatal covers auth failure, no video stream, or an
	// unsupported codec; the stream moves to Disabled(reason).
	SourceFatal Kind = "source_fatal"
	// DiskFull means writers refuse new segments but keep existing
	// outputs consistent.
	DiskFull Kind = "disk_full"
	// DiskIOError covers read/write failures against the storage root.
	DiskIOError Kind = "disk_io_error"
	// IndexConsistencyError covers SQLite constraint violations or
	// schema mismatches; fatal for the offending transaction only.
	IndexConsistencyError Kind = "index_consistency_error"
	// DetectorError is treated as a skipped sample; it never disables
	// the stream.
	DetectorError Kind = "detector_error"
	// ShutdownTimeout marks the forced-stop path.
	ShutdownTimeout Kind = "shutdown_timeout"
)

// Error wraps an underlying error with a Kind for dispatch by callers
// that need to decide retry/disable/health-flag behavior without
// inspecting error strings.
type Error struct {
	Kind    Kind
	Stream  string // optional: stream name this error pertains to
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Stream != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s [%s] (stream %s): %v", e.Message, e.Kind, e.Stream, e.Err)
		}
		return fmt.Sprintf("%s [%s] (stream %s)", e.Message, e.Kind, e.Stream)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s [%s]: %v", e.Message, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s [%s]", e.Message, e.Kind)
}

// Unwrap returns the underlying error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a kind-tagged error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a kind-tagged error wrapping err.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WrapStream is like Wrap but attributes the error to a named stream,
// the common case for Ingest/detection errors.
func WrapStream(kind Kind, stream, message string, err error) *Error {
	return &Error{Kind: kind, Stream: stream, Message: message, Err: err}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, otherwise returns "" and false.
func KindOf(err error) (Kind, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// Common validation errors for model Validate() methods.
var (
	// ErrNameRequired indicates a StreamConfig name was empty.
	ErrNameRequired = errors.New("name is required")
	// ErrNameInvalid indicates a StreamConfig name exceeded the length
	// limit, contained a slash, or was not printable.
	ErrNameInvalid = errors.New("name must be <= 63 printable characters and contain no '/'")
	// ErrNameDuplicate indicates a StreamConfig name collided with an
	// existing row.
	ErrNameDuplicate = errors.New("name must be unique")
	// ErrURLRequired indicates a StreamConfig URL was empty.
	ErrURLRequired = errors.New("url is required")
	// ErrURLInvalid indicates a StreamConfig URL used an unsupported scheme.
	ErrURLInvalid = errors.New("url must be rtsp://, rtsps://, http://, https://, or a bare host:port")
	// ErrInvalidProtocol indicates a protocol other than tcp/udp.
	ErrInvalidProtocol = errors.New("protocol must be 'tcp' or 'udp'")
	// ErrDetectionBlockPartial indicates a StreamConfig's detection
	// block was neither fully absent nor fully valid.
	ErrDetectionBlockPartial = errors.New("detection block must be fully absent or fully valid")
	// ErrThresholdRange indicates a threshold outside [0,1].
	ErrThresholdRange = errors.New("threshold must be in [0,1]")
)
