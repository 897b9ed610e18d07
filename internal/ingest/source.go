// Package ingest holds exactly one live network connection per enabled
// camera and produces an ordered packet sequence on a packetbus.Bus,
// reconnecting with backoff on transient failure.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
)

// ErrNoVideoStream is returned by Start when DESCRIBE/probe succeeds but
// the source advertises no video media.
var ErrNoVideoStream = errors.New("ingest: source has no video stream")

// ErrFatalSource is wrapped around errors that should not be retried
// (e.g. authentication rejected, malformed URL).
var ErrFatalSource = errors.New("ingest: fatal source error")

// ConnectTimeout bounds how long Start may take to establish the
// connection and negotiate the session.
const ConnectTimeout = 5 * time.Second

// StopGrace bounds how long Stop waits for an in-flight Run to observe
// cancellation before returning anyway.
const StopGrace = 2 * time.Second

// ProbeResult is what the protocol test surface returns for a candidate
// camera URL before it's saved as a StreamConfig.
type ProbeResult struct {
	Width  int
	Height int
	FPS    float64
	Codec  string
}

// Source holds one live connection to a camera and publishes its
// packets onto a bus. Implementations: rtsp.Source, HTTPSource.
type Source interface {
	// Start opens the connection and negotiates the session. It must
	// return within roughly ConnectTimeout.
	Start(ctx context.Context, cfg *models.StreamConfig, bus *packetbus.Bus) error
	// Run publishes packets onto the bus until EOF, cancellation, or a
	// fatal error. It returns nil on a clean EOF.
	Run(ctx context.Context) error
	// Stop cancels a running Run within StopGrace. Idempotent.
	Stop(ctx context.Context) error
}

// Prober probes a candidate URL without starting a full Run.
type Prober interface {
	Probe(ctx context.Context, url string, protocol models.Protocol) (ProbeResult, error)
}
