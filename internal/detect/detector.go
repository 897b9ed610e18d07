// Package detect samples decoded frames against an object detector,
// evaluates the per-stream trigger rule, and drives Mp4Segmenter's
// detection-extension hooks through an explicit Idle/Active state
// machine.
package detect

import "context"

// Box is one detected object instance within a sampled frame.
// Coordinates are normalized to [0,1] against the frame's own
// width/height, matching models.DetectionLabel's stored BBox.
type Box struct {
	Label      string
	Confidence float64
	X, Y, W, H float64
	TrackID    string
}

// Detector is the single capability both detector backends implement.
// The Supervisor chooses one concrete variant at build time (ONNXDetector
// or HTTPDetector); nothing in this package dispatches on a string
// backend name.
type Detector interface {
	Detect(ctx context.Context, frame []byte, threshold float64) ([]Box, error)
}
