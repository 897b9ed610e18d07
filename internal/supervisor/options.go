package supervisor

import (
	"github.com/lightnvr/lightnvr/internal/detect"
	"github.com/lightnvr/lightnvr/internal/mp4"
)

// Options supplies the external collaborators the core itself never
// implements: the embedded detection model, a real keyframe-to-JPEG
// thumbnailer, and wherever detection events should ultimately be
// delivered. Every field is optional; a nil value falls back to the
// documented no-op behavior.
type Options struct {
	// Inference wires an embedded ONNX/CNN model's callable for streams
	// whose StreamConfig names a DetectionModel and no process-wide
	// detection.http_endpoint is configured. A stream left without
	// either is started with recording/HLS/pre-roll but no detection
	// sampler, logged once at startup.
	Inference detect.InferenceFunc
	// Thumbnails decodes a closed segment's keyframe into a still image.
	// Nil skips thumbnail generation entirely.
	Thumbnails mp4.ThumbnailGenerator
	// Publisher receives every firing detection event. Nil falls back to
	// detect.NewLoggingPublisher.
	Publisher detect.EventPublisher
}
