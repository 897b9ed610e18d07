package detect

import (
	"context"
	"fmt"
)

// InferenceFunc is the shape of an embedded ONNX/CNN model's callable,
// decoding frame and returning every box it finds above no particular
// threshold (ONNXDetector applies the threshold filter itself). The
// model runtime is an external collaborator per the recorder's scope —
// this package never loads weights or talks to a runtime directly, it
// only adapts whatever callable the Supervisor wires in.
type InferenceFunc func(ctx context.Context, frame []byte) ([]Box, error)

// ONNXDetector adapts an embedded model's InferenceFunc to the Detector
// interface, applying the confidence threshold the embedded runtime
// itself does not know about.
type ONNXDetector struct {
	model string
	infer InferenceFunc
}

// NewONNXDetector wraps infer as a Detector for the named model file.
// infer must not be nil.
func NewONNXDetector(model string, infer InferenceFunc) (*ONNXDetector, error) {
	if infer == nil {
		return nil, fmt.Errorf("detect: onnx detector requires a non-nil inference function")
	}
	return &ONNXDetector{model: model, infer: infer}, nil
}

// Detect runs the embedded model and filters its boxes to threshold.
func (d *ONNXDetector) Detect(ctx context.Context, frame []byte, threshold float64) ([]Box, error) {
	boxes, err := d.infer(ctx, frame)
	if err != nil {
		return nil, fmt.Errorf("detect: onnx inference (model %s): %w", d.model, err)
	}

	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence >= threshold {
			out = append(out, b)
		}
	}
	return out, nil
}
