package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lightnvr/lightnvr/pkg/httpclient"
)

// httpBox is the wire shape a detection endpoint returns: a flat array
// of boxes, already-normalized coordinates, confidence pre-threshold.
type httpBox struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	W          float64 `json:"w"`
	H          float64 `json:"h"`
	TrackID    string  `json:"track_id,omitempty"`
}

// HTTPDetector posts a raw frame to an external detection endpoint and
// decodes its JSON box list, used when detection.http_endpoint is
// configured instead of the embedded ONNX model.
type HTTPDetector struct {
	endpoint string
	client   *httpclient.Client
}

// NewHTTPDetector builds an HTTPDetector posting frames to endpoint.
// timeout bounds each request; the resilient client retries transient
// failures on its own.
func NewHTTPDetector(endpoint string, timeout time.Duration) *HTTPDetector {
	cfg := httpclient.DefaultConfig()
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return &HTTPDetector{endpoint: endpoint, client: httpclient.New(cfg)}
}

// Detect POSTs frame as the request body and decodes the endpoint's JSON
// box array, filtering to threshold.
func (d *HTTPDetector) Detect(ctx context.Context, frame []byte, threshold float64) ([]Box, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("detect: building http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := d.client.DoWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("detect: http detector request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("detect: http detector returned status %d", resp.StatusCode)
	}

	var boxes []httpBox
	if err := json.NewDecoder(resp.Body).Decode(&boxes); err != nil {
		return nil, fmt.Errorf("detect: decoding http detector response: %w", err)
	}

	out := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence < threshold {
			continue
		}
		out = append(out, Box{
			Label:      b.Label,
			Confidence: b.Confidence,
			X:          b.X,
			Y:          b.Y,
			W:          b.W,
			H:          b.H,
			TrackID:    b.TrackID,
		})
	}
	return out, nil
}
