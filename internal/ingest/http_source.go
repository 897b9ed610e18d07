package ingest

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/models"
	"github.com/lightnvr/lightnvr/internal/packetbus"
	"github.com/lightnvr/lightnvr/pkg/httpclient"
)

// HTTPSource implements Source over a chunked multipart/x-mixed-replace
// MJPEG GET. It satisfies the same contract as the RTSP source so
// callers never branch on protocol: every JPEG frame it reads is
// published as a keyframe (MJPEG has no inter-frame prediction, so
// every frame stands alone).
type HTTPSource struct {
	logger *slog.Logger
	client *httpclient.Client

	mu     sync.Mutex
	body   io.ReadCloser
	reader *multipart.Reader
	bus    *packetbus.Bus
	stream string
	seq    uint64

	cancel context.CancelFunc
}

// NewHTTPSource creates an HTTPSource. logger may be nil.
func NewHTTPSource(logger *slog.Logger) *HTTPSource {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := httpclient.DefaultConfig()
	cfg.Logger = logger
	// The GET stays open for the lifetime of the camera connection; the
	// stdlib client's Timeout covers body reads too, so it must be
	// disabled here and bounded instead by ConnectTimeout on the
	// initial round trip via the context passed to Start.
	cfg.Timeout = 0
	cfg.BaseClient = &http.Client{Timeout: 0}
	return &HTTPSource{logger: logger, client: httpclient.New(cfg)}
}

// Start issues the GET and validates the response is a multipart MJPEG
// stream; it does not read any frames yet.
func (s *HTTPSource) Start(ctx context.Context, cfg *models.StreamConfig, bus *packetbus.Bus) error {
	// The body outlives Start, so the request context is cancelled only
	// if the response has not arrived within ConnectTimeout.
	reqCtx, cancelReq := context.WithCancel(ctx)
	timer := time.AfterFunc(ConnectTimeout, cancelReq)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		cancelReq()
		return fmt.Errorf("%w: building request: %w", ErrFatalSource, err)
	}

	resp, err := s.client.DoWithContext(reqCtx, req)
	if !timer.Stop() {
		if err == nil {
			_ = resp.Body.Close()
		}
		return fmt.Errorf("http get: %w", context.DeadlineExceeded)
	}
	if err != nil {
		cancelReq()
		return fmt.Errorf("http get: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		return fmt.Errorf("%w: status %d", ErrFatalSource, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		_ = resp.Body.Close()
		return fmt.Errorf("%w: not a multipart mjpeg response (content-type %q)", ErrNoVideoStream, resp.Header.Get("Content-Type"))
	}
	boundary, ok := params["boundary"]
	if !ok || boundary == "" {
		_ = resp.Body.Close()
		return fmt.Errorf("%w: missing multipart boundary", ErrFatalSource)
	}

	s.mu.Lock()
	s.body = resp.Body
	s.bus = bus
	s.stream = cfg.Name
	s.mu.Unlock()

	s.reader = multipart.NewReader(bufio.NewReader(resp.Body), boundary)
	return nil
}

// Run reads JPEG parts from the multipart stream and publishes each as
// a keyframe packet until ctx is cancelled or the stream ends.
func (s *HTTPSource) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	go func() {
		<-runCtx.Done()
		s.mu.Lock()
		body := s.body
		s.mu.Unlock()
		if body != nil {
			_ = body.Close()
		}
	}()

	for {
		part, err := s.reader.NextPart()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			return fmt.Errorf("read mjpeg part: %w", err)
		}

		data, err := io.ReadAll(part)
		_ = part.Close()
		if err != nil {
			if runCtx.Err() != nil {
				return runCtx.Err()
			}
			return fmt.Errorf("read mjpeg frame: %w", err)
		}
		if len(data) == 0 {
			continue
		}

		s.publish(data)
	}
}

// Stop cancels any in-flight Run and closes the connection.
func (s *HTTPSource) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	body := s.body
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- body.Close() }()

	select {
	case err := <-done:
		return err
	case <-time.After(StopGrace):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe issues a single GET and validates the content type without
// consuming any frames.
func (s *HTTPSource) Probe(ctx context.Context, rawURL string, protocol models.Protocol) (ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ProbeResult{}, fmt.Errorf("%w: %w", ErrFatalSource, err)
	}

	resp, err := s.client.DoWithContext(ctx, req)
	if err != nil {
		return ProbeResult{}, err
	}
	defer resp.Body.Close()

	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return ProbeResult{}, fmt.Errorf("%w: content-type %q", ErrNoVideoStream, resp.Header.Get("Content-Type"))
	}
	return ProbeResult{Codec: "mjpeg"}, nil
}

func (s *HTTPSource) publish(frame []byte) {
	s.mu.Lock()
	bus := s.bus
	stream := s.stream
	s.seq++
	seq := s.seq
	s.mu.Unlock()

	if bus == nil {
		return
	}

	bus.Publish(packetbus.Packet{
		Stream:   stream,
		Sequence: seq,
		PTS:      time.Duration(seq) * time.Millisecond,
		Data:     frame,
		Keyframe: true,
		Codec:    "mjpeg",
	})
}
