package hls

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// MPEG-TS PID assignment. One video track per stream; audio is not
// currently produced by any Source implementation, so no audio PID is
// reserved.
const (
	videoPID = 0x0100
)

// tsMuxer wraps mediacommon's mpegts.Writer with a single H.264 video
// track, buffering each call's output into memory. One tsMuxer backs
// exactly one segment file: it is created fresh per segment so every
// resulting .ts file carries its own PAT/PMT and can be opened
// standalone, and discarded once the segment closes.
type tsMuxer struct {
	mu  sync.Mutex
	buf *bytes.Buffer

	writer     *mpegts.Writer
	videoTrack *mpegts.Track
}

// newTSMuxer creates a tsMuxer writing into a fresh in-memory buffer
// and emits the initial PAT/PMT tables.
func newTSMuxer() (*tsMuxer, error) {
	buf := &bytes.Buffer{}
	track := &mpegts.Track{PID: videoPID, Codec: &mpegts.CodecH264{}}
	w := &mpegts.Writer{W: buf, Tracks: []*mpegts.Track{track}}
	if err := w.Initialize(); err != nil {
		return nil, fmt.Errorf("hls: initializing mpegts writer: %w", err)
	}
	return &tsMuxer{buf: buf, writer: w, videoTrack: track}, nil
}

// WriteVideo writes one access unit. data is AVC-framed (4-byte length
// prefixed NAL units), which is exactly what internal/ingest's H.264
// depacketizer emits.
func (m *tsMuxer) WriteVideo(pts, dts int64, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	au, err := accessUnit(data)
	if err != nil {
		return fmt.Errorf("hls: parsing access unit: %w", err)
	}
	if len(au) == 0 {
		return nil
	}
	return m.writer.WriteH264(m.videoTrack, pts, dts, au)
}

// Bytes returns everything written so far.
func (m *tsMuxer) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Bytes()
}

// accessUnit converts AVC (length-prefixed) or Annex B (start-code
// prefixed) H.264 data into mediacommon's access-unit shape.
func accessUnit(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && (data[2] == 1 || (data[2] == 0 && data[3] == 1)) {
		var au h264.AnnexB
		if err := au.Unmarshal(data); err != nil {
			return [][]byte{data}, nil
		}
		return au, nil
	}

	var au h264.AVCC
	if err := au.Unmarshal(data); err == nil && len(au) > 0 {
		return au, nil
	}
	return [][]byte{data}, nil
}
