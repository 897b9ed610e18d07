package rtsp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lightnvr/lightnvr/internal/ingest"
)

func TestCheckVideoCodec_AcceptsH264(t *testing.T) {
	assert.NoError(t, checkVideoCodec(&Track{EncodingName: "H264"}))
}

func TestCheckVideoCodec_AcceptsMissingEncodingName(t *testing.T) {
	assert.NoError(t, checkVideoCodec(&Track{EncodingName: ""}))
}

func TestCheckVideoCodec_AcceptsUnrecognizedEncodingName(t *testing.T) {
	assert.NoError(t, checkVideoCodec(&Track{EncodingName: "X-VENDOR-CODEC"}))
}

func TestCheckVideoCodec_RejectsKnownNonH264Codec(t *testing.T) {
	err := checkVideoCodec(&Track{EncodingName: "HEVC"})
	assert.Error(t, err)
	assert.True(t, errors.Is(err, ingest.ErrFatalSource))
}
