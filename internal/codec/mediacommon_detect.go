package codec

import (
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// mediacommonSupportedVideo tracks, for each video codec this registry
// knows about, whether the linked mediacommon version actually implements
// demuxing for it. Detected at init time via type assertion rather than
// hardcoded, so a mediacommon upgrade that drops or adds codec support is
// picked up automatically.
var mediacommonSupportedVideo = struct {
	H264  bool
	H265  bool
	MPEG4 bool
}{}

func init() {
	var h264 mpegts.Codec = &mpegts.CodecH264{}
	mediacommonSupportedVideo.H264 = !isUnsupportedCodec(h264)

	var h265 mpegts.Codec = &mpegts.CodecH265{}
	mediacommonSupportedVideo.H265 = !isUnsupportedCodec(h265)

	var mpeg4 mpegts.Codec = &mpegts.CodecMPEG4Video{}
	mediacommonSupportedVideo.MPEG4 = !isUnsupportedCodec(mpeg4)

	updateRegistryWithDetectedSupport()
}

func isUnsupportedCodec(c mpegts.Codec) bool {
	_, isUnsupported := c.(*mpegts.CodecUnsupported)
	return isUnsupported
}

func updateRegistryWithDetectedSupport() {
	if info, ok := videoRegistry[VideoH264]; ok {
		info.Demuxable = mediacommonSupportedVideo.H264
	}
	if info, ok := videoRegistry[VideoH265]; ok {
		info.Demuxable = mediacommonSupportedVideo.H265
	}
	if info, ok := videoRegistry[VideoMPEG4]; ok {
		info.Demuxable = mediacommonSupportedVideo.MPEG4
	}
}

// IsMediacommonCodecSupported returns whether mediacommon can demux the
// named video codec at the linked version.
func IsMediacommonCodecSupported(codecName string) bool {
	v, ok := ParseVideo(codecName)
	if !ok {
		return false
	}
	switch v {
	case VideoH264:
		return mediacommonSupportedVideo.H264
	case VideoH265:
		return mediacommonSupportedVideo.H265
	case VideoMPEG4:
		return mediacommonSupportedVideo.MPEG4
	default:
		return false
	}
}
