// Package codec identifies the video codec a camera advertises over RTSP
// SDP (or reports via HTTP/MJPEG) and tells the ingest layer whether this
// recorder can actually handle it. The recorder only ever depacketizes and
// muxes H.264; every other video codec is recognized well enough to name in
// an error, not to transcode.
package codec

import "strings"

// Video represents a video codec identified from a camera's media
// description.
type Video string

// Video codec constants. Only VideoH264 is ever ingested successfully;
// the rest exist so an unsupported camera gets a named rejection instead
// of "unknown codec".
const (
	VideoH264  Video = "h264"
	VideoH265  Video = "h265"
	VideoMPEG4 Video = "mpeg4"
	VideoMPEG2 Video = "mpeg2"
	VideoVP8   Video = "vp8"
	VideoVP9   Video = "vp9"
	VideoMJPEG Video = "mjpeg"
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// videoInfo carries the identifying metadata the registry keeps per codec.
type videoInfo struct {
	Name Video
	// Aliases are the RTP encoding names (RFC 3551 "a=rtpmap" payload
	// names) and common string forms that map to this codec.
	Aliases []string
	// Demuxable reports whether mediacommon's MPEG-TS/MP4 demuxer
	// understands this codec. H.264 is the only one this recorder's
	// muxers (internal/hls, internal/mp4) are ever asked to handle.
	Demuxable bool
}

var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name:      VideoH264,
		Aliases:   []string{"h264", "avc", "avc1", "h.264"},
		Demuxable: true,
	},
	VideoH265: {
		Name:      VideoH265,
		Aliases:   []string{"h265", "hevc", "hev1", "hvc1", "h.265"},
		Demuxable: true,
	},
	VideoMPEG4: {
		Name:      VideoMPEG4,
		Aliases:   []string{"mpeg4", "mp4v-es", "mp4v"},
		Demuxable: true,
	},
	VideoMPEG2: {
		Name:      VideoMPEG2,
		Aliases:   []string{"mpeg2", "mpeg2video", "mp2t"},
		Demuxable: true,
	},
	VideoVP8: {
		Name:      VideoVP8,
		Aliases:   []string{"vp8"},
		Demuxable: false,
	},
	VideoVP9: {
		Name:      VideoVP9,
		Aliases:   []string{"vp9", "vp09"},
		Demuxable: false,
	},
	VideoMJPEG: {
		Name:      VideoMJPEG,
		Aliases:   []string{"jpeg", "mjpeg", "mjpg"},
		Demuxable: false,
	},
}

// videoAliasIndex maps every known alias to its canonical codec.
var videoAliasIndex map[string]Video

func init() {
	videoAliasIndex = make(map[string]Video)
	for name, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = name
		}
	}
}

// ParseVideo parses an RTP encoding name or common codec string to a
// canonical Video codec. Returns false for anything not in the registry
// (a dynamic payload type the camera never labeled, or a codec this
// recorder has never heard of).
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	v, ok := videoAliasIndex[strings.ToLower(strings.TrimSpace(s))]
	return v, ok
}

// NormalizeVideo returns the canonical form of a codec/encoding name, or
// the input unchanged if it isn't recognized.
func NormalizeVideo(name string) string {
	if v, ok := ParseVideo(name); ok {
		return string(v)
	}
	return name
}

// IsVideoDemuxable reports whether v can be muxed by this recorder's HLS
// and MP4 writers.
func IsVideoDemuxable(v Video) bool {
	info, ok := videoRegistry[v]
	return ok && info.Demuxable
}
