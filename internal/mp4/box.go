package mp4

import (
	"bytes"
	"encoding/binary"
)

// box wraps payload in a standard ISO BMFF box: a 4-byte big-endian
// size followed by the 4-byte type and the payload itself. mediacommon
// exposes the codec parameter structs this package reuses (h264.SPS,
// the avc1 SPS/PPS pair) but no progressive moov/mdat assembler, so the
// container itself is built at this level.
func box(boxType string, payload []byte) []byte {
	out := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(out, uint32(8+len(payload)))
	copy(out[4:8], boxType)
	return append(out, payload...)
}

// fullBox wraps payload with the version+flags header shared by most
// moov descendants.
func fullBox(boxType string, version byte, flags uint32, payload []byte) []byte {
	header := make([]byte, 4)
	header[0] = version
	header[1] = byte(flags >> 16)
	header[2] = byte(flags >> 8)
	header[3] = byte(flags)
	return box(boxType, append(header, payload...))
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

// fixed16_16 encodes a 16.16 fixed-point value, used for tkhd
// width/height.
func fixed16_16(whole uint16) []byte {
	return u32(uint32(whole) << 16)
}

func cstring(s string) []byte {
	return append([]byte(s), 0)
}

func concat(parts ...[]byte) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(p)
	}
	return buf.Bytes()
}
