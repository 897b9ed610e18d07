package rtsp

import (
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nalPacket(payload []byte, marker bool) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{Marker: marker}, Payload: payload}
}

func TestH264Depacketizer_SingleNALU(t *testing.T) {
	d := NewH264Depacketizer()

	var got []byte
	var keyframe bool
	d.OnFrame = func(frame []byte, kf bool, ts uint32) {
		got = frame
		keyframe = kf
	}

	nalu := append([]byte{0x41}, []byte("pframedata")...) // type 1, P-frame
	require.NoError(t, d.Process(nalPacket(nalu, true)))

	require.NotNil(t, got)
	assert.False(t, keyframe)
	// 4-byte length prefix + nalu
	assert.Equal(t, len(nalu), int(got[0])<<24|int(got[1])<<16|int(got[2])<<8|int(got[3]))
}

func TestH264Depacketizer_FUAReassembly(t *testing.T) {
	d := NewH264Depacketizer()

	var got []byte
	d.OnFrame = func(frame []byte, kf bool, ts uint32) { got = frame }

	fuIndicator := byte(0x3C)       // NRI bits + type 28 (FU-A)
	startHeader := byte(0x85)       // start bit + type 5 (IDR)
	middleHeader := byte(0x05)      // type 5, no start/end
	endHeader := byte(0x45)         // end bit + type 5

	require.NoError(t, d.Process(nalPacket([]byte{fuIndicator, startHeader, 'a', 'b'}, false)))
	require.NoError(t, d.Process(nalPacket([]byte{fuIndicator, middleHeader, 'c', 'd'}, false)))
	require.NoError(t, d.Process(nalPacket([]byte{fuIndicator, endHeader, 'e', 'f'}, true)))

	require.NotNil(t, got)
	// No SPS/PPS cached yet, so just the length-prefixed IDR nalu.
	reassembled := got[4:]
	assert.Equal(t, []byte{0x25, 'a', 'b', 'c', 'd', 'e', 'f'}, reassembled)
}

func TestH264Depacketizer_PrependsSPSPPSToKeyframe(t *testing.T) {
	d := NewH264Depacketizer()

	var frames [][]byte
	var keyframes []bool
	d.OnFrame = func(frame []byte, kf bool, ts uint32) {
		frames = append(frames, frame)
		keyframes = append(keyframes, kf)
	}

	sps := []byte{0x67, 0x01, 0x02}
	pps := []byte{0x68, 0x03}
	idr := append([]byte{0x65}, []byte("idrdata")...)

	require.NoError(t, d.Process(nalPacket(sps, true)))
	require.NoError(t, d.Process(nalPacket(pps, true)))
	require.NoError(t, d.Process(nalPacket(idr, true)))

	require.Len(t, frames, 3)
	assert.True(t, keyframes[2])

	// Third frame: SPS + PPS + IDR, each length-prefixed.
	third := frames[2]
	expectedLen := 4 + len(sps) + 4 + len(pps) + 4 + len(idr)
	assert.Equal(t, expectedLen, len(third))
}

func TestH264Depacketizer_STAPA(t *testing.T) {
	d := NewH264Depacketizer()

	var got []byte
	d.OnFrame = func(frame []byte, kf bool, ts uint32) { got = frame }

	sps := []byte{0x67, 0xAA}
	pps := []byte{0x68, 0xBB}

	payload := []byte{0x18} // STAP-A header
	payload = append(payload, byte(len(sps)>>8), byte(len(sps)))
	payload = append(payload, sps...)
	payload = append(payload, byte(len(pps)>>8), byte(len(pps)))
	payload = append(payload, pps...)

	require.NoError(t, d.Process(nalPacket(payload, false)))

	require.NotNil(t, got)
	assert.Equal(t, sps, d.SPS())
	assert.Equal(t, pps, d.PPS())
}

func TestH264Depacketizer_EmptyPayloadIsNoop(t *testing.T) {
	d := NewH264Depacketizer()
	d.OnFrame = func(frame []byte, kf bool, ts uint32) { t.Fatal("should not be called") }
	require.NoError(t, d.Process(nalPacket(nil, true)))
}
