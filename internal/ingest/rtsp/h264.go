package rtsp

import (
	"fmt"

	"github.com/pion/rtp"
)

// H.264 NAL unit types relevant to depacketization.
const (
	naluTypeIFrame = 5
	naluTypeSEI    = 6
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeSTAPA  = 24
	naluTypeFUA    = 28
)

// H264Depacketizer reassembles FU-A and STAP-A RTP payloads into
// complete AVC-framed (4-byte length prefixed) access units, caching
// SPS/PPS and prepending them to every keyframe so a downstream muxer
// never has to ask for parameter sets out of band.
type H264Depacketizer struct {
	fragment []byte
	sps      []byte
	pps      []byte

	// OnFrame is called once per complete access unit with AVC-framed
	// NAL units, whether the frame is a keyframe (contains an IDR
	// slice), and the RTP timestamp (raw ticks at the track's clock
	// rate) shared by every packet that made up the access unit.
	OnFrame func(frame []byte, keyframe bool, timestamp uint32)
}

// NewH264Depacketizer creates an H264Depacketizer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{fragment: make([]byte, 0, 256*1024)}
}

// Process feeds one RTP packet into the depacketizer.
func (d *H264Depacketizer) Process(pkt *rtp.Packet) error {
	if len(pkt.Payload) == 0 {
		return nil
	}

	naluType := pkt.Payload[0] & 0x1F
	switch naluType {
	case naluTypeFUA:
		return d.processFUA(pkt)
	case naluTypeSTAPA:
		return d.processSTAPA(pkt)
	default:
		return d.emit(pkt.Payload, naluType, pkt.Marker, pkt.Timestamp)
	}
}

func (d *H264Depacketizer) processFUA(pkt *rtp.Packet) error {
	if len(pkt.Payload) < 2 {
		return fmt.Errorf("rtsp: FU-A payload too short")
	}

	indicator := pkt.Payload[0]
	header := pkt.Payload[1]
	payload := pkt.Payload[2:]

	start := header&0x80 != 0
	end := header&0x40 != 0
	naluType := header & 0x1F

	if start {
		d.fragment = d.fragment[:0]
		d.fragment = append(d.fragment, (indicator&0xE0)|naluType)
	}
	d.fragment = append(d.fragment, payload...)

	if end {
		return d.emit(d.fragment, naluType, pkt.Marker, pkt.Timestamp)
	}
	return nil
}

func (d *H264Depacketizer) processSTAPA(pkt *rtp.Packet) error {
	payload := pkt.Payload[1:]

	var frame []byte
	for len(payload) > 2 {
		size := int(payload[0])<<8 | int(payload[1])
		payload = payload[2:]
		if len(payload) < size {
			return fmt.Errorf("rtsp: STAP-A nalu size exceeds payload")
		}

		nalu := payload[:size]
		payload = payload[size:]

		naluType := nalu[0] & 0x1F
		d.cacheParameterSet(nalu, naluType)
		frame = appendAVC(frame, nalu)
	}

	if len(frame) > 0 && d.OnFrame != nil {
		d.OnFrame(frame, false, pkt.Timestamp)
	}
	return nil
}

func (d *H264Depacketizer) emit(nalu []byte, naluType uint8, marker bool, timestamp uint32) error {
	d.cacheParameterSet(nalu, naluType)

	keyframe := naluType == naluTypeIFrame

	var frame []byte
	if keyframe && len(d.sps) > 0 && len(d.pps) > 0 {
		frame = appendAVC(frame, d.sps)
		frame = appendAVC(frame, d.pps)
	}
	frame = appendAVC(frame, nalu)

	if marker && d.OnFrame != nil {
		d.OnFrame(frame, keyframe, timestamp)
	}
	return nil
}

func (d *H264Depacketizer) cacheParameterSet(nalu []byte, naluType uint8) {
	switch naluType {
	case naluTypeSPS:
		d.sps = append(d.sps[:0:0], nalu...)
	case naluTypePPS:
		d.pps = append(d.pps[:0:0], nalu...)
	}
}

// SPS returns the most recently seen SPS NAL unit, or nil.
func (d *H264Depacketizer) SPS() []byte { return d.sps }

// PPS returns the most recently seen PPS NAL unit, or nil.
func (d *H264Depacketizer) PPS() []byte { return d.pps }

func appendAVC(dst, nalu []byte) []byte {
	n := len(nalu)
	dst = append(dst, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	return append(dst, nalu...)
}
