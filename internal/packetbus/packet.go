// Package packetbus fans out one Ingest's packet stream to many
// consumers, each with its own bounded queue and back-pressure policy,
// so a slow HLS writer never stalls the detection worker and vice versa.
package packetbus

import "time"

// Packet is one demuxed access unit handed from Ingest to every
// subscriber. PTS/DTS are wall-clock-relative durations since the
// Ingest session started, not rewritten across a reconnect: writers
// that care about continuity detect the discontinuity themselves.
type Packet struct {
	Stream    string
	Sequence  uint64
	PTS       time.Duration
	DTS       time.Duration
	Data      []byte
	Keyframe  bool
	Codec     string
	Reconnect bool // not set by any source in this tree; always false
}

// Clone returns a copy of the packet with its own backing array, so one
// slow subscriber mutating or retaining its queued copy can never
// corrupt another subscriber's view of the same access unit.
func (p Packet) Clone() Packet {
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	p.Data = data
	return p
}
