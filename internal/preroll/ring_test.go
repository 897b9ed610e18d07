package preroll

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

func TestNewRing_SizesForFpsAndCushion(t *testing.T) {
	r := NewRing(4*time.Second, 10)
	assert.Equal(t, int(4*10*1.2)+SizeCushion, r.cap)
}

func TestRing_PushEvictsOldestPastCapacity(t *testing.T) {
	r := NewRing(time.Second, 1) // small ring: cap = 1*1*1.2(=1) + 64 = 65
	base := time.Now()
	for i := 0; i < r.cap+5; i++ {
		r.Push(packetbus.Packet{Sequence: uint64(i), Keyframe: i == 0}, base.Add(time.Duration(i)*time.Millisecond))
	}
	assert.Equal(t, r.cap, r.Len())

	ordered := r.ordered()
	assert.Equal(t, uint64(5), ordered[0].pkt.Sequence)
}

func TestRing_DrainFromLastKeyframe_StartsOnEarlierKeyframe(t *testing.T) {
	r := NewRing(2*time.Second, 10)
	base := time.Now()

	r.Push(packetbus.Packet{Sequence: 1, Keyframe: true}, base)
	r.Push(packetbus.Packet{Sequence: 2, Keyframe: false}, base.Add(500*time.Millisecond))
	r.Push(packetbus.Packet{Sequence: 3, Keyframe: true}, base.Add(1*time.Second))
	r.Push(packetbus.Packet{Sequence: 4, Keyframe: false}, base.Add(1500*time.Millisecond))
	r.Push(packetbus.Packet{Sequence: 5, Keyframe: false}, base.Add(2*time.Second))

	now := base.Add(3 * time.Second) // cutoff = now - 2s = base+1s
	out := r.DrainFromLastKeyframe(now)

	assert.Equal(t, uint64(3), out[0].Sequence)
	assert.Len(t, out, 3)
	assert.True(t, out[0].Keyframe)
}

func TestRing_DrainFromLastKeyframe_FallsBackToEarliestKeyframe(t *testing.T) {
	r := NewRing(2*time.Second, 10)
	base := time.Now()

	r.Push(packetbus.Packet{Sequence: 1, Keyframe: true}, base)
	r.Push(packetbus.Packet{Sequence: 2, Keyframe: false}, base.Add(100*time.Millisecond))

	// cutoff lands before the ring's earliest entry.
	out := r.DrainFromLastKeyframe(base.Add(50 * time.Millisecond))
	assert.Len(t, out, 2)
	assert.Equal(t, uint64(1), out[0].Sequence)
}

func TestRing_DrainFromLastKeyframe_EmptyRingReturnsNil(t *testing.T) {
	r := NewRing(2*time.Second, 10)
	assert.Nil(t, r.DrainFromLastKeyframe(time.Now()))
}

func TestRing_Clear_DropsBufferedPackets(t *testing.T) {
	r := NewRing(2*time.Second, 10)
	r.Push(packetbus.Packet{Sequence: 1, Keyframe: true}, time.Now())
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Nil(t, r.DrainFromLastKeyframe(time.Now()))
}
