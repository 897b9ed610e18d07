package detect

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/packetbus"
)

type countingDetector struct {
	mu    sync.Mutex
	calls int
	boxes []Box
}

func (d *countingDetector) Detect(_ context.Context, _ []byte, threshold float64) ([]Box, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()

	var out []Box
	for _, b := range d.boxes {
		if b.Confidence >= threshold {
			out = append(out, b)
		}
	}
	return out, nil
}

func (d *countingDetector) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func TestSampler_StartStop_RejectsDuplicateAndUnknown(t *testing.T) {
	bus := packetbus.New("cam1", testLogger())
	worker := NewWorker(2)
	ctrl := NewTriggerController(newFakeSegmenter(), nil, &fakePublisher{}, nil, testLogger())
	s := NewSampler(&countingDetector{}, worker, ctrl, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := StreamParams{Interval: time.Hour, Threshold: 0.5}
	require.NoError(t, s.Start(ctx, "cam1", bus, params))
	assert.ErrorIs(t, s.Start(ctx, "cam1", bus, params), ErrAlreadyStarted)

	require.NoError(t, s.Stop("cam1"))
	assert.ErrorIs(t, s.Stop("cam1"), ErrNotStarted)
}

func TestSampler_SampleOnce_FiresTriggerOnKeyframe(t *testing.T) {
	bus := packetbus.New("cam1", testLogger())
	worker := NewWorker(2)
	seg := newFakeSegmenter()
	pub := &fakePublisher{}
	ctrl := NewTriggerController(seg, nil, pub, nil, testLogger())
	det := &countingDetector{boxes: []Box{{Label: "person", Confidence: 0.9}}}
	s := NewSampler(det, worker, ctrl, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := StreamParams{Interval: time.Hour, Threshold: 0.5}
	require.NoError(t, s.Start(ctx, "cam1", bus, params))
	defer s.Stop("cam1")

	bus.Publish(packetbus.Packet{Sequence: 1, Keyframe: true, Data: []byte("frame")})
	time.Sleep(20 * time.Millisecond)

	ss := s.streams["cam1"]
	require.NotNil(t, ss)
	ss.sampleOnce(ctx, s, time.Now())

	assert.Equal(t, 1, det.callCount())
	assert.Equal(t, StateActive, ctrl.StateOf("cam1"))
	assert.Equal(t, 1, pub.count())
}

func TestSampler_SampleOnce_NoFrameYetIsNoop(t *testing.T) {
	bus := packetbus.New("cam1", testLogger())
	worker := NewWorker(2)
	ctrl := NewTriggerController(newFakeSegmenter(), nil, &fakePublisher{}, nil, testLogger())
	det := &countingDetector{}
	s := NewSampler(det, worker, ctrl, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx, "cam1", bus, StreamParams{Interval: time.Hour, Threshold: 0.5}))
	defer s.Stop("cam1")

	ss := s.streams["cam1"]
	ss.sampleOnce(ctx, s, time.Now())
	assert.Zero(t, det.callCount())
}

func TestSampler_StopAll_StopsEveryStream(t *testing.T) {
	busA := packetbus.New("a", testLogger())
	busB := packetbus.New("b", testLogger())
	worker := NewWorker(2)
	ctrl := NewTriggerController(newFakeSegmenter(), nil, &fakePublisher{}, nil, testLogger())
	s := NewSampler(&countingDetector{}, worker, ctrl, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := StreamParams{Interval: time.Hour, Threshold: 0.5}
	require.NoError(t, s.Start(ctx, "a", busA, params))
	require.NoError(t, s.Start(ctx, "b", busB, params))

	s.StopAll()

	assert.ErrorIs(t, s.Stop("a"), ErrNotStarted)
	assert.ErrorIs(t, s.Stop("b"), ErrNotStarted)
}
