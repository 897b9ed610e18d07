package detect

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightnvr/lightnvr/internal/models"
)

type fakeSegmenter struct {
	mu       sync.Mutex
	extended map[string]time.Duration
	closed   map[string]int
}

func newFakeSegmenter() *fakeSegmenter {
	return &fakeSegmenter{extended: map[string]time.Duration{}, closed: map[string]int{}}
}

func (f *fakeSegmenter) ExtendActive(stream string, extra time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extended[stream] = extra
	return nil
}

func (f *fakeSegmenter) CloseActive(stream string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[stream]++
	return nil
}

func (f *fakeSegmenter) closedCount(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed[stream]
}

type fakePublisher struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *fakePublisher) Publish(_ context.Context, event models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

func TestEvaluate_FiltersByThresholdAndObjectFilter(t *testing.T) {
	boxes := []Box{
		{Label: "person", Confidence: 0.8},
		{Label: "car", Confidence: 0.9},
		{Label: "person", Confidence: 0.1},
	}
	fired := Evaluate(boxes, 0.5, models.ObjectFilter{"person"})
	require.Len(t, fired, 1)
	assert.Equal(t, "person", fired[0].Label)
}

func TestEvaluate_EmptyFilterAcceptsEveryLabel(t *testing.T) {
	boxes := []Box{{Label: "dog", Confidence: 0.6}}
	fired := Evaluate(boxes, 0.5, nil)
	assert.Len(t, fired, 1)
}

func TestTriggerController_OnDetection_RisingEdgeExtendsAndPublishes(t *testing.T) {
	seg := newFakeSegmenter()
	pub := &fakePublisher{}
	c := NewTriggerController(seg, nil, pub, nil, testLogger())

	now := time.Now()
	boxes := []Box{{Label: "person", Confidence: 0.9, X: 0.1, Y: 0.2, W: 0.3, H: 0.4}}

	require.NoError(t, c.OnDetection(context.Background(), "cam1", now, 30*time.Second, boxes))

	assert.Equal(t, StateActive, c.StateOf("cam1"))
	assert.Equal(t, 30*time.Second, seg.extended["cam1"])
	assert.Equal(t, 1, pub.count())
}

func TestTriggerController_OnDetection_ExtendsActiveUntilForward(t *testing.T) {
	seg := newFakeSegmenter()
	pub := &fakePublisher{}
	c := NewTriggerController(seg, nil, pub, nil, testLogger())

	now := time.Now()
	boxes := []Box{{Label: "person", Confidence: 0.9}}

	require.NoError(t, c.OnDetection(context.Background(), "cam1", now, 10*time.Second, boxes))
	require.NoError(t, c.OnDetection(context.Background(), "cam1", now.Add(5*time.Second), 10*time.Second, boxes))

	st := c.stateFor("cam1")
	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Equal(t, now.Add(15*time.Second), st.activeUntil)
}

func TestTriggerController_Sweep_ClosesExpiredStream(t *testing.T) {
	seg := newFakeSegmenter()
	pub := &fakePublisher{}
	c := NewTriggerController(seg, nil, pub, nil, testLogger())

	now := time.Now()
	require.NoError(t, c.OnDetection(context.Background(), "cam1", now, 10*time.Second, []Box{{Label: "person", Confidence: 0.9}}))

	c.Sweep(now.Add(5 * time.Second))
	assert.Equal(t, StateActive, c.StateOf("cam1"))
	assert.Equal(t, 0, seg.closedCount("cam1"))

	c.Sweep(now.Add(11 * time.Second))
	assert.Equal(t, StateIdle, c.StateOf("cam1"))
	assert.Equal(t, 1, seg.closedCount("cam1"))
}

func TestTriggerController_OnStreamDisabled_ClosesActiveImmediately(t *testing.T) {
	seg := newFakeSegmenter()
	pub := &fakePublisher{}
	c := NewTriggerController(seg, nil, pub, nil, testLogger())

	now := time.Now()
	require.NoError(t, c.OnDetection(context.Background(), "cam1", now, time.Minute, []Box{{Label: "person", Confidence: 0.9}}))

	c.OnStreamDisabled("cam1")
	assert.Equal(t, 1, seg.closedCount("cam1"))
	assert.Equal(t, StateIdle, c.StateOf("cam1"))
}

func TestTriggerController_StateOf_UnknownStreamIsIdle(t *testing.T) {
	c := NewTriggerController(newFakeSegmenter(), nil, &fakePublisher{}, nil, testLogger())
	assert.Equal(t, StateIdle, c.StateOf("never-seen"))
}
