package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnector_StartsConnected(t *testing.T) {
	r := NewReconnector(DefaultBackoffConfig())
	assert.Equal(t, StateConnected, r.State())
	assert.Equal(t, 0, r.Attempts())
}

func TestReconnector_RecordFailure_TransitionsAndDoublesDelay(t *testing.T) {
	cfg := BackoffConfig{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: 0}
	r := NewReconnector(cfg)

	d1 := r.RecordFailure()
	assert.Equal(t, StateBackingOff, r.State())
	assert.Equal(t, 100*time.Millisecond, d1)

	d2 := r.RecordFailure()
	assert.Equal(t, 200*time.Millisecond, d2)

	d3 := r.RecordFailure()
	assert.Equal(t, 400*time.Millisecond, d3)

	assert.Equal(t, 3, r.Attempts())
	assert.Equal(t, 3, r.TotalRetries())
}

func TestReconnector_RecordFailure_CapsAtMax(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 4 * time.Second, Jitter: 0}
	r := NewReconnector(cfg)

	for i := 0; i < 10; i++ {
		r.RecordFailure()
	}
	assert.Equal(t, 4*time.Second, r.RecordFailure())
}

func TestReconnector_RecordSuccess_ResetsAttemptsNotTotal(t *testing.T) {
	r := NewReconnector(DefaultBackoffConfig())

	r.RecordFailure()
	r.RecordFailure()
	r.RecordSuccess()

	assert.Equal(t, StateConnected, r.State())
	assert.Equal(t, 0, r.Attempts())
	assert.Equal(t, 2, r.TotalRetries())
}

func TestReconnector_JitterStaysWithinBounds(t *testing.T) {
	cfg := BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Jitter: 0.2}
	r := NewReconnector(cfg)

	for i := 0; i < 20; i++ {
		d := r.RecordFailure()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, cfg.Max+time.Duration(float64(cfg.Max)*cfg.Jitter)+1)
	}
}
