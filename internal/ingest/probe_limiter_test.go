package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbeLimiter_AcquireRelease(t *testing.T) {
	l := NewProbeLimiter(ProbeLimiterConfig{MaxPerHost: 1, MaxGlobal: 2, AcquireWait: time.Second})

	release, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}

func TestProbeLimiter_BlocksWhenHostSaturated(t *testing.T) {
	l := NewProbeLimiter(ProbeLimiterConfig{MaxPerHost: 1, MaxGlobal: 10, AcquireWait: 200 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	assert.ErrorIs(t, err, ErrProbeLimitExceeded)

	release()
}

func TestProbeLimiter_ReleaseWakesWaiter(t *testing.T) {
	l := NewProbeLimiter(ProbeLimiterConfig{MaxPerHost: 1, MaxGlobal: 10, AcquireWait: time.Second})

	release, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		r, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
		if err == nil {
			r()
		}
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken")
	}
}

func TestProbeLimiter_DifferentHostsDontContend(t *testing.T) {
	l := NewProbeLimiter(ProbeLimiterConfig{MaxPerHost: 1, MaxGlobal: 10, AcquireWait: time.Second})

	r1, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	require.NoError(t, err)
	defer r1()

	r2, err := l.Acquire(context.Background(), "rtsp://cam2.example.com/stream")
	require.NoError(t, err)
	defer r2()
}

func TestProbeLimiter_GlobalCapEnforced(t *testing.T) {
	l := NewProbeLimiter(ProbeLimiterConfig{MaxPerHost: 10, MaxGlobal: 1, AcquireWait: 100 * time.Millisecond})

	release, err := l.Acquire(context.Background(), "rtsp://cam1.example.com/stream")
	require.NoError(t, err)
	defer release()

	_, err = l.Acquire(context.Background(), "rtsp://cam2.example.com/stream")
	assert.ErrorIs(t, err, ErrProbeLimitExceeded)
}
