package detect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorker_Try_RunsFnWithinCapacity(t *testing.T) {
	w := NewWorker(2)
	var ran bool
	err := w.Try("cam1", func() error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Zero(t, w.Dropped())
}

func TestWorker_Try_SaturatedPoolDrops(t *testing.T) {
	w := NewWorker(1)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = w.Try("cam1", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := w.Try("cam2", func() error { return nil })
	assert.ErrorIs(t, err, ErrPoolSaturated)
	assert.Equal(t, uint64(1), w.Dropped())

	close(release)
}

func TestWorker_Try_SameStreamBusyDrops(t *testing.T) {
	w := NewWorker(4)
	release := make(chan struct{})
	started := make(chan struct{})

	go func() {
		_ = w.Try("cam1", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := w.Try("cam1", func() error { return nil })
	assert.ErrorIs(t, err, ErrStreamBusy)
	assert.Equal(t, uint64(1), w.Dropped())

	close(release)
}

func TestWorker_Try_ConcurrentDistinctStreams(t *testing.T) {
	w := NewWorker(4)
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]bool{}

	for _, stream := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(stream string) {
			defer wg.Done()
			err := w.Try(stream, func() error {
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				seen[stream] = true
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}(stream)
	}
	wg.Wait()

	assert.Len(t, seen, 3)
	assert.Zero(t, w.Dropped())
}
