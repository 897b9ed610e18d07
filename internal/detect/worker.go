package detect

import (
	"errors"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrPoolSaturated is returned by Worker.Try when every pool slot is
// already in use; the caller counts this as a skipped sample.
var ErrPoolSaturated = errors.New("detect: worker pool saturated")

// ErrStreamBusy is returned by Worker.Try when the named stream already
// has a detection sample in flight.
var ErrStreamBusy = errors.New("detect: stream already sampling")

// Worker gates concurrent detector invocations across every stream
// with a weighted semaphore (the same bounded-concurrency shape as the
// teacher's logo-download concurrency limit, generalized from HTTP
// fetches to detection sampling), plus a per-stream guard so one slow
// stream's backlog never queues more than one sample at a time.
type Worker struct {
	sem *semaphore.Weighted

	mu      sync.Mutex
	busy    map[string]bool
	dropped uint64
}

// NewWorker creates a Worker bounded at size concurrent samples. size
// <= 0 defaults to runtime.NumCPU().
func NewWorker(size int) *Worker {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Worker{
		sem:  semaphore.NewWeighted(int64(size)),
		busy: make(map[string]bool),
	}
}

// Try reserves a pool slot and the stream's busy flag, runs fn, then
// releases both. It returns ErrPoolSaturated or ErrStreamBusy without
// running fn if either resource is unavailable; both count as a
// dropped sample.
func (w *Worker) Try(stream string, fn func() error) error {
	if !w.sem.TryAcquire(1) {
		w.addDropped()
		return ErrPoolSaturated
	}
	defer w.sem.Release(1)

	w.mu.Lock()
	if w.busy[stream] {
		w.mu.Unlock()
		w.addDropped()
		return ErrStreamBusy
	}
	w.busy[stream] = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		delete(w.busy, stream)
		w.mu.Unlock()
	}()

	return fn()
}

func (w *Worker) addDropped() {
	w.mu.Lock()
	w.dropped++
	w.mu.Unlock()
}

// Dropped returns the cumulative number of samples skipped due to pool
// saturation or a stream already sampling.
func (w *Worker) Dropped() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}
