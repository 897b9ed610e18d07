package supervisor

import (
	"sync"
	"time"

	"github.com/lightnvr/lightnvr/internal/errs"
)

// StreamHealth is the runtime counterpart of a models.StreamConfig row:
// the Supervisor's current view of one camera's connection state. It is
// never persisted — a restart starts every stream from StateConnecting
// again, same as a physical NVR.
type StreamHealth struct {
	State       ConnState
	LastErrKind errs.Kind
	LastError   string
	LastErrorAt time.Time
	ReconnectAt time.Time
	ConnectedAt time.Time
	RecordingOn bool
	DetectingOn bool
}

// ConnState is a stream's ingest connection state.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateConnected
	StateBackingOff
	StateDisabled
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing_off"
	case StateDisabled:
		return "disabled"
	default:
		return "connecting"
	}
}

// healthTracker holds every stream's StreamHealth behind one mutex; the
// set of streams changes only on Reload, and reads happen far more often
// than writes, so a single lock is simpler than per-stream locking and
// cheap enough at the stream counts this core targets.
type healthTracker struct {
	mu    sync.Mutex
	state map[string]*StreamHealth
}

func newHealthTracker() *healthTracker {
	return &healthTracker{state: make(map[string]*StreamHealth)}
}

func (h *healthTracker) set(stream string, fn func(*StreamHealth)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.state[stream]
	if !ok {
		st = &StreamHealth{State: StateConnecting}
		h.state[stream] = st
	}
	fn(st)
}

func (h *healthTracker) get(stream string) (StreamHealth, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.state[stream]
	if !ok {
		return StreamHealth{}, false
	}
	return *st, true
}

func (h *healthTracker) remove(stream string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.state, stream)
}

func (h *healthTracker) all() map[string]StreamHealth {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string]StreamHealth, len(h.state))
	for k, v := range h.state {
		out[k] = *v
	}
	return out
}

func (h *healthTracker) recordFatal(stream string, err error) {
	kind, _ := errs.KindOf(err)
	h.set(stream, func(st *StreamHealth) {
		st.State = StateDisabled
		st.LastErrKind = kind
		st.LastError = err.Error()
		st.LastErrorAt = time.Now()
	})
}

func (h *healthTracker) recordTransient(stream string, err error, reconnectAt time.Time) {
	kind, _ := errs.KindOf(err)
	h.set(stream, func(st *StreamHealth) {
		st.State = StateBackingOff
		st.LastErrKind = kind
		st.LastError = err.Error()
		st.LastErrorAt = time.Now()
		st.ReconnectAt = reconnectAt
	})
}

func (h *healthTracker) recordConnected(stream string) {
	h.set(stream, func(st *StreamHealth) {
		st.State = StateConnected
		st.ConnectedAt = time.Now()
	})
}
