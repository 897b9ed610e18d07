package packetbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the default bounded queue depth per subscriber.
const DefaultQueueSize = 64

// ErrClosed is returned by Next once a subscription has ended.
var ErrClosed = errors.New("packetbus: subscription closed")

// Subscription is one consumer's bounded view of a Bus. Consumers pull
// packets with Next; Publish pushes into the queue under the
// subscriber's drop policy whenever it would otherwise overflow.
type Subscription struct {
	id     uint64
	kind   string
	policy DropPolicy
	cap    int

	mu     sync.Mutex
	queue  []Packet
	closed bool

	notify  chan struct{}
	drained chan struct{}
	dropped atomic.Uint64
	seeking atomic.Bool // true until the first keyframe is observed

	unsub func()
}

func newSubscription(id uint64, kind string, policy DropPolicy, capacity int, unsub func()) *Subscription {
	s := &Subscription{
		id:      id,
		kind:    kind,
		policy:  policy,
		cap:     capacity,
		queue:   make([]Packet, 0, capacity),
		notify:  make(chan struct{}, 1),
		drained: make(chan struct{}, 1),
		unsub:   unsub,
	}
	s.seeking.Store(true)
	return s
}

// ID returns the subscription's handle, stable for its lifetime.
func (s *Subscription) ID() uint64 { return s.id }

// Kind returns the consumer type tag passed to Subscribe (used only for
// logging/metrics, never for dispatch).
func (s *Subscription) Kind() string { return s.kind }

// Dropped returns the cumulative number of packets this subscriber has
// missed due to queue pressure.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Next blocks until a packet is available, the subscription is closed,
// or ctx is cancelled.
func (s *Subscription) Next(ctx context.Context) (Packet, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			pkt := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			select {
			case s.drained <- struct{}{}:
			default:
			}
			return pkt, nil
		}
		if s.closed {
			s.mu.Unlock()
			return Packet{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Packet{}, ctx.Err()
		}
	}
}

// Unsubscribe removes this subscription from its Bus and wakes any
// blocked Next call with ErrClosed. Idempotent.
func (s *Subscription) Unsubscribe() {
	if s.unsub != nil {
		s.unsub()
	}
}

// close marks the subscription closed and wakes a blocked reader. Called
// by the Bus; never called directly by consumers.
func (s *Subscription) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// enqueue delivers a packet under this subscription's drop policy.
// Called only from the single producer goroutine (Publish), so no
// additional synchronization is needed beyond the subscriber's own mutex.
func (s *Subscription) enqueue(pkt Packet) {
	s.mu.Lock()

	if s.seeking.Load() {
		if !pkt.Keyframe {
			s.mu.Unlock()
			return
		}
		s.seeking.Store(false)
	}

	if len(s.queue) < s.cap {
		s.queue = append(s.queue, pkt)
		s.mu.Unlock()
		s.wake()
		return
	}

	switch s.policy {
	case OverwriteOldestRing:
		s.queue = append(s.queue[1:], pkt)
		s.dropped.Add(1)
	case DropNewest:
		s.dropped.Add(1)
	case DropOldestAfterBlock:
		// The producer-side blocking wait already happened in
		// Bus.Publish before enqueue was called again; by the time we
		// get here the queue is still full, so drop the oldest
		// non-keyframe entry to make room, or the literal oldest if
		// every queued packet is a keyframe.
		idx := s.oldestDroppableLocked()
		s.queue = append(s.queue[:idx], s.queue[idx+1:]...)
		s.queue = append(s.queue, pkt)
		s.dropped.Add(1)
	default:
		s.dropped.Add(1)
	}

	s.mu.Unlock()
	s.wake()
}

// oldestDroppableLocked returns the index of the oldest non-keyframe
// packet in the queue, or 0 if every packet is a keyframe. Caller holds
// s.mu.
func (s *Subscription) oldestDroppableLocked() int {
	for i, pkt := range s.queue {
		if !pkt.Keyframe {
			return i
		}
	}
	return 0
}

// full reports whether the subscriber's queue is at capacity. Used by
// Publish to decide whether DropOldestAfterBlock subscribers need the
// blocking grace window before enqueue proceeds with its drop.
func (s *Subscription) full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) >= s.cap
}

// waitForSpace blocks up to window for a consumer to drain the queue.
// Used only by DropOldestAfterBlock subscribers; returns as soon as the
// queue has room or the window elapses, whichever comes first.
func (s *Subscription) waitForSpace(window time.Duration) {
	deadline := time.Now().Add(window)
	for s.full() {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		select {
		case <-s.drained:
		case <-time.After(remaining):
			return
		}
	}
}
