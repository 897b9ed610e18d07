package packetbus

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Bus is a single-producer, multi-consumer fan-out for one Ingest's
// packet stream. Publish is meant to be called from exactly one
// goroutine (the stream's Ingest worker); Subscribe/Unsubscribe may be
// called concurrently from anywhere and take a short lock.
type Bus struct {
	stream string
	logger *slog.Logger

	nextID uint64

	mu   sync.RWMutex
	subs map[uint64]*Subscription

	closed atomic.Bool
}

// New creates a Bus for one stream's packet fan-out.
func New(stream string, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		stream: stream,
		logger: logger,
		subs:   make(map[uint64]*Subscription),
	}
}

// Subscribe registers a new consumer with the given queue depth and drop
// policy. A subscriber added mid-stream only starts receiving from the
// next keyframe, so it never decodes from a partial GOP.
func (b *Bus) Subscribe(kind string, queueSize int, policy DropPolicy) *Subscription {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	id := atomic.AddUint64(&b.nextID, 1)

	var sub *Subscription
	sub = newSubscription(id, kind, policy, queueSize, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		sub.close()
	})

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", slog.String("stream", b.stream), slog.String("kind", kind), slog.Uint64("handle", id))
	return sub
}

// Publish fans a packet out to every current subscriber in producer
// order. Each subscriber's drop policy decides what happens if that
// subscriber is behind; a lagging subscriber never blocks delivery to
// the others beyond its own DropOldestAfterBlock grace window.
func (b *Bus) Publish(pkt Packet) {
	if b.closed.Load() {
		return
	}

	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		clone := pkt.Clone()
		if sub.policy == DropOldestAfterBlock && sub.full() {
			sub.waitForSpace(BlockWindow)
		}
		wasDropping := sub.Dropped()
		sub.enqueue(clone)
		if sub.Dropped() > wasDropping {
			b.logger.Warn("subscriber dropped packet",
				slog.String("stream", b.stream),
				slog.String("kind", sub.kind),
				slog.Uint64("handle", sub.id),
				slog.Uint64("total_dropped", sub.Dropped()),
			)
		}
	}
}

// SubscriberCount returns the number of currently registered subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close unsubscribes and wakes every current subscriber. Further
// Publish calls are no-ops.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
