// Package broadcast implements BroadcastHub: lossy, multi-consumer fan-out
// from the ingestion pipeline to WebSocket gateway clients. Consumers that
// fall behind lose their oldest buffered messages rather than backpressure
// the pipeline — a stalled browser tab must never stall trade ingestion.
package broadcast

import (
	"sync"

	"polydearboard/pkg/types"
)

// Topic is a single lossy publish/subscribe channel for one message type.
// Each subscriber gets its own bounded queue; a full queue drops its oldest
// entry to make room for the newest one, and counts how many it has
// dropped since the last DroppedSinceLast call.
type Topic[T any] struct {
	mu          sync.Mutex
	capacity    int
	subscribers map[*subscriber[T]]struct{}
}

type subscriber[T any] struct {
	ch      chan T
	mu      sync.Mutex
	dropped int
}

// NewTopic creates a lossy topic with the given per-subscriber buffer size.
func NewTopic[T any](capacity int) *Topic[T] {
	return &Topic[T]{
		capacity:    capacity,
		subscribers: make(map[*subscriber[T]]struct{}),
	}
}

// Subscription is a live handle into a Topic. Call Unsubscribe when the
// consumer disconnects.
type Subscription[T any] struct {
	topic *Topic[T]
	sub   *subscriber[T]
}

// C returns the channel to receive messages from.
func (s *Subscription[T]) C() <-chan T {
	return s.sub.ch
}

// DroppedSinceLast returns and resets the number of messages dropped for
// this subscriber since the last call — used by gateways that frame a Lag
// signal to the client.
func (s *Subscription[T]) DroppedSinceLast() int {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	n := s.sub.dropped
	s.sub.dropped = 0
	return n
}

// Unsubscribe removes the subscription from the topic. Safe to call once.
func (s *Subscription[T]) Unsubscribe() {
	s.topic.mu.Lock()
	defer s.topic.mu.Unlock()
	delete(s.topic.subscribers, s.sub)
}

// Subscribe registers a new consumer and returns its handle.
func (t *Topic[T]) Subscribe() *Subscription[T] {
	sub := &subscriber[T]{ch: make(chan T, t.capacity)}

	t.mu.Lock()
	t.subscribers[sub] = struct{}{}
	t.mu.Unlock()

	return &Subscription[T]{topic: t, sub: sub}
}

// Publish delivers msg to every current subscriber. A subscriber whose
// queue is full has its oldest entry evicted (non-blocking receive) to make
// room; Publish never blocks regardless of how slow a consumer is.
func (t *Topic[T]) Publish(msg T) {
	t.mu.Lock()
	subs := make([]*subscriber[T], 0, len(t.subscribers))
	for s := range t.subscribers {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- msg:
		default:
			// Queue full: drop the oldest to make room for msg.
			select {
			case <-s.ch:
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			default:
			}
			select {
			case s.ch <- msg:
			default:
				// Another publisher raced us; count this one as dropped too.
				s.mu.Lock()
				s.dropped++
				s.mu.Unlock()
			}
		}
	}
}

// Hub owns the two shared broadcast topics the service exposes:
// whale/resolution alerts and the raw trade feed. Both are fixed-capacity
// per spec; the per-signal-gateway derived stream is not a topic: signal subscriptions
// are created per WebSocket connection by the gateway with its own filter,
// so they aren't modeled as a shared topic here.
type Hub struct {
	Alerts *Topic[types.Alert]
	Trades *Topic[types.LiveTrade]
}

const (
	alertsCapacity = 256
	tradesCapacity = 512
)

// New creates a Hub with the capacities this service always uses.
func New() *Hub {
	return &Hub{
		Alerts: NewTopic[types.Alert](alertsCapacity),
		Trades: NewTopic[types.LiveTrade](tradesCapacity),
	}
}
