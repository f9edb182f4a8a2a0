// Package eventbus is an in-process typed broadcast bus: one publisher, a
// bounded buffer per subscriber, and per-subscriber gap reporting instead
// of publisher backpressure.
package eventbus

import (
	"sync"

	"github.com/stagehand-run/stagehand/metrics"
	"github.com/stagehand-run/stagehand/model"
)

// DefaultCapacity is the per-subscriber buffer size used when Subscribe is
// called without an explicit capacity.
const DefaultCapacity = 64

// Bus is a single-topic, multi-subscriber broadcaster of model.Event values.
// Delivery is at-most-once and ordered per subscriber; a slow subscriber that
// falls behind has its oldest unread events dropped rather than blocking
// publishers, with the drop count surfaced through Lagged.
type Bus struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
	met  *metrics.Registry
}

// New constructs an empty Bus. met may be nil, in which case lag is not
// published as a metric (Subscription.Lagged still reports it).
func New(met *metrics.Registry) *Bus {
	return &Bus{subs: make(map[*subscription]struct{}), met: met}
}

// Subscription is a handle returned by Subscribe. Callers must call
// Unsubscribe when done to release the subscriber's channel.
type Subscription struct {
	bus *Bus
	sub *subscription
}

type subscription struct {
	mu     sync.Mutex
	ch     chan model.Event
	lagged int
}

// Subscribe registers a new subscriber with the given buffer capacity (or
// DefaultCapacity if cap <= 0) and returns a Subscription handle plus the
// channel to receive events on.
func (b *Bus) Subscribe(capacity int) (*Subscription, <-chan model.Event) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	sub := &subscription{ch: make(chan model.Event, capacity)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return &Subscription{bus: b, sub: sub}, sub.ch
}

// Unsubscribe removes the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	_, present := s.bus.subs[s.sub]
	delete(s.bus.subs, s.sub)
	s.bus.mu.Unlock()

	if present {
		close(s.sub.ch)
	}
}

// Lagged returns the number of events this subscriber has missed due to a
// full buffer since the last call to Lagged, and resets the counter.
func (s *Subscription) Lagged() int {
	s.sub.mu.Lock()
	defer s.sub.mu.Unlock()
	n := s.sub.lagged
	s.sub.lagged = 0
	return n
}

// Publish fans an event out to every current subscriber. A subscriber whose
// buffer is full has its oldest pending event dropped to make room, so
// Publish never blocks on a stalled consumer.
func (b *Bus) Publish(e model.Event) {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- e:
		default:
			select {
			case <-s.ch:
			default:
			}
			select {
			case s.ch <- e:
			default:
			}
			s.mu.Lock()
			s.lagged++
			s.mu.Unlock()
			if b.met != nil {
				b.met.EventBusLag.Inc()
			}
		}
	}
}
