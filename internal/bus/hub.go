// SPDX-License-Identifier: MIT

// Package bus implements the in-process publish/subscribe hub that fans
// application events out to live stream subscribers.
package bus

import (
	"sync"
	"time"

	"github.com/lumenhq/beacon/internal/event"
	"github.com/lumenhq/beacon/internal/log"
	"github.com/lumenhq/beacon/internal/metrics"
)

// DefaultQueueCapacity is the per-subscriber outbound queue size used when
// the hub is constructed with a non-positive capacity.
const DefaultQueueCapacity = 64

// Subscriber identifies one stream connection and the identity it filters by.
type Subscriber struct {
	ClientID       string
	UserID         string
	OrganizationID string
}

// Hub delivers every published event to every registered subscription whose
// scope matches. It is not durable: events published while a client is
// disconnected are lost, and delivery is bounded to this process.
type Hub struct {
	mu       sync.RWMutex
	subs     map[string]*Subscription
	queueCap int
}

// New constructs an empty hub. Construct one per process (or per test) and
// inject it; there is deliberately no package-level instance.
func New(queueCap int) *Hub {
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	return &Hub{
		subs:     make(map[string]*Subscription),
		queueCap: queueCap,
	}
}

// Subscribe registers sub and returns its subscription handle. The caller
// owns the handle and must call Close exactly once at teardown; extra calls
// are no-ops.
func (h *Hub) Subscribe(sub Subscriber) *Subscription {
	s := &Subscription{
		hub: h,
		sub: sub,
		ch:  make(chan event.Event, h.queueCap),
	}
	h.mu.Lock()
	h.subs[sub.ClientID] = s
	h.mu.Unlock()
	return s
}

// Publish stamps the event and enqueues it to every matching subscription.
// Enqueueing never blocks: a subscriber whose queue is full has the event
// dropped and its subscription closed, so one stalled connection cannot
// throttle publishers or other subscribers.
func (h *Hub) Publish(ev event.Event) {
	ev.Timestamp = time.Now().UTC()
	metrics.EventsPublishedTotal.WithLabelValues(ev.Type).Inc()

	var stalled []*Subscription
	h.mu.RLock()
	for _, s := range h.subs {
		if !event.Matches(ev, s.sub.UserID, s.sub.OrganizationID) {
			continue
		}
		select {
		case s.ch <- ev:
			metrics.DeliveriesTotal.Inc()
		default:
			metrics.IncDrop("queue_full")
			stalled = append(stalled, s)
		}
	}
	h.mu.RUnlock()

	// Closing takes the write lock, so it has to happen after the scan.
	for _, s := range stalled {
		logger := log.WithComponent("bus")
		logger.Warn().
			Str("client_id", s.sub.ClientID).
			Str("event_type", ev.Type).
			Msg("subscriber queue full, closing slow subscription")
		s.Close()
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// CloseAll closes every live subscription. Used at process shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	all := make([]*Subscription, 0, len(h.subs))
	for _, s := range h.subs {
		all = append(all, s)
	}
	h.mu.RUnlock()
	for _, s := range all {
		s.Close()
	}
}

// Subscription is one subscriber's registration with the hub. Events arrive
// on C in publish order; the channel is closed when the subscription ends.
type Subscription struct {
	hub  *Hub
	sub  Subscriber
	ch   chan event.Event
	once sync.Once
}

// C returns the delivery channel. It is closed by Close.
func (s *Subscription) C() <-chan event.Event {
	return s.ch
}

// Close deregisters the subscription and closes the delivery channel.
// Safe to call more than once and safe against a concurrent Publish: the
// channel is only closed while the hub's write lock excludes publishers.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.sub.ClientID)
		close(s.ch)
		s.hub.mu.Unlock()
	})
}
