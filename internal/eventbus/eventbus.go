// Package eventbus implements the process-wide publish/subscribe bus
// described in spec §4.1. It generalizes the teacher's single-consumer
// BackpressureSink/MultiSink design (internal/agent/event_sink.go) into true
// multi-subscriber delivery with disposable subscription handles.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fushugaku/openfork/internal/models"
	"github.com/google/uuid"
)

// TickPeriod is the batching interval; events accepted within one tick are
// coalesced into a single delivery batch per subscriber.
const TickPeriod = 16 * time.Millisecond

// MaxBatchSize caps how many events are delivered to one subscriber per
// tick, matching spec §4.1's "max batch size of 100 events".
const MaxBatchSize = 100

// Handler receives a batch of events for one subscription. Handlers run on
// the bus's dispatch goroutine; a panicking or slow handler must not affect
// other subscribers or the publisher, so the bus recovers handler panics and
// logs them rather than propagating.
type Handler func(events []models.Event)

// Filter is an optional predicate a subscription applies before an event is
// queued for it.
type Filter func(models.Event) bool

// ErrorLogger receives handler panics so the bus's own dependency surface
// stays small; the caller wires this to its observability.Logger.
type ErrorLogger func(source string, recovered any)

// Subscription is the disposable handle returned by Subscribe. Unsubscribe
// releases the handler immediately; no further events are delivered to it
// after Unsubscribe returns.
type Subscription struct {
	id  string
	bus *Bus
}

// Unsubscribe removes this subscription from the bus.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	id      string
	filter  Filter
	handler Handler
	queue   chan models.Event
	done    chan struct{}
}

// Bus is a single process-wide pub/sub dispatcher. The zero value is not
// usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	seq         atomic.Uint64
	onPanic     ErrorLogger
	closed      atomic.Bool
}

// New creates a Bus. onPanic may be nil, in which case handler panics are
// silently recovered (discouraged outside of tests).
func New(onPanic ErrorLogger) *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
		onPanic:     onPanic,
	}
}

// Publish enqueues event for delivery to every subscriber registered at the
// moment of the call (at-least-once to healthy handlers). It never blocks
// waiting for subscriber handlers to run; if a subscriber's internal queue
// is momentarily full the event is dropped for that subscriber only and the
// publisher is unaffected.
func (b *Bus) Publish(event models.Event) {
	if b.closed.Load() {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if sub.filter != nil && !sub.filter(event) {
			continue
		}
		select {
		case sub.queue <- event:
		default:
			// Backpressure: drop for this subscriber rather than block the
			// publisher (spec §5 "Backpressure").
		}
	}
}

// Subscribe registers handler for all events; filter may be nil to receive
// everything. The returned Subscription must be Unsubscribed by the caller
// when done.
func (b *Bus) Subscribe(filter Filter, handler Handler) *Subscription {
	sub := &subscriber{
		id:      uuid.NewString(),
		filter:  filter,
		handler: handler,
		queue:   make(chan models.Event, 1024),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	go b.dispatchLoop(sub)

	return &Subscription{id: sub.id, bus: b}
}

// SubscribeSession is a convenience wrapper filtering to a single session's
// events, the common case for forwarding sub-session progress (spec §4.5).
func (b *Bus) SubscribeSession(sessionID string, handler Handler) *Subscription {
	return b.Subscribe(func(e models.Event) bool { return e.SessionID == sessionID }, handler)
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

// dispatchLoop batches events for one subscriber at TickPeriod and delivers
// them FIFO within this subscriber's stream (spec §4.1: "FIFO within a
// single event type on a single subscriber").
func (b *Bus) dispatchLoop(sub *subscriber) {
	ticker := time.NewTicker(TickPeriod)
	defer ticker.Stop()

	var batch []models.Event
	flush := func() {
		if len(batch) == 0 {
			return
		}
		toSend := batch
		batch = nil
		b.safeInvoke(sub, toSend)
	}

	for {
		select {
		case <-sub.done:
			return
		case e := <-sub.queue:
			batch = append(batch, e)
			if len(batch) >= MaxBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (b *Bus) safeInvoke(sub *subscriber, batch []models.Event) {
	defer func() {
		if r := recover(); r != nil && b.onPanic != nil {
			b.onPanic(sub.id, r)
		}
	}()
	sub.handler(batch)
}

// Close unsubscribes every subscriber and stops accepting new publishes.
// Intended for process shutdown.
func (b *Bus) Close() {
	b.closed.Store(true)
	b.mu.Lock()
	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.unsubscribe(id)
	}
}

// WaitIdle blocks until ctx is done or d elapses, whichever first; used in
// tests to let a subscriber's dispatch loop flush before asserting.
func WaitIdle(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
