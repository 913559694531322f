package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fushugaku/openfork/internal/models"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var mu sync.Mutex
	var received []models.Event
	sub := bus.Subscribe(nil, func(events []models.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, events...)
	})
	defer sub.Unsubscribe()

	bus.Publish(models.Event{Type: models.EventSessionCreated, SessionID: "s1"})
	WaitIdle(context.Background(), 4*TickPeriod)

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("expected 1 event, got %d", len(received))
	}
	if received[0].Type != models.EventSessionCreated {
		t.Fatalf("unexpected event type %v", received[0].Type)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var mu sync.Mutex
	count := 0
	sub := bus.Subscribe(nil, func(events []models.Event) {
		mu.Lock()
		defer mu.Unlock()
		count += len(events)
	})

	bus.Publish(models.Event{Type: models.EventSessionCreated})
	WaitIdle(context.Background(), 4*TickPeriod)
	sub.Unsubscribe()
	bus.Publish(models.Event{Type: models.EventSessionCreated})
	WaitIdle(context.Background(), 4*TickPeriod)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly 1 delivered event after unsubscribe, got %d", count)
	}
}

func TestFilterRestrictsDelivery(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	var mu sync.Mutex
	var got []models.Event
	sub := bus.SubscribeSession("s1", func(events []models.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, events...)
	})
	defer sub.Unsubscribe()

	bus.Publish(models.Event{Type: models.EventSessionCreated, SessionID: "s1"})
	bus.Publish(models.Event{Type: models.EventSessionCreated, SessionID: "s2"})
	WaitIdle(context.Background(), 4*TickPeriod)

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].SessionID != "s1" {
		t.Fatalf("expected only s1 events, got %+v", got)
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	bus := New(func(source string, recovered any) {})
	defer bus.Close()

	panicking := bus.Subscribe(nil, func(events []models.Event) {
		panic("boom")
	})
	defer panicking.Unsubscribe()

	var mu sync.Mutex
	healthyCount := 0
	healthy := bus.Subscribe(nil, func(events []models.Event) {
		mu.Lock()
		defer mu.Unlock()
		healthyCount += len(events)
	})
	defer healthy.Unsubscribe()

	bus.Publish(models.Event{Type: models.EventSystemError})
	WaitIdle(context.Background(), 4*TickPeriod)

	mu.Lock()
	defer mu.Unlock()
	if healthyCount != 1 {
		t.Fatalf("a panicking handler should not affect other subscribers, got healthyCount=%d", healthyCount)
	}
}

func TestPublishDoesNotBlockOnFullQueue(t *testing.T) {
	bus := New(nil)
	defer bus.Close()

	blockCh := make(chan struct{})
	sub := bus.Subscribe(nil, func(events []models.Event) {
		<-blockCh
	})
	defer sub.Unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			bus.Publish(models.Event{Type: models.EventSystemMetric})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked despite a saturated subscriber queue")
	}
	close(blockCh)
}
