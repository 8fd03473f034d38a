package storage

import (
	"sync"
	"testing"
)

func TestChangeBusPublish(t *testing.T) {
	bus := NewChangeBus()

	var all, inserts, other int
	bus.Subscribe("tickets", EventAll, func(Change) { all++ })
	bus.Subscribe("tickets", EventInsert, func(Change) { inserts++ })
	bus.Subscribe("agents", EventAll, func(Change) { other++ })

	if n := bus.Publish(Change{Table: "tickets", Type: EventUpdate}); n != 1 {
		t.Errorf("expected 1 handler for UPDATE, got %d", n)
	}
	if n := bus.Publish(Change{Table: "tickets", Type: EventInsert}); n != 2 {
		t.Errorf("expected 2 handlers for INSERT, got %d", n)
	}

	if all != 2 {
		t.Errorf("expected wildcard subscriber called twice, got %d", all)
	}
	if inserts != 1 {
		t.Errorf("expected insert subscriber called once, got %d", inserts)
	}
	if other != 0 {
		t.Errorf("expected agents subscriber untouched, got %d", other)
	}
}

func TestChangeBusSubscribeFirst(t *testing.T) {
	bus := NewChangeBus()

	_, first := bus.Subscribe("tickets", EventAll, func(Change) {})
	if !first {
		t.Error("expected first subscriber to be reported")
	}
	_, first = bus.Subscribe("tickets", EventAll, func(Change) {})
	if first {
		t.Error("expected second subscriber not to be first")
	}
	if bus.Count("tickets") != 2 {
		t.Errorf("expected 2 subscribers, got %d", bus.Count("tickets"))
	}
}

func TestChangeBusOnIdle(t *testing.T) {
	bus := NewChangeBus()

	var idle []string
	bus.OnIdle(func(table string) { idle = append(idle, table) })

	a, _ := bus.Subscribe("tickets", EventAll, func(Change) {})
	b, _ := bus.Subscribe("tickets", EventAll, func(Change) {})

	a.Unsubscribe()
	if len(idle) != 0 {
		t.Fatalf("expected no idle callback while a subscriber remains, got %v", idle)
	}

	b.Unsubscribe()
	b.Unsubscribe() // second call is a no-op
	if len(idle) != 1 || idle[0] != "tickets" {
		t.Errorf("expected one idle callback for tickets, got %v", idle)
	}
	if len(bus.Tables()) != 0 {
		t.Errorf("expected no subscribed tables, got %v", bus.Tables())
	}
	if n := bus.Publish(Change{Table: "tickets", Type: EventInsert}); n != 0 {
		t.Errorf("expected no handlers after unsubscribe, got %d", n)
	}
}

func TestChangeBusHandlerMayUnsubscribe(t *testing.T) {
	bus := NewChangeBus()

	var sub Subscription
	calls := 0
	sub, _ = bus.Subscribe("notifications", EventAll, func(Change) {
		calls++
		sub.Unsubscribe()
	})

	bus.Publish(Change{Table: "notifications", Type: EventInsert})
	bus.Publish(Change{Table: "notifications", Type: EventInsert})

	if calls != 1 {
		t.Errorf("expected handler to run once, got %d", calls)
	}
}

func TestChangeBusConcurrent(t *testing.T) {
	bus := NewChangeBus()

	var mu sync.Mutex
	received := 0
	bus.Subscribe("tickets", EventAll, func(Change) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, _ := bus.Subscribe("agents", EventAll, func(Change) {})
			bus.Publish(Change{Table: "tickets", Type: EventUpdate})
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	if received != 20 {
		t.Errorf("expected 20 deliveries, got %d", received)
	}
}
