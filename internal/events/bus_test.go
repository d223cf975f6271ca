package events

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func testSignal(symbol string, seq int) Signal {
	return Signal{
		ID:        symbol,
		Symbol:    symbol,
		Timeframe: "15m",
		Direction: DirectionLong,
		Metadata:  map[string]interface{}{"seq": seq},
	}
}

// eventually polls the condition until it holds or the deadline passes.
// Delivery counters update asynchronously in the worker goroutines.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := NewSignalBus(8)
	defer bus.Close()

	var mu sync.Mutex
	got := make(map[string]string)

	for _, name := range []string{"first", "second"} {
		name := name
		err := bus.Subscribe(name, func(s Signal) error {
			mu.Lock()
			got[name] = s.Symbol
			mu.Unlock()
			return nil
		})
		if err != nil {
			t.Fatalf("Subscribe(%s): %v", name, err)
		}
	}

	bus.Publish(testSignal("BTCUSDT", 1))

	eventually(t, "both subscribers to receive the signal", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["first"] == "BTCUSDT" && got["second"] == "BTCUSDT"
	})
}

func TestPerSubscriberDeliveryOrder(t *testing.T) {
	bus := NewSignalBus(64)
	defer bus.Close()

	const n = 20
	var mu sync.Mutex
	var seen []int
	err := bus.Subscribe("ordered", func(s Signal) error {
		mu.Lock()
		seen = append(seen, s.Metadata["seq"].(int))
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	for i := 0; i < n; i++ {
		bus.Publish(testSignal("ETHUSDT", i))
	}

	eventually(t, "all signals to be delivered", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == n
	})

	mu.Lock()
	defer mu.Unlock()
	for i, seq := range seen {
		if seq != i {
			t.Fatalf("Delivery out of order: expected seq %d at position %d, got %d", i, i, seq)
		}
	}
}

func TestFailingSubscriberDoesNotAffectOthers(t *testing.T) {
	bus := NewSignalBus(8)
	defer bus.Close()

	if err := bus.Subscribe("broken", func(s Signal) error {
		return errors.New("handler exploded")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := bus.Subscribe("healthy", func(s Signal) error {
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(testSignal("SOLUSDT", 1))

	eventually(t, "failure and delivery counters to settle", func() bool {
		stats := bus.Stats()
		return stats["broken"].Failed == 1 && stats["healthy"].Delivered == 1
	})
}

func TestPanickingSubscriberIsContained(t *testing.T) {
	bus := NewSignalBus(8)
	defer bus.Close()

	if err := bus.Subscribe("panicky", func(s Signal) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// The worker must survive the first panic to process the second signal.
	bus.Publish(testSignal("BTCUSDT", 1))
	bus.Publish(testSignal("BTCUSDT", 2))

	eventually(t, "both panics to be contained", func() bool {
		return bus.Stats()["panicky"].Failed == 2
	})
}

func TestDuplicateSubscriberNameRejected(t *testing.T) {
	bus := NewSignalBus(8)
	defer bus.Close()

	if err := bus.Subscribe("dup", func(Signal) error { return nil }); err != nil {
		t.Fatalf("first Subscribe: %v", err)
	}
	if err := bus.Subscribe("dup", func(Signal) error { return nil }); err == nil {
		t.Error("Expected duplicate subscriber name to be rejected")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewSignalBus(8)
	defer bus.Close()

	delivered := make(chan Signal, 8)
	if err := bus.Subscribe("leaver", func(s Signal) error {
		delivered <- s
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	bus.Publish(testSignal("BTCUSDT", 1))
	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected delivery before unsubscribe")
	}

	bus.Unsubscribe("leaver")
	bus.Publish(testSignal("BTCUSDT", 2))

	select {
	case s := <-delivered:
		t.Errorf("Expected no delivery after unsubscribe, got %+v", s)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFullQueueDropsAndCounts(t *testing.T) {
	bus := NewSignalBus(1)
	defer bus.Close()

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	if err := bus.Subscribe("slow", func(s Signal) error {
		once.Do(func() { close(started) })
		<-block
		return nil
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// First signal occupies the worker, second fills the queue, third drops.
	bus.Publish(testSignal("A", 1))
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}
	bus.Publish(testSignal("B", 2))
	bus.Publish(testSignal("C", 3))

	if got := bus.Stats()["slow"].Dropped; got != 1 {
		t.Errorf("Expected 1 dropped signal, got %d", got)
	}
	close(block)
}
