package events

import (
	"fmt"
	"sync"
	"sync/atomic"

	"choch-scanner/internal/logging"
)

// DefaultQueueSize is the per-subscriber buffer used when the bus is created
// with a non-positive size.
const DefaultQueueSize = 256

// Handler consumes one signal. A returned error is logged against the
// subscriber and never affects other subscribers.
type Handler func(Signal) error

type subscriber struct {
	name    string
	handler Handler
	queue   chan Signal
	done    chan struct{}

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// SubscriberStats is a point-in-time delivery snapshot for one subscriber.
type SubscriberStats struct {
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
	Queued    int    `json:"queued"`
}

// SignalBus fans signals out to named subscribers. Each subscriber owns one
// worker goroutine and a bounded queue, so delivery order per subscriber
// matches publish order while subscribers run independently of each other.
type SignalBus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueSize   int
	wg          sync.WaitGroup
	logger      *logging.Logger
}

// NewSignalBus creates a bus with the given per-subscriber queue size.
func NewSignalBus(queueSize int) *SignalBus {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &SignalBus{
		subscribers: make(map[string]*subscriber),
		queueSize:   queueSize,
		logger:      logging.Default().WithComponent("signal-bus"),
	}
}

// Subscribe registers a named handler and starts its delivery worker.
func (b *SignalBus) Subscribe(name string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("subscriber %s: nil handler", name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscribers[name]; exists {
		return fmt.Errorf("subscriber %s already registered", name)
	}

	sub := &subscriber{
		name:    name,
		handler: handler,
		queue:   make(chan Signal, b.queueSize),
		done:    make(chan struct{}),
	}
	b.subscribers[name] = sub

	b.wg.Add(1)
	go b.deliverLoop(sub)

	b.logger.Info("Subscriber registered", "name", name)
	return nil
}

// Unsubscribe stops a subscriber's worker. Signals still queued for it are
// discarded.
func (b *SignalBus) Unsubscribe(name string) {
	b.mu.Lock()
	sub, ok := b.subscribers[name]
	if ok {
		delete(b.subscribers, name)
	}
	b.mu.Unlock()

	if ok {
		close(sub.done)
		b.logger.Info("Subscriber removed", "name", name)
	}
}

// Publish enqueues the signal for every subscriber without blocking. A
// subscriber whose queue is full misses the signal; that is counted and
// logged rather than stalling the scan loop or other subscribers.
func (b *SignalBus) Publish(sig Signal) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	for _, sub := range subs {
		select {
		case sub.queue <- sig:
		default:
			sub.dropped.Add(1)
			b.logger.Warn("Subscriber queue full, dropping signal",
				"subscriber", sub.name, "symbol", sig.Symbol, "timeframe", sig.Timeframe)
		}
	}
}

// Stats returns delivery counters per subscriber.
func (b *SignalBus) Stats() map[string]SubscriberStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := make(map[string]SubscriberStats, len(b.subscribers))
	for name, sub := range b.subscribers {
		stats[name] = SubscriberStats{
			Delivered: sub.delivered.Load(),
			Failed:    sub.failed.Load(),
			Dropped:   sub.dropped.Load(),
			Queued:    len(sub.queue),
		}
	}
	return stats
}

// Close removes every subscriber and waits for the delivery workers to exit.
func (b *SignalBus) Close() {
	b.mu.Lock()
	for name, sub := range b.subscribers {
		close(sub.done)
		delete(b.subscribers, name)
	}
	b.mu.Unlock()

	b.wg.Wait()
}

func (b *SignalBus) deliverLoop(sub *subscriber) {
	defer b.wg.Done()

	for {
		select {
		case <-sub.done:
			return
		case sig := <-sub.queue:
			b.deliver(sub, sig)
		}
	}
}

// deliver runs the handler with panic containment so one broken subscriber
// cannot take down the bus.
func (b *SignalBus) deliver(sub *subscriber, sig Signal) {
	defer func() {
		if r := recover(); r != nil {
			sub.failed.Add(1)
			b.logger.Error("Subscriber panicked",
				"subscriber", sub.name, "symbol", sig.Symbol, "panic", fmt.Sprintf("%v", r))
		}
	}()

	if err := sub.handler(sig); err != nil {
		sub.failed.Add(1)
		b.logger.Error("Subscriber failed to handle signal",
			"subscriber", sub.name, "symbol", sig.Symbol, "timeframe", sig.Timeframe, "error", err.Error())
		return
	}
	sub.delivered.Add(1)
}
