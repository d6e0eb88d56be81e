package broker

import (
	"fmt"
	"sync"
	"sync/atomic"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
)

// -----------------------------------------------------------------------------
// MemoryBroker - single-process pub/sub for development and small deployments.
//
// Each subscription owns a buffered queue drained by its own goroutine, so a
// hung handler delays only its own deliveries. Publish never blocks: when a
// subscriber's queue is full the message is dropped for that subscriber only
// (at-most-once) and counted. Per-channel publish order is preserved because
// every subscription has exactly one queue and one dispatch goroutine.
// -----------------------------------------------------------------------------

type MemoryBroker struct {
	Logger    *logger.Logger
	queueSize int

	mu        sync.RWMutex
	connected bool
	subs      map[string][]*memorySubscription // channel -> subscriptions
	nextID    uint64
	dropped   atomic.Int64
}

// -----------------------------------------------------------------------------

type memorySubscription struct {
	id      string
	channel string
	handler interfaces.BrokerHandler
	queue   chan []byte
	done    chan struct{}
}

func (s *memorySubscription) ID() string {
	return s.id
}

func (s *memorySubscription) Channel() string {
	return s.channel
}

// -----------------------------------------------------------------------------

func NewMemoryBroker(queueSize int, log *logger.Logger) *MemoryBroker {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &MemoryBroker{
		Logger:    log,
		queueSize: queueSize,
		subs:      make(map[string][]*memorySubscription),
	}
}

// -----------------------------------------------------------------------------

func (b *MemoryBroker) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connected = true
	return nil
}

// -----------------------------------------------------------------------------

func (b *MemoryBroker) Disconnect() error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return nil
	}

	var all []*memorySubscription
	for _, list := range b.subs {
		all = append(all, list...)
	}
	b.subs = make(map[string][]*memorySubscription)
	b.connected = false
	b.mu.Unlock()

	// Drain outside the lock: a handler may itself publish, which needs
	// the read lock, and we must not deadlock against it.
	for _, sub := range all {
		close(sub.queue)
		<-sub.done
	}
	return nil
}

// -----------------------------------------------------------------------------

func (b *MemoryBroker) Publish(channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected {
		return helpers.NewBrokerError("publish on disconnected broker", nil)
	}

	for _, sub := range b.subs[channel] {
		select {
		case sub.queue <- payload:
		default:
			// Subscriber queue full: drop for this subscriber only so the
			// publisher and the other subscribers keep moving.
			b.dropped.Add(1)
			b.Logger.Warning("Dropping event on %s for slow subscriber %s (queue full)", channel, sub.id)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

func (b *MemoryBroker) Subscribe(channel string, handler interfaces.BrokerHandler) (interfaces.ISubscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.connected {
		return nil, helpers.NewBrokerError("subscribe on disconnected broker", nil)
	}

	b.nextID++
	sub := &memorySubscription{
		id:      fmt.Sprintf("%s#%d", channel, b.nextID),
		channel: channel,
		handler: handler,
		queue:   make(chan []byte, b.queueSize),
		done:    make(chan struct{}),
	}
	b.subs[channel] = append(b.subs[channel], sub)

	go func() {
		defer close(sub.done)
		for payload := range sub.queue {
			sub.handler(sub.channel, payload)
		}
	}()

	return sub, nil
}

// -----------------------------------------------------------------------------

func (b *MemoryBroker) Unsubscribe(sub interfaces.ISubscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.Channel()]
	for i, s := range list {
		if s.id == sub.ID() {
			b.subs[sub.Channel()] = append(list[:i], list[i+1:]...)
			b.mu.Unlock()
			close(s.queue)
			<-s.done
			b.mu.Lock()
			return nil
		}
	}
	return helpers.NewBrokerError(fmt.Sprintf("unknown subscription %s", sub.ID()), nil)
}

// -----------------------------------------------------------------------------

// DroppedEvents reports how many deliveries were skipped due to full queues.
func (b *MemoryBroker) DroppedEvents() int64 {
	return b.dropped.Load()
}
