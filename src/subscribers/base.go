package subscribers

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// heartbeatPeriod is how often an idle subscriber still signals liveness.
const heartbeatPeriod = 5 * time.Second

// -----------------------------------------------------------------------------
// BaseSubscriber carries the lifecycle, dispatch and failure-isolation logic
// shared by all subscriber kinds. Concrete subscribers embed it and supply a
// handle func plus optional start/stop hooks.
//
// Dispatch outcome per event:
//   - deserialization failure is poison: parked terminal in the DLQ, skipped
//   - handler error parks the event in the DLQ for retry
//   - handler panic is recovered and treated as a handler error
// One bad event never stops the stream.
// -----------------------------------------------------------------------------

type BaseSubscriber struct {
	SubName    string
	SubChans   []string
	Broker     interfaces.IBroker
	Serializer interfaces.ISerializer
	DLQ        interfaces.IDeadLetterQueue
	Logger     *logger.Logger

	// handle processes one deserialized event; set by the concrete subscriber
	handle func(event interface{}, channel string) error

	// Optional lifecycle hooks
	onStart func() error
	onStop  func() error

	mu      sync.Mutex
	state   models.ComponentState
	subs    []interfaces.ISubscription
	stopped chan struct{}
	wg      sync.WaitGroup

	heartbeatMu sync.Mutex
	heartbeat   time.Time

	processed atomic.Int64
	failed    atomic.Int64
	poisoned  atomic.Int64
}

// -----------------------------------------------------------------------------

func newBaseSubscriber(
	name string,
	channels []string,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	log *logger.Logger,
) BaseSubscriber {
	return BaseSubscriber{
		SubName:    name,
		SubChans:   channels,
		Broker:     brk,
		Serializer: ser,
		DLQ:        dlq,
		Logger:     log,
		state:      models.StateCreated,
	}
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) Name() string {
	return b.SubName
}

func (b *BaseSubscriber) Channels() []string {
	return b.SubChans
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) State() models.ComponentState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BaseSubscriber) setState(s models.ComponentState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) LastHeartbeat() time.Time {
	b.heartbeatMu.Lock()
	defer b.heartbeatMu.Unlock()
	return b.heartbeat
}

func (b *BaseSubscriber) beat() {
	b.heartbeatMu.Lock()
	b.heartbeat = time.Now()
	b.heartbeatMu.Unlock()
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) GetStats() interfaces.MSubscriberStats {
	return interfaces.MSubscriberStats{
		EventsProcessed: b.processed.Load(),
		EventsFailed:    b.failed.Load(),
		EventsPoisoned:  b.poisoned.Load(),
	}
}

// -----------------------------------------------------------------------------

// Start subscribes to all channels and runs the concrete subscriber's hook.
// Safe to call again after Stop.
func (b *BaseSubscriber) Start() error {
	b.mu.Lock()
	if b.state == models.StateRunning || b.state == models.StateStarting {
		b.mu.Unlock()
		return fmt.Errorf("subscriber %s already running", b.SubName)
	}
	b.state = models.StateStarting
	b.stopped = make(chan struct{})
	b.mu.Unlock()

	if b.onStart != nil {
		if err := b.onStart(); err != nil {
			b.setState(models.StateCrashed)
			return fmt.Errorf("subscriber %s start hook failed: %w", b.SubName, err)
		}
	}

	var subs []interfaces.ISubscription
	for _, channel := range b.SubChans {
		sub, err := b.Broker.Subscribe(channel, b.dispatch)
		if err != nil {
			// Roll back partial subscriptions
			for _, s := range subs {
				b.Broker.Unsubscribe(s)
			}
			b.setState(models.StateCrashed)
			return fmt.Errorf("subscriber %s failed to subscribe to %s: %w", b.SubName, channel, err)
		}
		subs = append(subs, sub)
	}

	b.mu.Lock()
	b.subs = subs
	b.mu.Unlock()

	b.beat()
	b.wg.Add(1)
	go b.heartbeatLoop()

	b.setState(models.StateRunning)
	b.Logger.Info("Subscriber %s started (channels: %v)", b.SubName, b.SubChans)
	return nil
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) Stop() error {
	b.mu.Lock()
	if b.state != models.StateRunning && b.state != models.StateCrashed {
		b.mu.Unlock()
		return nil
	}
	b.state = models.StateStopping
	subs := b.subs
	b.subs = nil
	stopped := b.stopped
	b.mu.Unlock()

	for _, sub := range subs {
		if err := b.Broker.Unsubscribe(sub); err != nil {
			b.Logger.Warning("Subscriber %s: unsubscribe %s failed: %v", b.SubName, sub.Channel(), err)
		}
	}

	if stopped != nil {
		close(stopped)
	}
	b.wg.Wait()

	if b.onStop != nil {
		if err := b.onStop(); err != nil {
			b.Logger.Error("Subscriber %s stop hook failed: %v", b.SubName, err)
		}
	}

	b.setState(models.StateStopped)
	b.Logger.Info("Subscriber %s stopped", b.SubName)
	return nil
}

// -----------------------------------------------------------------------------

// heartbeatLoop keeps the liveness signal fresh on a quiet stream.
func (b *BaseSubscriber) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(heartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopped:
			return
		case <-ticker.C:
			b.beat()
		}
	}
}

// -----------------------------------------------------------------------------
// Dispatch
// -----------------------------------------------------------------------------

func (b *BaseSubscriber) dispatch(channel string, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.failed.Add(1)
			b.Logger.Error("Subscriber %s: panic handling event from %s: %v", b.SubName, channel, r)
			b.park(channel, payload, fmt.Errorf("handler panic: %v", r))
		}
	}()

	expected, err := models.ChannelEventType(channel)
	if err != nil {
		b.poisoned.Add(1)
		b.Logger.Error("Subscriber %s: %v", b.SubName, err)
		return
	}

	event, err := b.Serializer.Deserialize(payload, expected)
	if err != nil {
		// Poison: retrying cannot fix a payload that does not deserialize
		b.poisoned.Add(1)
		b.Logger.Warning("Subscriber %s: poison payload on %s: %v", b.SubName, channel, err)
		if b.DLQ != nil {
			if dlqErr := b.DLQ.RecordPoison(channel, payload, err); dlqErr != nil {
				b.Logger.Error("Subscriber %s: DLQ record failed: %v", b.SubName, dlqErr)
			}
		}
		return
	}

	if err := b.handle(event, channel); err != nil {
		b.failed.Add(1)
		b.Logger.Warning("Subscriber %s: handler error on %s: %v", b.SubName, channel, err)
		b.park(channel, payload, err)
		return
	}

	b.processed.Add(1)
	b.beat()
}

// -----------------------------------------------------------------------------

func (b *BaseSubscriber) park(channel string, payload []byte, procErr error) {
	if b.DLQ == nil {
		return
	}
	if err := b.DLQ.Record(channel, payload, procErr); err != nil {
		b.Logger.Error("Subscriber %s: DLQ record failed: %v", b.SubName, err)
	}
}
