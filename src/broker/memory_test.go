package broker

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"quote-pipeline/src/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func testLogger() *logger.Logger {
	return logger.NewLogger("ERROR", "test")
}

// collector accumulates delivered payloads behind a mutex.
type collector struct {
	mu       sync.Mutex
	payloads []string
}

func (c *collector) handle(channel string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, string(payload))
}

func (c *collector) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.payloads))
	copy(out, c.payloads)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerDeliversInOrder(t *testing.T) {
	b := NewMemoryBroker(64, testLogger())
	require.NoError(t, b.Connect())
	defer b.Disconnect()

	c := &collector{}
	_, err := b.Subscribe("quotes.candles", c.handle)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, b.Publish("quotes.candles", []byte(fmt.Sprintf("m%d", i))))
	}

	waitFor(t, func() bool { return len(c.got()) == 20 })

	got := c.got()
	for i, p := range got {
		assert.Equal(t, fmt.Sprintf("m%d", i), p)
	}
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerChannelIsolation(t *testing.T) {
	b := NewMemoryBroker(64, testLogger())
	require.NoError(t, b.Connect())
	defer b.Disconnect()

	candles := &collector{}
	status := &collector{}
	_, err := b.Subscribe("quotes.candles", candles.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("quotes.status", status.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish("quotes.candles", []byte("candle")))
	require.NoError(t, b.Publish("quotes.status", []byte("status")))

	waitFor(t, func() bool { return len(candles.got()) == 1 && len(status.got()) == 1 })

	assert.Equal(t, []string{"candle"}, candles.got())
	assert.Equal(t, []string{"status"}, status.got())
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerFanOut(t *testing.T) {
	b := NewMemoryBroker(64, testLogger())
	require.NoError(t, b.Connect())
	defer b.Disconnect()

	a := &collector{}
	c := &collector{}
	_, err := b.Subscribe("quotes.candles", a.handle)
	require.NoError(t, err)
	_, err = b.Subscribe("quotes.candles", c.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish("quotes.candles", []byte("x")))

	waitFor(t, func() bool { return len(a.got()) == 1 && len(c.got()) == 1 })
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	// Queue of 1 and a handler that never returns: publishes must not block,
	// and the overflow is counted as dropped.
	b := NewMemoryBroker(1, testLogger())
	require.NoError(t, b.Connect())

	block := make(chan struct{})
	_, err := b.Subscribe("quotes.candles", func(channel string, payload []byte) {
		<-block
	})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Publish("quotes.candles", []byte("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}

	assert.Greater(t, b.DroppedEvents(), int64(0))

	close(block)
	b.Disconnect()
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerDisconnectedErrors(t *testing.T) {
	b := NewMemoryBroker(8, testLogger())

	err := b.Publish("quotes.candles", []byte("x"))
	assert.Error(t, err)

	_, err = b.Subscribe("quotes.candles", func(string, []byte) {})
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := NewMemoryBroker(8, testLogger())
	require.NoError(t, b.Connect())
	defer b.Disconnect()

	c := &collector{}
	sub, err := b.Subscribe("quotes.candles", c.handle)
	require.NoError(t, err)

	require.NoError(t, b.Publish("quotes.candles", []byte("before")))
	waitFor(t, func() bool { return len(c.got()) == 1 })

	require.NoError(t, b.Unsubscribe(sub))
	require.NoError(t, b.Publish("quotes.candles", []byte("after")))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, []string{"before"}, c.got())
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerHandlerMayPublish(t *testing.T) {
	// A handler that republishes onto another channel must not deadlock
	// against the broker's internal locking.
	b := NewMemoryBroker(8, testLogger())
	require.NoError(t, b.Connect())

	derived := &collector{}
	_, err := b.Subscribe("analytics.trend", derived.handle)
	require.NoError(t, err)

	_, err = b.Subscribe("quotes.candles", func(channel string, payload []byte) {
		b.Publish("analytics.trend", payload)
	})
	require.NoError(t, err)

	require.NoError(t, b.Publish("quotes.candles", []byte("x")))
	waitFor(t, func() bool { return len(derived.got()) == 1 })

	require.NoError(t, b.Disconnect())
}

// -----------------------------------------------------------------------------

func TestMemoryBrokerPublishNoSubscribers(t *testing.T) {
	b := NewMemoryBroker(8, testLogger())
	require.NoError(t, b.Connect())
	defer b.Disconnect()

	// Publishing into the void is not an error
	assert.NoError(t, b.Publish("quotes.candles", []byte("x")))
}
