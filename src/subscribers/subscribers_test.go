package subscribers

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"quote-pipeline/src/broker"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
	"quote-pipeline/src/serializer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Shared Test Fixtures
// -----------------------------------------------------------------------------

func testLogger() *logger.Logger {
	return logger.NewLogger("ERROR", "test")
}

func testCodec(t *testing.T) interfaces.ISerializer {
	t.Helper()
	s, err := serializer.NewSerializer("json")
	require.NoError(t, err)
	return s
}

func testBroker(t *testing.T) *broker.MemoryBroker {
	t.Helper()
	b := broker.NewMemoryBroker(256, testLogger())
	require.NoError(t, b.Connect())
	t.Cleanup(func() { b.Disconnect() })
	return b
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

func candleAt(symbol string, ts int64, close float64) *models.MCandleEvent {
	return &models.MCandleEvent{
		Symbol:        symbol,
		Timestamp:     ts,
		Open:          close - 1,
		High:          close + 1,
		Low:           close - 2,
		Close:         close,
		Volume:        100,
		Source:        "test",
		SchemaVersion: models.CurrentSchemaVersion,
	}
}

func publishCandle(t *testing.T, b interfaces.IBroker, ser interfaces.ISerializer, c *models.MCandleEvent) {
	t.Helper()
	payload, err := ser.Serialize(c)
	require.NoError(t, err)
	require.NoError(t, b.Publish(models.ChannelCandles, payload))
}

// -----------------------------------------------------------------------------

// fakeDLQ records parked payloads in memory.
type fakeDLQ struct {
	mu       sync.Mutex
	recorded []string
	poisoned []string
}

func (q *fakeDLQ) Record(channel string, payload []byte, procErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.recorded = append(q.recorded, channel)
	return nil
}

func (q *fakeDLQ) RecordPoison(channel string, payload []byte, procErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.poisoned = append(q.poisoned, channel)
	return nil
}

func (q *fakeDLQ) ListPending(limit int) ([]models.MDLQEntry, error) { return nil, nil }
func (q *fakeDLQ) Retry(entryID string) error                       { return nil }
func (q *fakeDLQ) PurgeTerminal(olderThan time.Duration) (int, error) {
	return 0, nil
}

func (q *fakeDLQ) recordedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.recorded)
}

func (q *fakeDLQ) poisonedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.poisoned)
}

// -----------------------------------------------------------------------------

// fakeStore collects upserted rows and can be told to fail.
type fakeStore struct {
	mu       sync.Mutex
	rows     []models.MCandleEvent
	failNext bool
}

func (s *fakeStore) Initialize() error { return nil }
func (s *fakeStore) Close() error      { return nil }

func (s *fakeStore) UpsertCandlesBulk(rows []models.MCandleEvent) ([]models.MCandleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return rows, fmt.Errorf("store unavailable")
	}
	s.rows = append(s.rows, rows...)
	return nil, nil
}

func (s *fakeStore) CleanupOldData(retentionDays int) error { return nil }

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// -----------------------------------------------------------------------------
// Dispatch Behaviour (BaseSubscriber via StateTracker)
// -----------------------------------------------------------------------------

func TestPoisonPayloadIsIsolated(t *testing.T) {
	// A malformed payload goes to the DLQ as poison and the stream continues.
	b := testBroker(t)
	ser := testCodec(t)
	dlq := &fakeDLQ{}

	tracker := NewStateTracker(models.MSubscriberConfig{Name: "tracker", Type: "state_tracker"}, b, ser, dlq, testLogger())
	require.NoError(t, tracker.Start())
	defer tracker.Stop()

	publishCandle(t, b, ser, candleAt("AAPL", 1, 100))
	require.NoError(t, b.Publish(models.ChannelCandles, []byte("garbage")))
	publishCandle(t, b, ser, candleAt("AAPL", 2, 101))

	waitFor(t, func() bool { return tracker.GetStats().EventsProcessed == 2 })

	assert.Equal(t, 1, dlq.poisonedCount())
	assert.Equal(t, int64(1), tracker.GetStats().EventsPoisoned)

	got, ok := tracker.GetCandle("AAPL")
	require.True(t, ok)
	assert.Equal(t, 101.0, got.Close)
}

// -----------------------------------------------------------------------------

func TestHandlerErrorsGoToDLQAndStreamContinues(t *testing.T) {
	// A handler failing on every 3rd event parks exactly those events and
	// processes the rest.
	b := testBroker(t)
	ser := testCodec(t)
	dlq := &fakeDLQ{}

	var n int
	sub := &StateTracker{
		BaseSubscriber: newBaseSubscriber("flaky", []string{models.ChannelCandles}, b, ser, dlq, testLogger()),
	}
	sub.handle = func(event interface{}, channel string) error {
		n++
		if n%3 == 0 {
			return fmt.Errorf("simulated failure")
		}
		return nil
	}

	require.NoError(t, sub.Start())
	defer sub.Stop()

	for i := 0; i < 9; i++ {
		publishCandle(t, b, ser, candleAt("AAPL", int64(i), 100+float64(i)))
	}

	waitFor(t, func() bool {
		stats := sub.GetStats()
		return stats.EventsProcessed+stats.EventsFailed == 9
	})

	stats := sub.GetStats()
	assert.Equal(t, int64(6), stats.EventsProcessed)
	assert.Equal(t, int64(3), stats.EventsFailed)
	assert.Equal(t, 3, dlq.recordedCount())
}

// -----------------------------------------------------------------------------

func TestHandlerPanicIsRecovered(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)
	dlq := &fakeDLQ{}

	sub := &StateTracker{
		BaseSubscriber: newBaseSubscriber("panicky", []string{models.ChannelCandles}, b, ser, dlq, testLogger()),
	}
	first := true
	sub.handle = func(event interface{}, channel string) error {
		if first {
			first = false
			panic("boom")
		}
		return nil
	}

	require.NoError(t, sub.Start())
	defer sub.Stop()

	publishCandle(t, b, ser, candleAt("AAPL", 1, 100))
	publishCandle(t, b, ser, candleAt("AAPL", 2, 101))

	waitFor(t, func() bool { return sub.GetStats().EventsProcessed == 1 })
	assert.Equal(t, int64(1), sub.GetStats().EventsFailed)
	assert.Equal(t, 1, dlq.recordedCount())
}

// -----------------------------------------------------------------------------
// StateTracker
// -----------------------------------------------------------------------------

func TestStateTrackerLastWriteWins(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)

	tracker := NewStateTracker(models.MSubscriberConfig{Name: "tracker"}, b, ser, &fakeDLQ{}, testLogger())
	require.NoError(t, tracker.Start())
	defer tracker.Stop()

	publishCandle(t, b, ser, candleAt("AAPL", 1, 100))
	publishCandle(t, b, ser, candleAt("AAPL", 2, 105))
	publishCandle(t, b, ser, candleAt("MSFT", 1, 400))

	status := &models.MFetchStatusEvent{
		PublisherID:   "us-equities",
		Status:        models.FetchStatusHealthy,
		SchemaVersion: models.CurrentSchemaVersion,
	}
	payload, err := ser.Serialize(status)
	require.NoError(t, err)
	require.NoError(t, b.Publish(models.ChannelStatus, payload))

	waitFor(t, func() bool { return tracker.GetStats().EventsProcessed == 4 })

	aapl, ok := tracker.GetCandle("AAPL")
	require.True(t, ok)
	assert.Equal(t, 105.0, aapl.Close)

	all := tracker.GetAllCandles()
	assert.Len(t, all, 2)

	st, ok := tracker.GetPublisherStatus("us-equities")
	require.True(t, ok)
	assert.Equal(t, models.FetchStatusHealthy, st.Status)

	_, ok = tracker.GetCandle("TSLA")
	assert.False(t, ok)
}

// -----------------------------------------------------------------------------
// DurableWriter
// -----------------------------------------------------------------------------

func TestDurableWriterFlushesOnSize(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)
	store := &fakeStore{}

	w := NewDurableWriter(models.MSubscriberConfig{
		Name:                 "writer",
		FlushSize:            3,
		FlushIntervalSeconds: 3600,
	}, b, ser, &fakeDLQ{}, store, testLogger())

	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 0; i < 3; i++ {
		publishCandle(t, b, ser, candleAt("AAPL", int64(i), 100))
	}

	waitFor(t, func() bool { return store.count() == 3 })
	assert.Equal(t, 0, w.BufferedCount())
}

// -----------------------------------------------------------------------------

func TestDurableWriterKeepsBufferOnStoreFailure(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)
	store := &fakeStore{failNext: true}

	w := NewDurableWriter(models.MSubscriberConfig{
		Name:                 "writer",
		FlushSize:            2,
		FlushIntervalSeconds: 3600,
	}, b, ser, &fakeDLQ{}, store, testLogger())

	require.NoError(t, w.Start())

	publishCandle(t, b, ser, candleAt("AAPL", 1, 100))
	publishCandle(t, b, ser, candleAt("AAPL", 2, 101))

	// First flush fails, rows must stay buffered
	waitFor(t, func() bool { return w.BufferedCount() == 2 })
	assert.Equal(t, 0, store.count())

	// Next candle triggers another flush, store is healthy again
	publishCandle(t, b, ser, candleAt("AAPL", 3, 102))
	waitFor(t, func() bool { return store.count() == 3 })
}

// -----------------------------------------------------------------------------

func TestDurableWriterFinalFlushOnStop(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)
	store := &fakeStore{}

	w := NewDurableWriter(models.MSubscriberConfig{
		Name:                 "writer",
		FlushSize:            100,
		FlushIntervalSeconds: 3600,
	}, b, ser, &fakeDLQ{}, store, testLogger())

	require.NoError(t, w.Start())

	publishCandle(t, b, ser, candleAt("AAPL", 1, 100))
	waitFor(t, func() bool { return w.BufferedCount() == 1 })

	require.NoError(t, w.Stop())
	assert.Equal(t, 1, store.count())
}

// -----------------------------------------------------------------------------
// TrendSubscriber
// -----------------------------------------------------------------------------

func TestTrendEmitsAfterWarmupAndStaysBounded(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)

	var trendMu sync.Mutex
	var trends []*models.MTrendStateEvent
	_, err := b.Subscribe(models.ChannelTrend, func(channel string, payload []byte) {
		out, err := ser.Deserialize(payload, models.EventTypeTrendState)
		if err != nil {
			return
		}
		trendMu.Lock()
		trends = append(trends, out.(*models.MTrendStateEvent))
		trendMu.Unlock()
	})
	require.NoError(t, err)

	sub := NewTrendSubscriber(models.MSubscriberConfig{
		Name:            "trend",
		PriceWindowSize: 10,
		MAShortPeriod:   2,
		MALongPeriod:    4,
	}, b, ser, &fakeDLQ{}, testLogger())

	require.NoError(t, sub.Start())
	defer sub.Stop()

	// Rising prices: once warm, the short MA sits above the long MA
	for i := 0; i < 30; i++ {
		publishCandle(t, b, ser, candleAt("AAPL", int64(i), 100+float64(i)*2))
	}

	waitFor(t, func() bool { return sub.GetStats().EventsProcessed == 30 })
	waitFor(t, func() bool {
		trendMu.Lock()
		defer trendMu.Unlock()
		return len(trends) == 27 // 30 candles minus the 3-candle warmup
	})

	trendMu.Lock()
	last := trends[len(trends)-1]
	trendMu.Unlock()
	assert.Equal(t, models.TrendUp, last.Direction)
	assert.Greater(t, last.ShortMA, last.LongMA)

	// One ring per symbol, regardless of stream length
	assert.Equal(t, 1, sub.TrackedSymbols())
}

// -----------------------------------------------------------------------------

func TestClassifyTrend(t *testing.T) {
	assert.Equal(t, models.TrendUp, classifyTrend(101, 100))
	assert.Equal(t, models.TrendDown, classifyTrend(99, 100))
	assert.Equal(t, models.TrendFlat, classifyTrend(100.001, 100))
	assert.Equal(t, models.TrendFlat, classifyTrend(0, 0))
}

// -----------------------------------------------------------------------------
// MarketBreadthSubscriber
// -----------------------------------------------------------------------------

func TestBreadthWindowInvariant(t *testing.T) {
	b := testBroker(t)
	ser := testCodec(t)

	var breadthMu sync.Mutex
	var events []*models.MMarketBreadthEvent
	_, err := b.Subscribe(models.ChannelBreadth, func(channel string, payload []byte) {
		out, err := ser.Deserialize(payload, models.EventTypeMarketBreadth)
		if err != nil {
			return
		}
		breadthMu.Lock()
		events = append(events, out.(*models.MMarketBreadthEvent))
		breadthMu.Unlock()
	})
	require.NoError(t, err)

	sub := NewMarketBreadthSubscriber(models.MSubscriberConfig{
		Name:          "breadth",
		UniverseID:    "test-universe",
		WindowSeconds: 1,
	}, b, ser, &fakeDLQ{}, testLogger())

	require.NoError(t, sub.Start())
	defer sub.Stop()

	// Window 1: first sighting of three symbols (all count unchanged)
	publishCandle(t, b, ser, candleAt("A", 1, 100))
	publishCandle(t, b, ser, candleAt("B", 1, 200))
	publishCandle(t, b, ser, candleAt("C", 1, 300))
	waitFor(t, func() bool { return sub.GetStats().EventsProcessed == 3 })

	waitFor(t, func() bool {
		breadthMu.Lock()
		defer breadthMu.Unlock()
		return len(events) >= 1
	})

	// Window 2: A advances, B declines, C unchanged
	publishCandle(t, b, ser, candleAt("A", 2, 110))
	publishCandle(t, b, ser, candleAt("B", 2, 190))
	publishCandle(t, b, ser, candleAt("C", 2, 300))
	waitFor(t, func() bool { return sub.GetStats().EventsProcessed == 6 })

	waitFor(t, func() bool {
		breadthMu.Lock()
		defer breadthMu.Unlock()
		return len(events) >= 2
	})

	breadthMu.Lock()
	defer breadthMu.Unlock()

	first := events[0]
	assert.Equal(t, "test-universe", first.UniverseID)
	assert.Equal(t, 3, first.Unchanged)
	assert.NoError(t, first.Validate())

	second := events[1]
	assert.Equal(t, 1, second.Advances)
	assert.Equal(t, 1, second.Declines)
	assert.Equal(t, 1, second.Unchanged)
	assert.Equal(t, 3, second.TotalSymbols)
	assert.Equal(t, 1, second.NewHighs) // A set a new session high
	assert.Equal(t, 1, second.NewLows)  // B set a new session low
	assert.NoError(t, second.Validate())
}

// -----------------------------------------------------------------------------
// Factory
// -----------------------------------------------------------------------------

func TestFactoryBuildsEveryKind(t *testing.T) {
	b := testBroker(t)
	deps := Deps{
		Broker:     b,
		Serializer: testCodec(t),
		DLQ:        &fakeDLQ{},
		Store:      &fakeStore{},
		LogLevel:   "ERROR",
		Logger:     testLogger(),
	}

	kinds := []string{"state_tracker", "durable_writer", "market_breadth", "trend", "broadcaster"}
	for _, kind := range kinds {
		sub, err := NewSubscriber(models.MSubscriberConfig{
			Name: kind, Type: kind,
			FlushSize: 10, FlushIntervalSeconds: 10,
			WindowSeconds: 60, PriceWindowSize: 10, MAShortPeriod: 2, MALongPeriod: 4,
			Host: "127.0.0.1", Port: 18099,
		}, deps)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, sub.Name())
	}

	_, err := NewSubscriber(models.MSubscriberConfig{Name: "x", Type: "bogus"}, deps)
	assert.Error(t, err)

	deps.Store = nil
	_, err = NewSubscriber(models.MSubscriberConfig{Name: "w", Type: "durable_writer"}, deps)
	assert.Error(t, err)
}
