package publisher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
	"quote-pipeline/src/serializer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeBroker struct {
	mu        sync.Mutex
	published map[string][][]byte
	failNext  bool
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{published: make(map[string][][]byte)}
}

func (b *fakeBroker) Connect() error    { return nil }
func (b *fakeBroker) Disconnect() error { return nil }

func (b *fakeBroker) Publish(channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failNext {
		return fmt.Errorf("broker down")
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBroker) Subscribe(channel string, handler interfaces.BrokerHandler) (interfaces.ISubscription, error) {
	return nil, fmt.Errorf("not implemented")
}

func (b *fakeBroker) Unsubscribe(sub interfaces.ISubscription) error { return nil }

func (b *fakeBroker) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

func (b *fakeBroker) last(t *testing.T, channel string) []byte {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.published[channel]
	require.NotEmpty(t, list)
	return list[len(list)-1]
}

// -----------------------------------------------------------------------------

type fakeProvider struct {
	mu    sync.Mutex
	calls [][]string
	fetch func(symbols []string) ([]models.MOHLCVRow, error)
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) FetchBatch(ctx context.Context, symbols []string, interval string) ([]models.MOHLCVRow, error) {
	p.mu.Lock()
	p.calls = append(p.calls, symbols)
	p.mu.Unlock()
	return p.fetch(symbols)
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// -----------------------------------------------------------------------------

func goodRow(symbol string) models.MOHLCVRow {
	return models.MOHLCVRow{
		Symbol:    symbol,
		Timestamp: 1700000000,
		Open:      100, High: 105, Low: 99, Close: 104,
		Volume: 1000,
	}
}

func rowsFor(symbols []string) []models.MOHLCVRow {
	rows := make([]models.MOHLCVRow, 0, len(symbols))
	for _, s := range symbols {
		rows = append(rows, goodRow(s))
	}
	return rows
}

func testPublisher(cfg models.MPublisherConfig, brk *fakeBroker, prov *fakeProvider) *QuotePublisher {
	ser, _ := serializer.NewSerializer("json")
	p := NewQuotePublisher(cfg, brk, ser, prov, logger.NewLogger("ERROR", "test"))
	every := time.Duration(cfg.RateLimitPeriodSeconds) * time.Second / time.Duration(cfg.RateLimitCalls)
	p.limiter = rate.NewLimiter(rate.Every(every), 1)
	p.started = time.Now()
	return p
}

func decodeStatus(t *testing.T, payload []byte) *models.MFetchStatusEvent {
	t.Helper()
	ser, _ := serializer.NewSerializer("json")
	out, err := ser.Deserialize(payload, models.EventTypeFetchStatus)
	require.NoError(t, err)
	return out.(*models.MFetchStatusEvent)
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestCycleRespectsRateLimitAndBatching(t *testing.T) {
	// 3 symbols with batch size 2 makes two provider calls; at 1 call/sec the
	// second call must wait for the limiter, so the cycle takes >= 1s.
	brk := newFakeBroker()
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		return rowsFor(symbols), nil
	}}

	p := testPublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A", "B", "C"},
		BatchSize:              2,
		RateLimitCalls:         1,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, prov)

	start := time.Now()
	require.NoError(t, p.runCycle(context.Background()))
	elapsed := time.Since(start)

	assert.Equal(t, 2, prov.callCount())
	assert.GreaterOrEqual(t, elapsed, time.Second)

	assert.Equal(t, 3, brk.count(models.ChannelCandles))
	require.Equal(t, 1, brk.count(models.ChannelStatus))

	status := decodeStatus(t, brk.last(t, models.ChannelStatus))
	assert.Equal(t, models.FetchStatusHealthy, status.Status)
	assert.Equal(t, 3, status.SymbolsSucceeded)
	assert.Equal(t, 0, status.SymbolsFailed)
}

// -----------------------------------------------------------------------------

func TestCycleDegradedOnPartialFailure(t *testing.T) {
	brk := newFakeBroker()
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		if symbols[0] == "C" {
			return nil, fmt.Errorf("provider error")
		}
		return rowsFor(symbols), nil
	}}

	p := testPublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A", "B", "C"},
		BatchSize:              2,
		RateLimitCalls:         10,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, prov)

	require.NoError(t, p.runCycle(context.Background()))

	require.Equal(t, 1, brk.count(models.ChannelStatus))
	status := decodeStatus(t, brk.last(t, models.ChannelStatus))
	assert.Equal(t, models.FetchStatusDegraded, status.Status)
	assert.Equal(t, 2, status.SymbolsSucceeded)
	assert.Equal(t, 1, status.SymbolsFailed)
	assert.Equal(t, []string{"C"}, status.FailedSymbols)
}

// -----------------------------------------------------------------------------

func TestCycleUnhealthyWhenAllFail(t *testing.T) {
	// Every batch fails: the cycle reports UNHEALTHY and returns nil so the
	// loop keeps running instead of crashing.
	brk := newFakeBroker()
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		return nil, fmt.Errorf("provider down")
	}}

	p := testPublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A", "B"},
		BatchSize:              2,
		RateLimitCalls:         10,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, prov)

	require.NoError(t, p.runCycle(context.Background()))

	assert.Equal(t, 0, brk.count(models.ChannelCandles))
	require.Equal(t, 1, brk.count(models.ChannelStatus))

	status := decodeStatus(t, brk.last(t, models.ChannelStatus))
	assert.Equal(t, models.FetchStatusUnhealthy, status.Status)
	assert.Equal(t, 0, status.SymbolsSucceeded)
	assert.Equal(t, 2, status.SymbolsFailed)
}

// -----------------------------------------------------------------------------

func TestInvalidCandleRejectedBeforePublish(t *testing.T) {
	brk := newFakeBroker()
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		bad := goodRow("A")
		bad.High = 50 // below open/close: fails validation
		return []models.MOHLCVRow{bad, goodRow("B")}, nil
	}}

	p := testPublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A", "B"},
		BatchSize:              2,
		RateLimitCalls:         10,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, prov)

	require.NoError(t, p.runCycle(context.Background()))

	assert.Equal(t, 1, brk.count(models.ChannelCandles))

	status := decodeStatus(t, brk.last(t, models.ChannelStatus))
	assert.Equal(t, models.FetchStatusDegraded, status.Status)
	assert.Contains(t, status.FailedSymbols, "A")
}

// -----------------------------------------------------------------------------

func TestCycleCrashesOnlyWhenStatusUnpublishable(t *testing.T) {
	brk := newFakeBroker()
	brk.failNext = true
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		return rowsFor(symbols), nil
	}}

	p := testPublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A"},
		BatchSize:              1,
		RateLimitCalls:         10,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, prov)

	err := p.runCycle(context.Background())
	assert.Error(t, err)
}

// -----------------------------------------------------------------------------

func TestPartitionSymbols(t *testing.T) {
	batches := partitionSymbols([]string{"A", "B", "C", "D", "E"}, 2)
	require.Len(t, batches, 3)
	assert.Equal(t, []string{"A", "B"}, batches[0])
	assert.Equal(t, []string{"C", "D"}, batches[1])
	assert.Equal(t, []string{"E"}, batches[2])

	assert.Len(t, partitionSymbols([]string{"A"}, 0), 1)
	assert.Nil(t, partitionSymbols(nil, 2))
}

// -----------------------------------------------------------------------------

func TestStartStopLifecycle(t *testing.T) {
	brk := newFakeBroker()
	prov := &fakeProvider{fetch: func(symbols []string) ([]models.MOHLCVRow, error) {
		return rowsFor(symbols), nil
	}}

	ser, _ := serializer.NewSerializer("json")
	p := NewQuotePublisher(models.MPublisherConfig{
		Name:                   "test",
		Symbols:                []string{"A"},
		BatchSize:              1,
		PollIntervalSeconds:    3600,
		RateLimitCalls:         10,
		RateLimitPeriodSeconds: 1,
		FetchMaxRetries:        1,
	}, brk, ser, prov, logger.NewLogger("ERROR", "test"))

	require.NoError(t, p.Start())
	assert.Equal(t, models.StateRunning, p.State())
	assert.Error(t, p.Start()) // double start

	// First cycle runs immediately
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && prov.callCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 1, prov.callCount())

	require.NoError(t, p.Stop())
	assert.Equal(t, models.StateStopped, p.State())

	// STARTED + cycle HEALTHY + STOPPED
	assert.GreaterOrEqual(t, brk.count(models.ChannelStatus), 3)

	stats := p.GetStats()
	assert.Equal(t, int64(1), stats.Cycles)
	assert.GreaterOrEqual(t, stats.EventsPublished, int64(1))
}
