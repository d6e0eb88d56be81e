package publisher

import (
	"context"
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
	"quote-pipeline/src/utils"

	"golang.org/x/time/rate"
)

// stopGrace bounds how long Stop waits for the in-flight cycle.
const stopGrace = 5 * time.Second

// -----------------------------------------------------------------------------
// QuotePublisher polls the quote provider on a fixed interval and emits one
// CandleEvent per fetched row plus exactly one FetchStatusEvent per cycle.
//
// A cycle that fails entirely is reported as UNHEALTHY and the loop keeps
// running; only an inability to publish the status event at all (broker gone)
// surfaces as CRASHED to the orchestrator.
// -----------------------------------------------------------------------------

type QuotePublisher struct {
	Config     models.MPublisherConfig
	Broker     interfaces.IBroker
	Serializer interfaces.ISerializer
	Provider   interfaces.IQuoteProvider
	Logger     *logger.Logger
	Scheduler  *utils.MarketScheduler // nil unless market_hours_only

	limiter *rate.Limiter

	mu      sync.Mutex
	state   models.ComponentState
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	statsMu          sync.Mutex
	heartbeat        time.Time
	cycles           int64
	eventsPublished  int64
	symbolsSucceeded int64
	symbolsFailed    int64
}

// -----------------------------------------------------------------------------

// MPublisherStats are the counters exposed by GetStats.
type MPublisherStats struct {
	Cycles           int64   `json:"cycles"`
	EventsPublished  int64   `json:"events_published"`
	SymbolsSucceeded int64   `json:"symbols_succeeded"`
	SymbolsFailed    int64   `json:"symbols_failed"`
	UptimeSeconds    float64 `json:"uptime_seconds"`
}

// -----------------------------------------------------------------------------

func NewQuotePublisher(
	cfg models.MPublisherConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	prov interfaces.IQuoteProvider,
	log *logger.Logger,
) *QuotePublisher {
	p := &QuotePublisher{
		Config:     cfg,
		Broker:     brk,
		Serializer: ser,
		Provider:   prov,
		Logger:     log,
		state:      models.StateCreated,
	}
	if cfg.MarketHoursOnly {
		p.Scheduler = utils.NewMarketScheduler(cfg.Symbols, log)
	}
	return p
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) Name() string {
	return p.Config.Name
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) State() models.ComponentState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *QuotePublisher) setState(s models.ComponentState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) LastHeartbeat() time.Time {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.heartbeat
}

func (p *QuotePublisher) beat() {
	p.statsMu.Lock()
	p.heartbeat = time.Now()
	p.statsMu.Unlock()
}

// -----------------------------------------------------------------------------

// Start launches the polling loop. Safe to call again after Stop.
func (p *QuotePublisher) Start() error {
	p.mu.Lock()
	if p.state == models.StateRunning || p.state == models.StateStarting {
		p.mu.Unlock()
		return fmt.Errorf("publisher %s already running", p.Config.Name)
	}
	p.state = models.StateStarting
	p.ctx, p.cancel = context.WithCancel(context.Background())

	// One token per period/calls: strict spacing between provider calls
	every := time.Duration(p.Config.RateLimitPeriodSeconds) * time.Second / time.Duration(p.Config.RateLimitCalls)
	p.limiter = rate.NewLimiter(rate.Every(every), 1)

	p.started = time.Now()
	p.mu.Unlock()

	p.beat()
	p.publishStatus(models.FetchStatusStarted, 0, 0, nil, 0)

	p.wg.Add(1)
	go p.run()

	p.setState(models.StateRunning)
	p.Logger.Info("Publisher %s started (interval %ds, batch %d, %d symbols)",
		p.Config.Name, p.Config.PollIntervalSeconds, p.Config.BatchSize, len(p.Config.Symbols))
	return nil
}

// -----------------------------------------------------------------------------

// Stop cancels the loop and waits (bounded) for the in-flight cycle.
func (p *QuotePublisher) Stop() error {
	p.mu.Lock()
	if p.state != models.StateRunning && p.state != models.StateCrashed {
		p.mu.Unlock()
		return nil
	}
	p.state = models.StateStopping
	cancel := p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		p.Logger.Warning("Publisher %s did not drain within %v, abandoning in-flight cycle", p.Config.Name, stopGrace)
	}

	p.publishStatus(models.FetchStatusStopped, 0, 0, nil, 0)
	p.setState(models.StateStopped)
	p.Logger.Info("Publisher %s stopped", p.Config.Name)
	return nil
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) GetStats() MPublisherStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return MPublisherStats{
		Cycles:           p.cycles,
		EventsPublished:  p.eventsPublished,
		SymbolsSucceeded: p.symbolsSucceeded,
		SymbolsFailed:    p.symbolsFailed,
		UptimeSeconds:    time.Since(p.started).Seconds(),
	}
}

// -----------------------------------------------------------------------------
// Polling Loop
// -----------------------------------------------------------------------------

func (p *QuotePublisher) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(time.Duration(p.Config.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	// First cycle immediately, then on the ticker
	if err := p.runCycle(p.ctx); err != nil {
		p.crash(err)
		return
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.runCycle(p.ctx); err != nil {
				p.crash(err)
				return
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) crash(err error) {
	p.Logger.Error("Publisher %s crashed: %v", p.Config.Name, err)
	p.setState(models.StateCrashed)
	p.publishStatus(models.FetchStatusCrashed, 0, 0, nil, 0)
}

// -----------------------------------------------------------------------------

// runCycle performs one full polling pass over all symbol batches.
// Returns an error only on an unrecoverable condition; per-batch failures are
// absorbed into the cycle's status event.
func (p *QuotePublisher) runCycle(ctx context.Context) error {
	p.beat()
	cycleStart := time.Now()

	// Outside market hours there is nothing to fetch
	if p.Scheduler != nil && !p.Scheduler.AnyMarketOpen() {
		p.Logger.Debug("Publisher %s: all markets closed, skipping cycle", p.Config.Name)
		p.bumpCycle(0, 0)
		return p.publishStatus(models.FetchStatusHealthy, 0, 0, nil, time.Since(cycleStart))
	}

	var succeeded int
	var failedSymbols []string

	for _, batch := range partitionSymbols(p.Config.Symbols, p.Config.BatchSize) {
		if ctx.Err() != nil {
			return nil // Cooperative cancellation: not a crash
		}

		// Rate limiter: waits for the next token, cancellable via ctx
		if err := p.limiter.Wait(ctx); err != nil {
			return nil
		}

		rows, err := p.fetchBatchWithRetry(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// This batch is lost for the cycle; other batches are unaffected
			p.Logger.Warning("Publisher %s: batch of %d symbols failed: %v", p.Config.Name, len(batch), err)
			failedSymbols = append(failedSymbols, batch...)
			continue
		}

		got := make(map[string]bool, len(rows))
		for _, row := range rows {
			if p.publishCandle(row, cycleStart) {
				got[row.Symbol] = true
				succeeded++
			} else {
				failedSymbols = append(failedSymbols, row.Symbol)
			}
		}
		for _, sym := range batch {
			if !got[sym] && !contains(failedSymbols, sym) {
				failedSymbols = append(failedSymbols, sym)
			}
		}
		p.beat()
	}

	status := models.FetchStatusHealthy
	if len(failedSymbols) > 0 {
		if succeeded > 0 {
			status = models.FetchStatusDegraded
		} else {
			status = models.FetchStatusUnhealthy
		}
	}

	p.bumpCycle(succeeded, len(failedSymbols))
	return p.publishStatus(status, succeeded, len(failedSymbols), failedSymbols, time.Since(cycleStart))
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) fetchBatchWithRetry(ctx context.Context, batch []string) ([]models.MOHLCVRow, error) {
	var rows []models.MOHLCVRow
	err := helpers.RetryWithBackoff(ctx, "fetch batch", p.Config.FetchMaxRetries, time.Second, func() error {
		var fetchErr error
		rows, fetchErr = p.Provider.FetchBatch(ctx, batch, p.Config.FetchInterval)
		return fetchErr
	})
	return rows, err
}

// -----------------------------------------------------------------------------

// publishCandle validates, serializes and publishes one row.
// Invalid rows are rejected before publish and reported as failures.
func (p *QuotePublisher) publishCandle(row models.MOHLCVRow, cycleStart time.Time) bool {
	event := &models.MCandleEvent{
		Symbol:        row.Symbol,
		Timestamp:     row.Timestamp,
		Open:          row.Open,
		High:          row.High,
		Low:           row.Low,
		Close:         row.Close,
		Volume:        row.Volume,
		Source:        p.Provider.Name(),
		FetchedAt:     time.Now().Unix(),
		LatencyMs:     time.Since(cycleStart).Milliseconds(),
		SchemaVersion: models.CurrentSchemaVersion,
	}

	if err := event.Validate(); err != nil {
		p.Logger.Warning("Publisher %s: rejecting invalid candle: %v", p.Config.Name, err)
		return false
	}

	payload, err := p.Serializer.Serialize(event)
	if err != nil {
		p.Logger.Error("Publisher %s: serialize failed for %s: %v", p.Config.Name, row.Symbol, err)
		return false
	}

	if err := p.Broker.Publish(models.ChannelCandles, payload); err != nil {
		p.Logger.Error("Publisher %s: publish failed for %s: %v", p.Config.Name, row.Symbol, err)
		return false
	}

	p.statsMu.Lock()
	p.eventsPublished++
	p.statsMu.Unlock()
	return true
}

// -----------------------------------------------------------------------------

// publishStatus emits the per-cycle FetchStatusEvent. Failure to publish it
// means the broker is unreachable, which is the one condition runCycle treats
// as unrecoverable.
func (p *QuotePublisher) publishStatus(status models.FetchStatus, succeeded, failed int, failedSymbols []string, cycleDuration time.Duration) error {
	p.statsMu.Lock()
	published := p.eventsPublished
	p.statsMu.Unlock()

	event := &models.MFetchStatusEvent{
		PublisherID:      p.Config.Name,
		CycleTimestamp:   time.Now().Unix(),
		Status:           status,
		SymbolsSucceeded: succeeded,
		SymbolsFailed:    failed,
		FailedSymbols:    failedSymbols,
		CycleDurationMs:  cycleDuration.Milliseconds(),
		UptimeSeconds:    time.Since(p.started).Seconds(),
		EventsPublished:  published,
		SchemaVersion:    models.CurrentSchemaVersion,
	}

	payload, err := p.Serializer.Serialize(event)
	if err != nil {
		return err
	}
	if err := p.Broker.Publish(models.ChannelStatus, payload); err != nil {
		return helpers.NewBrokerError(fmt.Sprintf("publisher %s cannot publish status", p.Config.Name), err)
	}

	p.statsMu.Lock()
	p.eventsPublished++
	p.statsMu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (p *QuotePublisher) bumpCycle(succeeded, failed int) {
	p.statsMu.Lock()
	p.cycles++
	p.symbolsSucceeded += int64(succeeded)
	p.symbolsFailed += int64(failed)
	p.statsMu.Unlock()
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// partitionSymbols splits symbols into batches of at most batchSize.
func partitionSymbols(symbols []string, batchSize int) [][]string {
	if batchSize <= 0 {
		batchSize = len(symbols)
	}

	var batches [][]string
	for start := 0; start < len(symbols); start += batchSize {
		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}
		batches = append(batches, symbols[start:end])
	}
	return batches
}

func contains(list []string, item string) bool {
	for _, s := range list {
		if s == item {
			return true
		}
	}
	return false
}
