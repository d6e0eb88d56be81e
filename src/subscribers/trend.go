package subscribers

import (
	"fmt"
	"sync"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
	"quote-pipeline/src/utils"
)

// flatBand is the relative short/long spread below which a trend reads FLAT.
const flatBand = 0.0005

// -----------------------------------------------------------------------------
// TrendSubscriber keeps a bounded price ring per symbol and emits an
// MTrendStateEvent whenever both moving averages are computable. Memory per
// symbol is fixed by the ring capacity no matter how long the stream runs.
// It is both a consumer (quotes.candles) and a producer (analytics.trend).
// -----------------------------------------------------------------------------

type TrendSubscriber struct {
	BaseSubscriber

	WindowSize  int
	ShortPeriod int
	LongPeriod  int

	ringsMu sync.Mutex
	rings   map[string]*utils.PriceRing
}

// -----------------------------------------------------------------------------

func NewTrendSubscriber(
	cfg models.MSubscriberConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	log *logger.Logger,
) *TrendSubscriber {
	s := &TrendSubscriber{
		BaseSubscriber: newBaseSubscriber(
			cfg.Name,
			[]string{models.ChannelCandles},
			brk, ser, dlq, log,
		),
		WindowSize:  cfg.PriceWindowSize,
		ShortPeriod: cfg.MAShortPeriod,
		LongPeriod:  cfg.MALongPeriod,
		rings:       make(map[string]*utils.PriceRing),
	}
	s.handle = s.handleEvent
	return s
}

// -----------------------------------------------------------------------------

func (s *TrendSubscriber) handleEvent(event interface{}, channel string) error {
	candle, ok := event.(*models.MCandleEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", event, channel)
	}

	s.ringsMu.Lock()
	ring := s.rings[candle.Symbol]
	if ring == nil {
		ring = utils.NewPriceRing(s.WindowSize)
		s.rings[candle.Symbol] = ring
	}
	ring.Append(utils.PriceSample{Timestamp: candle.Timestamp, Price: candle.Close})

	// Not enough history yet for the long average
	if ring.Size() < s.LongPeriod {
		s.ringsMu.Unlock()
		return nil
	}

	shortMA := ring.MovingAverage(s.ShortPeriod)
	longMA := ring.MovingAverage(s.LongPeriod)
	s.ringsMu.Unlock()

	event2 := &models.MTrendStateEvent{
		Symbol:        candle.Symbol,
		Timestamp:     candle.Timestamp,
		ShortMA:       shortMA,
		LongMA:        longMA,
		Direction:     classifyTrend(shortMA, longMA),
		CurrentPrice:  candle.Close,
		SchemaVersion: models.CurrentSchemaVersion,
	}

	payload, err := s.Serializer.Serialize(event2)
	if err != nil {
		return fmt.Errorf("trend serialize failed: %w", err)
	}
	if err := s.Broker.Publish(models.ChannelTrend, payload); err != nil {
		return fmt.Errorf("trend publish failed: %w", err)
	}
	return nil
}

// -----------------------------------------------------------------------------

// TrackedSymbols reports how many symbols currently hold a ring.
func (s *TrendSubscriber) TrackedSymbols() int {
	s.ringsMu.Lock()
	defer s.ringsMu.Unlock()
	return len(s.rings)
}

// -----------------------------------------------------------------------------

// classifyTrend compares the averages with a small flat band so noise around
// equality does not flap between UP and DOWN.
func classifyTrend(shortMA, longMA float64) models.TrendDirection {
	if longMA == 0 {
		return models.TrendFlat
	}

	spread := (shortMA - longMA) / longMA
	switch {
	case spread > flatBand:
		return models.TrendUp
	case spread < -flatBand:
		return models.TrendDown
	default:
		return models.TrendFlat
	}
}
