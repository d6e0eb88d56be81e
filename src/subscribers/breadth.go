package subscribers

import (
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// MarketBreadthSubscriber aggregates candles over fixed windows and emits one
// MMarketBreadthEvent per window: advances/declines/unchanged against each
// symbol's close at the end of the previous window, plus session new highs
// and lows. It is both a consumer (quotes.candles) and a producer
// (analytics.breadth).
// -----------------------------------------------------------------------------

type symbolBreadth struct {
	prevClose   float64
	hasPrev     bool
	lastClose   float64
	seen        bool
	sessionHigh float64
	sessionLow  float64
	hasSession  bool
	newHigh     bool
	newLow      bool
}

// -----------------------------------------------------------------------------

type MarketBreadthSubscriber struct {
	BaseSubscriber

	UniverseID string
	Window     time.Duration

	breadthMu sync.Mutex
	symbols   map[string]*symbolBreadth

	windowStop chan struct{}
	windowWg   sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewMarketBreadthSubscriber(
	cfg models.MSubscriberConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	log *logger.Logger,
) *MarketBreadthSubscriber {
	s := &MarketBreadthSubscriber{
		BaseSubscriber: newBaseSubscriber(
			cfg.Name,
			[]string{models.ChannelCandles},
			brk, ser, dlq, log,
		),
		UniverseID: cfg.UniverseID,
		Window:     time.Duration(cfg.WindowSeconds) * time.Second,
		symbols:    make(map[string]*symbolBreadth),
	}
	s.handle = s.handleEvent
	s.onStart = s.startWindowLoop
	s.onStop = s.stopWindowLoop
	return s
}

// -----------------------------------------------------------------------------

func (s *MarketBreadthSubscriber) handleEvent(event interface{}, channel string) error {
	candle, ok := event.(*models.MCandleEvent)
	if !ok {
		return fmt.Errorf("unexpected event type %T on %s", event, channel)
	}

	s.breadthMu.Lock()
	defer s.breadthMu.Unlock()

	sb := s.symbols[candle.Symbol]
	if sb == nil {
		sb = &symbolBreadth{}
		s.symbols[candle.Symbol] = sb
	}

	sb.lastClose = candle.Close
	sb.seen = true

	if !sb.hasSession {
		sb.sessionHigh = candle.Close
		sb.sessionLow = candle.Close
		sb.hasSession = true
	} else {
		if candle.Close > sb.sessionHigh {
			sb.sessionHigh = candle.Close
			sb.newHigh = true
		}
		if candle.Close < sb.sessionLow {
			sb.sessionLow = candle.Close
			sb.newLow = true
		}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Window Loop
// -----------------------------------------------------------------------------

func (s *MarketBreadthSubscriber) startWindowLoop() error {
	s.windowStop = make(chan struct{})
	s.windowWg.Add(1)

	go func() {
		defer s.windowWg.Done()

		ticker := time.NewTicker(s.Window)
		defer ticker.Stop()

		for {
			select {
			case <-s.windowStop:
				return
			case <-ticker.C:
				s.emitWindow()
			}
		}
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (s *MarketBreadthSubscriber) stopWindowLoop() error {
	close(s.windowStop)
	s.windowWg.Wait()
	return nil
}

// -----------------------------------------------------------------------------

// emitWindow classifies every symbol seen during the closing window against
// its close at the end of the previous one, publishes the breadth event and
// rolls the window over. A window with no traffic emits nothing.
func (s *MarketBreadthSubscriber) emitWindow() {
	s.breadthMu.Lock()

	var advances, declines, unchanged, newHighs, newLows int
	for _, sb := range s.symbols {
		if !sb.seen {
			continue
		}

		switch {
		case !sb.hasPrev:
			// First sighting: no prior close to compare against
			unchanged++
		case sb.lastClose > sb.prevClose:
			advances++
		case sb.lastClose < sb.prevClose:
			declines++
		default:
			unchanged++
		}

		if sb.newHigh {
			newHighs++
		}
		if sb.newLow {
			newLows++
		}

		// Roll over for the next window
		sb.prevClose = sb.lastClose
		sb.hasPrev = true
		sb.seen = false
		sb.newHigh = false
		sb.newLow = false
	}
	s.breadthMu.Unlock()

	total := advances + declines + unchanged
	if total == 0 {
		return
	}

	ratio := float64(advances)
	if declines > 0 {
		ratio = float64(advances) / float64(declines)
	}

	event := &models.MMarketBreadthEvent{
		UniverseID:          s.UniverseID,
		Timestamp:           time.Now().Unix(),
		Advances:            advances,
		Declines:            declines,
		Unchanged:           unchanged,
		TotalSymbols:        total,
		AdvanceDeclineRatio: ratio,
		SentimentScore:      float64(advances-declines) / float64(total),
		NewHighs:            newHighs,
		NewLows:             newLows,
		SchemaVersion:       models.CurrentSchemaVersion,
	}

	if err := event.Validate(); err != nil {
		s.Logger.Error("Breadth %s: refusing to publish invalid event: %v", s.SubName, err)
		return
	}

	payload, err := s.Serializer.Serialize(event)
	if err != nil {
		s.Logger.Error("Breadth %s: serialize failed: %v", s.SubName, err)
		return
	}
	if err := s.Broker.Publish(models.ChannelBreadth, payload); err != nil {
		s.Logger.Error("Breadth %s: publish failed: %v", s.SubName, err)
		return
	}

	s.Logger.Debug("Breadth %s: window emitted (adv=%d dec=%d unch=%d)", s.SubName, advances, declines, unchanged)
}
