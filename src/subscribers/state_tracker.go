package subscribers

import (
	"fmt"
	"sync"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// StateTracker maintains the last-write-wins in-memory view of the whole
// stream: latest candle per symbol, latest status per publisher, latest
// breadth per universe, latest trend per symbol. Queries never block the
// dispatch path for longer than a map write.
// -----------------------------------------------------------------------------

type StateTracker struct {
	BaseSubscriber

	stateMu     sync.RWMutex
	lastCandle  map[string]models.MCandleEvent
	lastStatus  map[string]models.MFetchStatusEvent
	lastBreadth map[string]models.MMarketBreadthEvent
	lastTrend   map[string]models.MTrendStateEvent
}

// -----------------------------------------------------------------------------

func NewStateTracker(
	cfg models.MSubscriberConfig,
	brk interfaces.IBroker,
	ser interfaces.ISerializer,
	dlq interfaces.IDeadLetterQueue,
	log *logger.Logger,
) *StateTracker {
	t := &StateTracker{
		BaseSubscriber: newBaseSubscriber(
			cfg.Name,
			[]string{models.ChannelCandles, models.ChannelStatus, models.ChannelBreadth, models.ChannelTrend},
			brk, ser, dlq, log,
		),
		lastCandle:  make(map[string]models.MCandleEvent),
		lastStatus:  make(map[string]models.MFetchStatusEvent),
		lastBreadth: make(map[string]models.MMarketBreadthEvent),
		lastTrend:   make(map[string]models.MTrendStateEvent),
	}
	t.handle = t.handleEvent
	return t
}

// -----------------------------------------------------------------------------

func (t *StateTracker) handleEvent(event interface{}, channel string) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	switch e := event.(type) {
	case *models.MCandleEvent:
		t.lastCandle[e.Symbol] = *e
	case *models.MFetchStatusEvent:
		t.lastStatus[e.PublisherID] = *e
	case *models.MMarketBreadthEvent:
		t.lastBreadth[e.UniverseID] = *e
	case *models.MTrendStateEvent:
		t.lastTrend[e.Symbol] = *e
	default:
		return fmt.Errorf("unexpected event type %T on %s", event, channel)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

func (t *StateTracker) GetCandle(symbol string) (models.MCandleEvent, bool) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	c, ok := t.lastCandle[symbol]
	return c, ok
}

// -----------------------------------------------------------------------------

func (t *StateTracker) GetAllCandles() map[string]models.MCandleEvent {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()

	out := make(map[string]models.MCandleEvent, len(t.lastCandle))
	for k, v := range t.lastCandle {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

func (t *StateTracker) GetPublisherStatus(publisherID string) (models.MFetchStatusEvent, bool) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	s, ok := t.lastStatus[publisherID]
	return s, ok
}

// -----------------------------------------------------------------------------

func (t *StateTracker) GetAllPublisherStatuses() map[string]models.MFetchStatusEvent {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()

	out := make(map[string]models.MFetchStatusEvent, len(t.lastStatus))
	for k, v := range t.lastStatus {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------

func (t *StateTracker) GetBreadth(universeID string) (models.MMarketBreadthEvent, bool) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	b, ok := t.lastBreadth[universeID]
	return b, ok
}

// -----------------------------------------------------------------------------

func (t *StateTracker) GetTrend(symbol string) (models.MTrendStateEvent, bool) {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	tr, ok := t.lastTrend[symbol]
	return tr, ok
}
