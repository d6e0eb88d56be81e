package models

import "fmt"

// -----------------------------------------------------------------------------
// Event Types and Schema Versioning
// -----------------------------------------------------------------------------

// EventType discriminates payloads on the wire.
type EventType string

const (
	EventTypeCandle        EventType = "candle"
	EventTypeFetchStatus   EventType = "fetch_status"
	EventTypeMarketBreadth EventType = "market_breadth"
	EventTypeTrendState    EventType = "trend_state"
)

// CurrentSchemaVersion is stamped on every event produced by this process.
// Consumers reject payloads carrying a higher version instead of guessing.
const CurrentSchemaVersion = 1

// -----------------------------------------------------------------------------
// Broker Channels
// -----------------------------------------------------------------------------

const (
	ChannelCandles = "quotes.candles"
	ChannelStatus  = "quotes.status"
	ChannelBreadth = "analytics.breadth"
	ChannelTrend   = "analytics.trend"
)

// ChannelEventType maps a broker channel to the event type carried on it.
func ChannelEventType(channel string) (EventType, error) {
	switch channel {
	case ChannelCandles:
		return EventTypeCandle, nil
	case ChannelStatus:
		return EventTypeFetchStatus, nil
	case ChannelBreadth:
		return EventTypeMarketBreadth, nil
	case ChannelTrend:
		return EventTypeTrendState, nil
	default:
		return "", fmt.Errorf("unknown channel: %s", channel)
	}
}

// -----------------------------------------------------------------------------
// MCandleEvent represents one fetched OHLCV quote for a symbol.
// -----------------------------------------------------------------------------

type MCandleEvent struct {
	Symbol        string  `json:"symbol"`
	Timestamp     int64   `json:"timestamp"`
	Open          float64 `json:"open"`
	High          float64 `json:"high"`
	Low           float64 `json:"low"`
	Close         float64 `json:"close"`
	Volume        int64   `json:"volume"`
	Source        string  `json:"source"`
	FetchedAt     int64   `json:"fetched_at"`
	LatencyMs     int64   `json:"latency_ms"`
	SchemaVersion int     `json:"schema_version"`
}

// -----------------------------------------------------------------------------

// Validate enforces the OHLCV shape invariant before an event may be published:
// high >= max(open, close) >= min(open, close) >= low, volume >= 0.
func (e *MCandleEvent) Validate() error {
	if e.Symbol == "" {
		return fmt.Errorf("candle event missing symbol")
	}
	if e.Volume < 0 {
		return fmt.Errorf("candle %s: negative volume %d", e.Symbol, e.Volume)
	}

	maxOC := e.Open
	if e.Close > maxOC {
		maxOC = e.Close
	}
	minOC := e.Open
	if e.Close < minOC {
		minOC = e.Close
	}

	if e.High < maxOC {
		return fmt.Errorf("candle %s: high %.6f below open/close %.6f", e.Symbol, e.High, maxOC)
	}
	if e.Low > minOC {
		return fmt.Errorf("candle %s: low %.6f above open/close %.6f", e.Symbol, e.Low, minOC)
	}
	return nil
}

// -----------------------------------------------------------------------------
// MFetchStatusEvent summarizes one publisher cycle.
// -----------------------------------------------------------------------------

type FetchStatus string

const (
	FetchStatusStarted   FetchStatus = "STARTED"
	FetchStatusHealthy   FetchStatus = "HEALTHY"
	FetchStatusDegraded  FetchStatus = "DEGRADED"
	FetchStatusUnhealthy FetchStatus = "UNHEALTHY"
	FetchStatusStopped   FetchStatus = "STOPPED"
	FetchStatusCrashed   FetchStatus = "CRASHED"
)

type MFetchStatusEvent struct {
	PublisherID      string      `json:"publisher_id"`
	CycleTimestamp   int64       `json:"cycle_timestamp"`
	Status           FetchStatus `json:"status"`
	SymbolsSucceeded int         `json:"symbols_succeeded"`
	SymbolsFailed    int         `json:"symbols_failed"`
	FailedSymbols    []string    `json:"failed_symbols"`
	CycleDurationMs  int64       `json:"cycle_duration_ms"`
	UptimeSeconds    float64     `json:"uptime_seconds"`
	EventsPublished  int64       `json:"events_published"`
	SchemaVersion    int         `json:"schema_version"`
}

// -----------------------------------------------------------------------------
// MMarketBreadthEvent aggregates advance/decline sentiment per window.
// -----------------------------------------------------------------------------

type MMarketBreadthEvent struct {
	UniverseID          string  `json:"universe_id"`
	Timestamp           int64   `json:"timestamp"`
	Advances            int     `json:"advances"`
	Declines            int     `json:"declines"`
	Unchanged           int     `json:"unchanged"`
	TotalSymbols        int     `json:"total_symbols"`
	AdvanceDeclineRatio float64 `json:"advance_decline_ratio"`
	SentimentScore      float64 `json:"sentiment_score"`
	NewHighs            int     `json:"new_highs"`
	NewLows             int     `json:"new_lows"`
	SchemaVersion       int     `json:"schema_version"`
}

// -----------------------------------------------------------------------------

// Validate enforces advances + declines + unchanged == total_symbols.
func (e *MMarketBreadthEvent) Validate() error {
	if e.Advances+e.Declines+e.Unchanged != e.TotalSymbols {
		return fmt.Errorf("breadth %s: %d+%d+%d != total %d",
			e.UniverseID, e.Advances, e.Declines, e.Unchanged, e.TotalSymbols)
	}
	return nil
}

// -----------------------------------------------------------------------------
// MTrendStateEvent carries per-symbol moving averages and direction.
// -----------------------------------------------------------------------------

type TrendDirection string

const (
	TrendUp   TrendDirection = "UP"
	TrendDown TrendDirection = "DOWN"
	TrendFlat TrendDirection = "FLAT"
)

type MTrendStateEvent struct {
	Symbol        string         `json:"symbol"`
	Timestamp     int64          `json:"timestamp"`
	ShortMA       float64        `json:"short_ma"`
	LongMA        float64        `json:"long_ma"`
	Direction     TrendDirection `json:"direction"`
	CurrentPrice  float64        `json:"current_price"`
	SchemaVersion int            `json:"schema_version"`
}

// -----------------------------------------------------------------------------
// MOHLCVRow is one raw row returned by a quote provider, before it becomes
// a published MCandleEvent.
// -----------------------------------------------------------------------------

type MOHLCVRow struct {
	Symbol    string
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}
