package interfaces

// -----------------------------------------------------------------------------
// ISubscriber is one independent consumer of the event stream. All five
// subscriber kinds implement it; the orchestrator selects them via the
// factory keyed on the configuration type tag.
// -----------------------------------------------------------------------------

type ISubscriber interface {
	IComponent

	// Channels returns the broker channels this subscriber consumes
	Channels() []string

	// -----------------------------------------------------------------------------

	// GetStats returns dispatch counters (processed, failed, poisoned)
	GetStats() MSubscriberStats
}

// -----------------------------------------------------------------------------

// MSubscriberStats counts per-subscriber dispatch outcomes.
type MSubscriberStats struct {
	EventsProcessed int64 `json:"events_processed"`
	EventsFailed    int64 `json:"events_failed"`
	EventsPoisoned  int64 `json:"events_poisoned"`
}
