package subscribers

import (
	"fmt"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------

// Deps bundles the shared collaborators a subscriber may need.
type Deps struct {
	Broker     interfaces.IBroker
	Serializer interfaces.ISerializer
	DLQ        interfaces.IDeadLetterQueue
	Store      interfaces.ICandleStore
	LogLevel   string
	Logger     *logger.Logger
}

// -----------------------------------------------------------------------------

// NewSubscriber builds the subscriber selected by the configuration type tag.
func NewSubscriber(cfg models.MSubscriberConfig, deps Deps) (interfaces.ISubscriber, error) {
	switch cfg.Type {
	case "state_tracker":
		return NewStateTracker(cfg, deps.Broker, deps.Serializer, deps.DLQ, deps.Logger), nil

	case "durable_writer":
		if deps.Store == nil {
			return nil, fmt.Errorf("subscriber %s: durable_writer requires a candle store", cfg.Name)
		}
		return NewDurableWriter(cfg, deps.Broker, deps.Serializer, deps.DLQ, deps.Store, deps.Logger), nil

	case "market_breadth":
		return NewMarketBreadthSubscriber(cfg, deps.Broker, deps.Serializer, deps.DLQ, deps.Logger), nil

	case "trend":
		return NewTrendSubscriber(cfg, deps.Broker, deps.Serializer, deps.DLQ, deps.Logger), nil

	case "broadcaster":
		return NewBroadcastSubscriber(cfg, deps.Broker, deps.Serializer, deps.DLQ, deps.LogLevel, deps.Logger), nil

	default:
		return nil, fmt.Errorf("unknown subscriber type: %s", cfg.Type)
	}
}
