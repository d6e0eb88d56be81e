package broker

import (
	"fmt"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// Broker Factory
// -----------------------------------------------------------------------------

// NewBroker returns the transport selected by configuration.
func NewBroker(cfg models.MBrokerConfig, log *logger.Logger) (interfaces.IBroker, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryBroker(cfg.QueueSize, log), nil
	case "redis":
		return NewRedisBroker(cfg, log), nil
	default:
		return nil, helpers.NewConfigurationError(fmt.Sprintf("unknown broker type: %s", cfg.Type), nil)
	}
}
