package serializer

import (
	"fmt"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// Serializer Factory
// -----------------------------------------------------------------------------

// NewSerializer returns the codec selected by configuration.
// "json" is human-readable, "binary" is the compact wire codec, "gob" is the
// schema-evolving codec (tolerates added/removed fields between versions).
func NewSerializer(name string) (interfaces.ISerializer, error) {
	switch name {
	case "json":
		return &JSONSerializer{}, nil
	case "gob":
		return &GobSerializer{}, nil
	case "binary":
		return &BinarySerializer{}, nil
	default:
		return nil, helpers.NewConfigurationError(fmt.Sprintf("unknown serializer: %s", name), nil)
	}
}

// -----------------------------------------------------------------------------
// Shared Helpers
// -----------------------------------------------------------------------------

// eventTypeOf maps a concrete event pointer to its wire discriminator.
func eventTypeOf(event interface{}) (models.EventType, error) {
	switch event.(type) {
	case *models.MCandleEvent:
		return models.EventTypeCandle, nil
	case *models.MFetchStatusEvent:
		return models.EventTypeFetchStatus, nil
	case *models.MMarketBreadthEvent:
		return models.EventTypeMarketBreadth, nil
	case *models.MTrendStateEvent:
		return models.EventTypeTrendState, nil
	default:
		return "", helpers.NewSerializationError(fmt.Sprintf("unsupported event type %T", event), nil)
	}
}

// -----------------------------------------------------------------------------

// newEventForType allocates the concrete struct a payload decodes into.
func newEventForType(eventType models.EventType) (interface{}, error) {
	switch eventType {
	case models.EventTypeCandle:
		return &models.MCandleEvent{}, nil
	case models.EventTypeFetchStatus:
		return &models.MFetchStatusEvent{}, nil
	case models.EventTypeMarketBreadth:
		return &models.MMarketBreadthEvent{}, nil
	case models.EventTypeTrendState:
		return &models.MTrendStateEvent{}, nil
	default:
		return nil, helpers.NewSerializationError(fmt.Sprintf("unsupported event type %s", eventType), nil)
	}
}

// -----------------------------------------------------------------------------

// checkEnvelope rejects payloads from a newer schema or of an unexpected type.
// Rejection is a typed SerializationError so dispatchers can park the payload
// as poison instead of crashing.
func checkEnvelope(eventType models.EventType, version int, expected models.EventType) error {
	if version > models.CurrentSchemaVersion {
		return helpers.NewSerializationError(
			fmt.Sprintf("payload schema version %d newer than supported %d", version, models.CurrentSchemaVersion), nil)
	}
	if eventType != expected {
		return helpers.NewSerializationError(
			fmt.Sprintf("payload type %s does not match expected %s", eventType, expected), nil)
	}
	return nil
}
