package serializer

import (
	"encoding/json"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// JSONSerializer - the human-readable codec. Operators can read payloads off
// the wire at the cost of size; swap for "binary" in config for throughput.
// -----------------------------------------------------------------------------

type JSONSerializer struct{}

type jsonEnvelope struct {
	EventType     models.EventType `json:"event_type"`
	SchemaVersion int              `json:"schema_version"`
	Payload       json.RawMessage  `json:"payload"`
}

// -----------------------------------------------------------------------------

func (s *JSONSerializer) Name() string {
	return "json"
}

// -----------------------------------------------------------------------------

func (s *JSONSerializer) Serialize(event interface{}) ([]byte, error) {
	eventType, err := eventTypeOf(event)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, helpers.NewSerializationError("json encode failed", err)
	}

	data, err := json.Marshal(jsonEnvelope{
		EventType:     eventType,
		SchemaVersion: models.CurrentSchemaVersion,
		Payload:       payload,
	})
	if err != nil {
		return nil, helpers.NewSerializationError("json envelope encode failed", err)
	}
	return data, nil
}

// -----------------------------------------------------------------------------

func (s *JSONSerializer) Deserialize(data []byte, expected models.EventType) (interface{}, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, helpers.NewSerializationError("json envelope decode failed", err)
	}

	if err := checkEnvelope(env.EventType, env.SchemaVersion, expected); err != nil {
		return nil, err
	}

	event, err := newEventForType(env.EventType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Payload, event); err != nil {
		return nil, helpers.NewSerializationError("json payload decode failed", err)
	}
	return event, nil
}
