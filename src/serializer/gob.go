package serializer

import (
	"bytes"
	"encoding/gob"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// GobSerializer - the schema-evolving binary codec. Gob transmits field names
// with the stream, so a consumer built against an older struct decodes what it
// knows and skips the rest; a payload from a strictly newer schema version is
// still rejected via the envelope check.
// -----------------------------------------------------------------------------

type GobSerializer struct{}

type gobEnvelope struct {
	EventType     models.EventType
	SchemaVersion int
	Payload       []byte
}

// -----------------------------------------------------------------------------

func (s *GobSerializer) Name() string {
	return "gob"
}

// -----------------------------------------------------------------------------

func (s *GobSerializer) Serialize(event interface{}) ([]byte, error) {
	eventType, err := eventTypeOf(event)
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(event); err != nil {
		return nil, helpers.NewSerializationError("gob encode failed", err)
	}

	var out bytes.Buffer
	env := gobEnvelope{
		EventType:     eventType,
		SchemaVersion: models.CurrentSchemaVersion,
		Payload:       payload.Bytes(),
	}
	if err := gob.NewEncoder(&out).Encode(env); err != nil {
		return nil, helpers.NewSerializationError("gob envelope encode failed", err)
	}
	return out.Bytes(), nil
}

// -----------------------------------------------------------------------------

func (s *GobSerializer) Deserialize(data []byte, expected models.EventType) (interface{}, error) {
	var env gobEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, helpers.NewSerializationError("gob envelope decode failed", err)
	}

	if err := checkEnvelope(env.EventType, env.SchemaVersion, expected); err != nil {
		return nil, err
	}

	event, err := newEventForType(env.EventType)
	if err != nil {
		return nil, err
	}
	if err := gob.NewDecoder(bytes.NewReader(env.Payload)).Decode(event); err != nil {
		return nil, helpers.NewSerializationError("gob payload decode failed", err)
	}
	return event, nil
}
