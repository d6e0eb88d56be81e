package interfaces

import "quote-pipeline/src/models"

// -----------------------------------------------------------------------------
// ISerializer converts events to and from wire bytes. Implementations must be
// pure and deterministic, and must embed the schema version so an older
// consumer can reject (not crash on) a newer, incompatible payload.
// -----------------------------------------------------------------------------

type ISerializer interface {

	// Name returns the codec identifier used in configuration
	Name() string

	// -----------------------------------------------------------------------------

	// Serialize encodes a typed event (pointer to one of the models event
	// structs) into an enveloped byte slice.
	Serialize(event interface{}) ([]byte, error)

	// -----------------------------------------------------------------------------

	// Deserialize decodes data, verifying that the embedded event type matches
	// expected and that the embedded schema version is supported. Returns a
	// pointer to the concrete event struct.
	Deserialize(data []byte, expected models.EventType) (interface{}, error)
}
