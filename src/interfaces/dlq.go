package interfaces

import (
	"time"

	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// IDeadLetterQueue is the durable holding area for events a subscriber failed
// to process. Entries survive process restart. Callers never touch the
// underlying storage directly.
// -----------------------------------------------------------------------------

type IDeadLetterQueue interface {

	// Record parks a failed event for retry with exponential backoff
	Record(channel string, payload []byte, procErr error) error

	// -----------------------------------------------------------------------------

	// RecordPoison parks a malformed payload as immediately terminal.
	// Retrying cannot fix a payload that does not deserialize.
	RecordPoison(channel string, payload []byte, procErr error) error

	// -----------------------------------------------------------------------------

	// ListPending returns up to limit non-terminal entries, oldest first
	ListPending(limit int) ([]models.MDLQEntry, error)

	// -----------------------------------------------------------------------------

	// Retry forces an immediate redelivery attempt for one entry
	Retry(entryID string) error

	// -----------------------------------------------------------------------------

	// PurgeTerminal deletes terminal entries older than the given horizon
	PurgeTerminal(olderThan time.Duration) (int, error)
}
