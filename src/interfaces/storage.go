package interfaces

import "quote-pipeline/src/models"

// -----------------------------------------------------------------------------
// ICandleStore defines the contract for durable candle storage.
// -----------------------------------------------------------------------------

type ICandleStore interface {

	// Initialize sets up the schema and tables.
	Initialize() error

	// -----------------------------------------------------------------------------

	// UpsertCandlesBulk inserts or updates a batch keyed by (symbol, timestamp).
	// Idempotent: repeated flushes of the same rows cannot duplicate data.
	// Rows that individually failed are returned without discarding the rest;
	// err is non-nil only when the whole batch failed.
	UpsertCandlesBulk(rows []models.MCandleEvent) (failed []models.MCandleEvent, err error)

	// -----------------------------------------------------------------------------

	// CleanupOldData removes rows older than the retention policy.
	CleanupOldData(retentionDays int) error

	// -----------------------------------------------------------------------------

	// Close the database connection
	Close() error
}
