package interfaces

import (
	"context"

	"quote-pipeline/src/models"
)

// -----------------------------------------------------------------------------
// IQuoteProvider is the external market-data boundary. One FetchBatch call
// covers one symbol batch; a symbol that fails yields no row rather than
// aborting the batch.
// -----------------------------------------------------------------------------

type IQuoteProvider interface {

	// Name returns the unique identifier of the provider
	Name() string

	// -----------------------------------------------------------------------------

	// FetchBatch retrieves the latest OHLCV row per symbol at the given
	// interval granularity (e.g. "5m"). Missing symbols are simply absent
	// from the result. Returns an error only if the whole batch failed.
	FetchBatch(ctx context.Context, symbols []string, interval string) ([]models.MOHLCVRow, error)
}
