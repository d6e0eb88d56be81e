package storage

import (
	"path/filepath"
	"testing"
	"time"

	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func testStore(t *testing.T) *SQLiteCandleStore {
	t.Helper()
	cfg := &models.MStorageConfig{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "candles.db"),
	}
	store, err := NewSQLiteCandleStore(cfg, logger.NewLogger("ERROR", "test"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })
	return store
}

func row(symbol string, ts int64, close float64) models.MCandleEvent {
	return models.MCandleEvent{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    100,
		Source:    "test",
		FetchedAt: ts + 1,
	}
}

func countRows(t *testing.T, store *SQLiteCandleStore) int {
	t.Helper()
	var n int
	require.NoError(t, store.DB.QueryRow("SELECT COUNT(*) FROM candles").Scan(&n))
	return n
}

// -----------------------------------------------------------------------------

func TestUpsertIsIdempotent(t *testing.T) {
	store := testStore(t)

	batch := []models.MCandleEvent{
		row("AAPL", 1000, 100),
		row("AAPL", 2000, 101),
		row("MSFT", 1000, 400),
	}

	failed, err := store.UpsertCandlesBulk(batch)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 3, countRows(t, store))

	// Re-flushing the identical batch must not duplicate rows
	failed, err = store.UpsertCandlesBulk(batch)
	require.NoError(t, err)
	assert.Empty(t, failed)
	assert.Equal(t, 3, countRows(t, store))
}

// -----------------------------------------------------------------------------

func TestUpsertOverwritesSameKey(t *testing.T) {
	store := testStore(t)

	_, err := store.UpsertCandlesBulk([]models.MCandleEvent{row("AAPL", 1000, 100)})
	require.NoError(t, err)

	updated := row("AAPL", 1000, 150)
	_, err = store.UpsertCandlesBulk([]models.MCandleEvent{updated})
	require.NoError(t, err)

	var close float64
	require.NoError(t, store.DB.QueryRow(
		"SELECT close FROM candles WHERE symbol = ? AND timestamp = ?", "AAPL", 1000).Scan(&close))
	assert.Equal(t, 150.0, close)
	assert.Equal(t, 1, countRows(t, store))
}

// -----------------------------------------------------------------------------

func TestUpsertEmptyBatch(t *testing.T) {
	store := testStore(t)

	failed, err := store.UpsertCandlesBulk(nil)
	require.NoError(t, err)
	assert.Empty(t, failed)
}

// -----------------------------------------------------------------------------

func TestCleanupOldData(t *testing.T) {
	store := testStore(t)

	old := row("AAPL", time.Now().UTC().AddDate(0, 0, -30).Unix(), 100)
	recent := row("AAPL", time.Now().UTC().Unix(), 101)

	_, err := store.UpsertCandlesBulk([]models.MCandleEvent{old, recent})
	require.NoError(t, err)

	require.NoError(t, store.CleanupOldData(7))
	assert.Equal(t, 1, countRows(t, store))
}

// -----------------------------------------------------------------------------

func TestDataSurvivesReopen(t *testing.T) {
	cfg := &models.MStorageConfig{
		DBType: "sqlite",
		DBPath: filepath.Join(t.TempDir(), "candles.db"),
	}
	log := logger.NewLogger("ERROR", "test")

	s1, err := NewSQLiteCandleStore(cfg, log)
	require.NoError(t, err)
	require.NoError(t, s1.Initialize())
	_, err = s1.UpsertCandlesBulk([]models.MCandleEvent{row("AAPL", 1000, 100)})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := NewSQLiteCandleStore(cfg, log)
	require.NoError(t, err)
	require.NoError(t, s2.Initialize())
	defer s2.Close()

	assert.Equal(t, 1, countRows(t, s2))
}
