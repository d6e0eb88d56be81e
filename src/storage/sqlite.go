package storage

import (
	"database/sql"
	"fmt"
	"time"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------

type SQLiteCandleStore struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewSQLiteCandleStore(cfg *models.MStorageConfig, log *logger.Logger) (*SQLiteCandleStore, error) {
	return &SQLiteCandleStore{
		Config: cfg,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteCandleStore) Initialize() error {
	db, err := sql.Open("sqlite", d.Config.DBPath)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	// PRAGMA optimizations
	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		d.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		d.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	return d.createTables()
}

// -----------------------------------------------------------------------------

// createTables is additive. Existing candle data must survive restarts.
func (d *SQLiteCandleStore) createTables() error {
	// SQLite types: INTEGER for int64, REAL for float64, TEXT for string
	query := `
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT,
			timestamp INTEGER,
			open REAL,
			high REAL,
			low REAL,
			close REAL,
			volume INTEGER,
			source TEXT,
			fetched_at INTEGER,
			PRIMARY KEY (symbol, timestamp)
		);
	`
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}

	if _, err := d.DB.Exec("CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles (timestamp);"); err != nil {
		return fmt.Errorf("failed to create candles index: %w", err)
	}

	d.Logger.Info("SQLiteCandleStore initialized (%s)", d.Config.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

// UpsertCandlesBulk writes a batch keyed by (symbol, timestamp). A row that
// already exists is overwritten, so re-flushing the same batch is harmless.
func (d *SQLiteCandleStore) UpsertCandlesBulk(rows []models.MCandleEvent) ([]models.MCandleEvent, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	stmt, err := d.DB.Prepare(`
		INSERT INTO candles (symbol, timestamp, open, high, low, close, volume, source, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			source = excluded.source,
			fetched_at = excluded.fetched_at
	`)
	if err != nil {
		return rows, helpers.NewStorageError("sqlite prepare failed", err)
	}
	defer stmt.Close()

	var failed []models.MCandleEvent
	for _, r := range rows {
		_, err := stmt.Exec(r.Symbol, r.Timestamp, r.Open, r.High, r.Low, r.Close, r.Volume, r.Source, r.FetchedAt)
		if err != nil {
			d.Logger.Warning("SQLite upsert failed for %s@%d: %v", r.Symbol, r.Timestamp, err)
			failed = append(failed, r)
		}
	}

	if len(failed) == len(rows) {
		return failed, helpers.NewStorageError("sqlite batch failed entirely", nil)
	}
	return failed, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteCandleStore) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	res, err := d.DB.Exec("DELETE FROM candles WHERE timestamp < ?", cutoff)
	if err != nil {
		return fmt.Errorf("cleanup candles failed: %w", err)
	}

	deleted, _ := res.RowsAffected()
	d.Logger.Info("SQLite cleanup: removed %d candles older than %d days", deleted, retentionDays)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteCandleStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
