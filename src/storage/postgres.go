package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	_ "github.com/lib/pq"
)

// -----------------------------------------------------------------------------

type PostgresCandleStore struct {
	Config *models.MStorageConfig
	DB     *sql.DB
	Schema string
	Logger *logger.Logger
}

// -----------------------------------------------------------------------------

func NewPostgresCandleStore(cfg *models.MStorageConfig, log *logger.Logger) (*PostgresCandleStore, error) {
	// Schema named after the executable, so several deployments can share a DB
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to get executable name: %w", err)
	}
	name := filepath.Base(exe)
	name = strings.TrimSuffix(name, filepath.Ext(name))

	return &PostgresCandleStore{
		Config: cfg,
		Schema: name,
		Logger: log,
	}, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresCandleStore) Initialize() error {
	db, err := sql.Open("postgres", d.Config.DBConnectionString)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		return err
	}

	d.DB = db

	if _, err := d.DB.Exec(fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema)); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", d.Schema, err)
	}

	if err := d.createTables(); err != nil {
		return err
	}

	d.Logger.Info("PostgresCandleStore initialized (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

// createTables is additive. Existing candle data must survive restarts.
func (d *PostgresCandleStore) createTables() error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS "%s"."candles" (
			symbol TEXT,
			timestamp BIGINT,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume BIGINT,
			source TEXT,
			fetched_at BIGINT,
			PRIMARY KEY (symbol, timestamp)
		);
	`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles: %w", err)
	}

	query = fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON "%s"."candles" (timestamp);`, d.Schema)
	if _, err := d.DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create candles index: %w", err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// UpsertCandlesBulk writes a batch keyed by (symbol, timestamp). A row that
// already exists is overwritten, so re-flushing the same batch is harmless.
func (d *PostgresCandleStore) UpsertCandlesBulk(rows []models.MCandleEvent) ([]models.MCandleEvent, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO "%s"."candles" (symbol, timestamp, open, high, low, close, volume, source, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol, timestamp) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at
	`, d.Schema)

	stmt, err := d.DB.Prepare(query)
	if err != nil {
		return rows, helpers.NewStorageError("postgres prepare failed", err)
	}
	defer stmt.Close()

	var failed []models.MCandleEvent
	for _, r := range rows {
		_, err := stmt.Exec(r.Symbol, r.Timestamp, r.Open, r.High, r.Low, r.Close, r.Volume, r.Source, r.FetchedAt)
		if err != nil {
			d.Logger.Warning("Postgres upsert failed for %s@%d: %v", r.Symbol, r.Timestamp, err)
			failed = append(failed, r)
		}
	}

	if len(failed) == len(rows) {
		return failed, helpers.NewStorageError("postgres batch failed entirely", nil)
	}
	return failed, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresCandleStore) CleanupOldData(retentionDays int) error {
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays).Unix()

	query := fmt.Sprintf(`DELETE FROM "%s"."candles" WHERE timestamp < $1`, d.Schema)
	res, err := d.DB.Exec(query, cutoff)
	if err != nil {
		return fmt.Errorf("cleanup candles failed: %w", err)
	}

	deleted, _ := res.RowsAffected()
	d.Logger.Info("Postgres cleanup: removed %d candles older than %d days", deleted, retentionDays)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresCandleStore) Close() error {
	if d.DB != nil {
		return d.DB.Close()
	}
	return nil
}
