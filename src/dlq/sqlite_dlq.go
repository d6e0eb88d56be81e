package dlq

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"quote-pipeline/src/helpers"
	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// -----------------------------------------------------------------------------
// SQLiteDLQ is the durable dead-letter queue. Failed events are parked in a
// SQLite table and redelivered by re-publishing to their original channel with
// exponential backoff. Entries survive process restart; after max_attempts an
// entry turns terminal and is only removed by the retention purge or an
// operator Retry.
// -----------------------------------------------------------------------------

type SQLiteDLQ struct {
	Config models.MDLQConfig
	Broker interfaces.IBroker
	Logger *logger.Logger
	DB     *sql.DB

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

func NewSQLiteDLQ(cfg models.MDLQConfig, brk interfaces.IBroker, log *logger.Logger) *SQLiteDLQ {
	return &SQLiteDLQ{
		Config: cfg,
		Broker: brk,
		Logger: log,
	}
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) Initialize() error {
	db, err := sql.Open("sqlite", q.Config.DBPath)
	if err != nil {
		return err
	}
	if err := db.Ping(); err != nil {
		return err
	}
	q.DB = db

	if _, err := db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		q.Logger.Warning("Failed to set WAL mode: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL;"); err != nil {
		q.Logger.Warning("Failed to set synchronous mode: %v", err)
	}

	// Additive schema: parked entries must survive restart
	query := `
		CREATE TABLE IF NOT EXISTS dead_letters (
			id TEXT PRIMARY KEY,
			channel TEXT NOT NULL,
			payload BLOB NOT NULL,
			error_msg TEXT,
			attempts INTEGER NOT NULL DEFAULT 0,
			next_retry INTEGER NOT NULL DEFAULT 0,
			terminal INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create dead_letters: %w", err)
	}
	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_dlq_due ON dead_letters (terminal, next_retry);"); err != nil {
		return fmt.Errorf("failed to create dead_letters index: %w", err)
	}

	q.Logger.Info("DLQ initialized (%s)", q.Config.DBPath)
	return nil
}

// -----------------------------------------------------------------------------

// StartRetryLoop launches the background redelivery and retention loop.
func (q *SQLiteDLQ) StartRetryLoop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel

	q.wg.Add(1)
	go q.retryLoop(ctx)
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) Stop() error {
	q.mu.Lock()
	cancel := q.cancel
	q.cancel = nil
	q.mu.Unlock()

	if cancel != nil {
		cancel()
		q.wg.Wait()
	}

	if q.DB != nil {
		return q.DB.Close()
	}
	return nil
}

// -----------------------------------------------------------------------------
// Recording
// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) Record(channel string, payload []byte, procErr error) error {
	return q.insert(channel, payload, procErr, false)
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) RecordPoison(channel string, payload []byte, procErr error) error {
	return q.insert(channel, payload, procErr, true)
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) insert(channel string, payload []byte, procErr error, terminal bool) error {
	now := time.Now().UTC()
	errMsg := ""
	if procErr != nil {
		errMsg = procErr.Error()
	}

	nextRetry := int64(0)
	if !terminal {
		nextRetry = now.Add(time.Duration(q.Config.BaseDelaySeconds) * time.Second).Unix()
	}

	_, err := q.DB.Exec(`
		INSERT INTO dead_letters (id, channel, payload, error_msg, attempts, next_retry, terminal, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)
	`, uuid.NewString(), channel, payload, errMsg, nextRetry, boolToInt(terminal), now, now)
	if err != nil {
		return helpers.NewStorageError("dlq insert failed", err)
	}

	if terminal {
		q.Logger.Warning("DLQ: parked poison payload from %s: %s", channel, errMsg)
	} else {
		q.Logger.Info("DLQ: parked failed event from %s: %s", channel, errMsg)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Queries
// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) ListPending(limit int) ([]models.MDLQEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := q.DB.Query(`
		SELECT id, channel, payload, error_msg, attempts, next_retry, terminal, created_at, updated_at
		FROM dead_letters
		WHERE terminal = 0
		ORDER BY created_at ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, helpers.NewStorageError("dlq list failed", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

// -----------------------------------------------------------------------------

// Retry forces an immediate redelivery attempt for one entry, terminal or not.
func (q *SQLiteDLQ) Retry(entryID string) error {
	row := q.DB.QueryRow(`
		SELECT id, channel, payload, error_msg, attempts, next_retry, terminal, created_at, updated_at
		FROM dead_letters WHERE id = ?
	`, entryID)

	entry, err := scanEntry(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("dlq entry not found: %s", entryID)
		}
		return helpers.NewStorageError("dlq lookup failed", err)
	}

	return q.redeliver(entry)
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) PurgeTerminal(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := q.DB.Exec("DELETE FROM dead_letters WHERE terminal = 1 AND updated_at < ?", cutoff)
	if err != nil {
		return 0, helpers.NewStorageError("dlq purge failed", err)
	}

	deleted, _ := res.RowsAffected()
	if deleted > 0 {
		q.Logger.Info("DLQ: purged %d terminal entries older than %v", deleted, olderThan)
	}
	return int(deleted), nil
}

// -----------------------------------------------------------------------------
// Redelivery Loop
// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) retryLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(time.Duration(q.Config.RetryIntervalSeconds) * time.Second)
	defer ticker.Stop()

	// Retention runs far less often than redelivery
	purgeTicker := time.NewTicker(time.Hour)
	defer purgeTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.redeliverDue()
		case <-purgeTicker.C:
			if _, err := q.PurgeTerminal(time.Duration(q.Config.RetentionHours) * time.Hour); err != nil {
				q.Logger.Error("DLQ purge error: %v", err)
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (q *SQLiteDLQ) redeliverDue() {
	now := time.Now().UTC().Unix()

	rows, err := q.DB.Query(`
		SELECT id, channel, payload, error_msg, attempts, next_retry, terminal, created_at, updated_at
		FROM dead_letters
		WHERE terminal = 0 AND next_retry <= ?
		ORDER BY next_retry ASC
		LIMIT 100
	`, now)
	if err != nil {
		q.Logger.Error("DLQ: query due entries failed: %v", err)
		return
	}

	due, err := scanEntries(rows)
	rows.Close()
	if err != nil {
		q.Logger.Error("DLQ: scan due entries failed: %v", err)
		return
	}

	for _, entry := range due {
		if err := q.redeliver(entry); err != nil {
			q.Logger.Debug("DLQ: redelivery of %s failed: %v", entry.ID, err)
		}
	}
}

// -----------------------------------------------------------------------------

// redeliver re-publishes one entry to its original channel. Success deletes
// the entry; failure backs off exponentially until max_attempts, after which
// the entry turns terminal.
func (q *SQLiteDLQ) redeliver(entry models.MDLQEntry) error {
	err := q.Broker.Publish(entry.Channel, entry.Payload)
	if err == nil {
		if _, delErr := q.DB.Exec("DELETE FROM dead_letters WHERE id = ?", entry.ID); delErr != nil {
			q.Logger.Error("DLQ: delete after redelivery failed for %s: %v", entry.ID, delErr)
		}
		q.Logger.Info("DLQ: redelivered entry %s to %s after %d attempts", entry.ID, entry.Channel, entry.Attempts)
		return nil
	}

	attempts := entry.Attempts + 1
	now := time.Now().UTC()

	if attempts >= q.Config.MaxAttempts {
		if _, upErr := q.DB.Exec(`
			UPDATE dead_letters SET attempts = ?, terminal = 1, next_retry = 0, error_msg = ?, updated_at = ?
			WHERE id = ?
		`, attempts, err.Error(), now, entry.ID); upErr != nil {
			q.Logger.Error("DLQ: terminal update failed for %s: %v", entry.ID, upErr)
		}
		q.Logger.Warning("DLQ: entry %s exhausted %d attempts, now terminal", entry.ID, attempts)
		return err
	}

	// Delay doubles with each attempt: base, 2*base, 4*base, ...
	delay := time.Duration(q.Config.BaseDelaySeconds) * time.Second << uint(attempts)
	nextRetry := now.Add(delay).Unix()

	if _, upErr := q.DB.Exec(`
		UPDATE dead_letters SET attempts = ?, next_retry = ?, error_msg = ?, updated_at = ?
		WHERE id = ?
	`, attempts, nextRetry, err.Error(), now, entry.ID); upErr != nil {
		q.Logger.Error("DLQ: backoff update failed for %s: %v", entry.ID, upErr)
	}
	return err
}

// -----------------------------------------------------------------------------
// Row Scanning
// -----------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (models.MDLQEntry, error) {
	var e models.MDLQEntry
	var terminal int
	err := row.Scan(&e.ID, &e.Channel, &e.Payload, &e.ErrorMsg, &e.Attempts, &e.NextRetry, &terminal, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return models.MDLQEntry{}, err
	}
	e.Terminal = terminal != 0
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]models.MDLQEntry, error) {
	var entries []models.MDLQEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
