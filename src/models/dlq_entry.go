package models

import "time"

// -----------------------------------------------------------------------------
// MDLQEntry is an event a subscriber failed to process, parked for retry.
// Owned by the DLQ manager from creation until redelivery or purge.
// -----------------------------------------------------------------------------

type MDLQEntry struct {
	ID        string    `json:"id"`
	Channel   string    `json:"channel"`
	Payload   []byte    `json:"payload"`
	ErrorMsg  string    `json:"error_msg"`
	Attempts  int       `json:"attempts"`
	NextRetry int64     `json:"next_retry"` // Unix seconds; 0 for terminal entries
	Terminal  bool      `json:"terminal"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
