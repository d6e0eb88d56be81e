package storage

import (
	"fmt"

	"quote-pipeline/src/interfaces"
	"quote-pipeline/src/logger"
	"quote-pipeline/src/models"
)

// NewCandleStore builds the candle store selected by storage.db_type.
func NewCandleStore(cfg *models.MStorageConfig, log *logger.Logger) (interfaces.ICandleStore, error) {
	switch cfg.DBType {
	case "sqlite":
		return NewSQLiteCandleStore(cfg, log)
	case "postgres":
		return NewPostgresCandleStore(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage db_type: %s", cfg.DBType)
	}
}
