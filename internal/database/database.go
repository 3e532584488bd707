// Package database opens the venue's sqlite store and keeps the schema
// migrated.
package database

import (
	"github.com/meridianx/venue-api/internal/ledger"
	"github.com/meridianx/venue-api/internal/pool"
	"github.com/meridianx/venue-api/internal/settlement"
	"github.com/meridianx/venue-api/internal/trading"
	"github.com/meridianx/venue-api/internal/types"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens the database at path and migrates the full schema.
func Connect(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		return nil, err
	}

	log.Info().Str("path", path).Msg("database connected")
	return db, nil
}

func migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&types.Order{},
		&types.Execution{},
		&types.PoolFill{},
		&trading.IdempotencyRecord{},
		&pool.Pool{},
		&pool.ProviderPosition{},
		&ledger.Balance{},
		&ledger.Entry{},
		&settlement.SagaExecution{},
	)
}
