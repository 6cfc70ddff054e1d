// Package postgres persists the event log, snapshots, and read models in
// PostgreSQL through gorm. The event log's optimistic concurrency rests on a
// unique (stream_id, stream_version) index: conflicting appends surface as
// duplicate-key errors at commit time, never as read-then-check races.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to PostgreSQL. TranslateError is required: conflict
// detection relies on gorm.ErrDuplicatedKey.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return db, nil
}

// Migrate creates or updates every table this adapter owns.
func Migrate(log *slog.Logger, db *gorm.DB) error {
	log.Info("running migrations")
	return db.AutoMigrate(allModels()...)
}
