package database

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
)

// Migration is one ordered schema version. Migrate must be idempotent:
// it may run again on a database where it already applied partially.
type Migration struct {
	Version string
	Migrate func(db *gorm.DB) error
}

// SchemaMigration records an applied schema version.
type SchemaMigration struct {
	ID        uint   `gorm:"primaryKey"`
	Version   string `gorm:"type:varchar(64);uniqueIndex;not null"`
	AppliedAt time.Time
}

// Migrate applies the given versions in order, skipping ones already
// recorded. Versions are never skipped over: a failure stops the chain
// before later versions run.
func Migrate(db *gorm.DB, migrations []Migration) error {
	if err := db.AutoMigrate(&SchemaMigration{}); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var applied []SchemaMigration
	if err := db.Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	log := logger.For("migrations")
	for _, m := range migrations {
		if done[m.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.Migrate(tx); err != nil {
				return err
			}
			return tx.Create(&SchemaMigration{Version: m.Version, AppliedAt: time.Now()}).Error
		})
		if err != nil {
			log.Error().Err(err).Str("version", m.Version).Msg("migration failed")
			return fmt.Errorf("migration %s failed: %w", m.Version, err)
		}
		log.Info().Str("version", m.Version).Msg("applied migration")
	}
	return nil
}
