package database

import (
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/bodhiapp/chat-core/internal/infrastructure/logger"
)

// Config holds local store configuration.
type Config struct {
	// Path is the sqlite database file. Use "file::memory:?cache=shared"
	// for an in-memory store.
	Path     string
	LogLevel gormlogger.LogLevel
}

// Connect opens the embedded database with the given configuration.
func Connect(cfg Config) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(cfg.LogLevel),
	})
	if err != nil {
		log := logger.GetLogger()
		log.Error().Err(err).Str("path", cfg.Path).Msg("unable to open local store")
		return nil, err
	}
	return db, nil
}

// Open opens the store at path with silent query logging.
func Open(path string) (*gorm.DB, error) {
	return Connect(Config{Path: path, LogLevel: gormlogger.Silent})
}

// IsStorageFull reports whether err is the sqlite quota/capacity failure
// (SQLITE_FULL), which the persistence layer must treat as a
// distinguishable quota-exceeded condition.
func IsStorageFull(err error) bool {
	if err == nil {
		return false
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		if strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "sqlite_full") {
			return true
		}
	}
	return false
}
