package database

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	config "github.com/monorkin/device-fleet-manager/internal/config"
)

var (
	DB      *gorm.DB
	once    sync.Once
	initErr error
)

func Init() error {
	once.Do(func() {
		DB, initErr = SetupDatabase()
	})
	return initErr
}

func SetupDatabase() (*gorm.DB, error) {
	dbPath := config.DBPath()

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	return Open(DSN(dbPath))
}

// DSN builds a sqlite connection string for path with foreign keys enforced
// and a busy timeout so concurrent writers wait instead of failing.
func DSN(path string) string {
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + "_foreign_keys=on&_busy_timeout=5000"
}

// Open connects to the sqlite database at dsn and applies pending migrations.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
		Logger: logger.New(log.New(os.Stderr, "", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access connection pool: %w", err)
	}
	// sqlite allows a single writer; one connection keeps compare-and-set
	// updates from failing with SQLITE_BUSY under load.
	sqlDB.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}
