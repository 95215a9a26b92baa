// Package db provides database connection, migration and the GORM-backed
// registry store.
package db

import (
	"errors"
	"fmt"
	"io/fs"
	stdlog "log"
	"os"
	"path/filepath"
	"strings"

	"vote-escrow/internal/config"
	"vote-escrow/internal/models"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a database connection using the provided configuration.
func Open(cfg config.Config) (*gorm.DB, error) {
	// Configure GORM logger (Silent to avoid cluttering output; only errors will be logged)
	newLogger := logger.New(
		stdlog.New(os.Stdout, "", stdlog.LstdFlags),
		logger.Config{
			SlowThreshold:             0,
			LogLevel:                  logger.Silent,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	gormCfg := &gorm.Config{
		Logger:         newLogger,
		TranslateError: true,
	}

	if cfg.DBDialect == "" || cfg.DBDsn == "" {
		return nil, errors.New("no database configured")
	}

	switch cfg.DBDialect {
	case config.DatabaseSchemePostgres:
		return gorm.Open(postgres.Open(cfg.DBDsn), gormCfg)
	case config.DatabaseSchemeSqlite:
		if err := ensureDir(cfg.DBDsn); err != nil {
			return nil, err
		}
		return gorm.Open(sqlite.Open(withBusyTimeout(cfg.DBDsn)), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported DB_DIALECT: %s", cfg.DBDialect)
	}
}

// sqliteBusyTimeout is how long a sqlite connection waits for another
// process's write lock before failing.
const sqliteBusyTimeout = "busy_timeout(5000)"

// withBusyTimeout adds the busy timeout pragma to a sqlite dsn that does not
// set one itself.
func withBusyTimeout(dsn string) string {
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=" + sqliteBusyTimeout
}

// ensureDir creates the parent directory of a sqlite database file.
func ensureDir(dsn string) error {
	path := dsn
	for i, c := range dsn {
		if c == '?' {
			path = dsn[:i]
			break
		}
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if _, err := os.Stat(dir); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read data dir: %w", err)
		}
		if err := os.MkdirAll(dir, fs.ModePerm); err != nil {
			return fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return nil
}

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	return db.AutoMigrate(
		&models.Ledger{},
		&models.Round{},
		&models.RoundVoter{},
		&models.Vote{},
		&models.Transfer{},
	)
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
