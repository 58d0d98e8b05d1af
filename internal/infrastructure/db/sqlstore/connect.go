// Package sqlstore persists clients and their message log through gorm, on
// MySQL in production and SQLite for local runs and tests.
package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	mysqlcfg "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Options selects the driver and connection string.
type Options struct {
	Driver string
	DSN    string
	Debug  bool
}

// Open connects, pings and returns a gorm handle.
func Open(ctx context.Context, opts Options) (*gorm.DB, error) {
	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	level := logger.Silent
	if opts.Debug {
		level = logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlstore: pool: %w", err)
	}
	if opts.Driver == DriverSQLite {
		// SQLite has a single writer; one connection keeps transactions serialized.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("sqlstore: ping %s: %w", opts.Driver, err)
	}
	return db, nil
}

func dialectorFor(opts Options) (gorm.Dialector, error) {
	switch strings.ToLower(opts.Driver) {
	case DriverMySQL:
		dsn, err := NormalizeMySQLDSN(opts.DSN)
		if err != nil {
			return nil, err
		}
		return mysql.Open(dsn), nil
	case DriverSQLite, "sqlite3":
		dsn := opts.DSN
		if dsn == "" {
			dsn = "file:leadline?mode=memory&cache=shared"
		}
		return sqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("sqlstore: unsupported driver %q", opts.Driver)
}

// NormalizeMySQLDSN forces the options the store depends on: parsed times in
// UTC and utf8mb4.
func NormalizeMySQLDSN(dsn string) (string, error) {
	cfg, err := mysqlcfg.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("sqlstore: parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}
	return cfg.FormatDSN(), nil
}

// AllModels lists the tables the store owns.
func AllModels() []interface{} {
	return []interface{}{
		&clientRow{},
		&messageRow{},
		&handoffLockRow{},
	}
}

// AutoMigrate creates or updates the store's tables and seeds the hand-off
// lock row.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("sqlstore: auto-migrate: %w", err)
	}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&handoffLockRow{ID: handoffLockID}).Error; err != nil {
		return fmt.Errorf("sqlstore: seed hand-off lock: %w", err)
	}
	return nil
}
