package persistence

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/erp/agency/internal/infrastructure/migration"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Database holds the local SQLite connection backing the durable store
type Database struct {
	DB     *gorm.DB
	path   string
	logger *zap.Logger
}

// DatabaseOption configures Open
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	logger     *zap.Logger
	gormLogger gormlogger.Interface
}

// WithDatabaseLogger sets the zap logger used for lifecycle and migration logs
func WithDatabaseLogger(logger *zap.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

// WithGormLogger sets the query logger
func WithGormLogger(l gormlogger.Interface) DatabaseOption {
	return func(o *databaseOptions) {
		o.gormLogger = l
	}
}

// Open opens (creating if needed) the SQLite file at cfg.Path and applies
// the embedded local migrations. The pool is limited to one connection so
// every read-process-remove sequence on the queue is serialized.
func Open(cfg config.LocalStoreConfig, opts ...DatabaseOption) (*Database, error) {
	o := databaseOptions{
		logger:     zap.NewNop(),
		gormLogger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create local store directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn(cfg)), &gorm.Config{
		Logger:                 o.gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	// The migrator shares sqlDB and is deliberately not closed: closing it would close the pool.
	m, err := migration.NewLocal(sqlDB, o.logger)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	if err := m.Up(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	o.logger.Info("Local store opened", zap.String("path", cfg.Path))
	return &Database{DB: db, path: cfg.Path, logger: o.logger}, nil
}

func dsn(cfg config.LocalStoreConfig) string {
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	return fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		cfg.Path, busy.Milliseconds())
}

// Path returns the database file path
func (d *Database) Path() string {
	return d.path
}

// Ping checks that the database file is usable
func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}
