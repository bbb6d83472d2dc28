package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/storefront/api/internal/platform/config"
)

const (
	defaultSlowQuery = 250 * time.Millisecond
	pingTimeout      = 5 * time.Second
)

// Printf is the minimal logger gorm writes through.
type Printf interface {
	Printf(format string, args ...any)
}

type openOptions struct {
	logger gormlogger.Interface
}

// Option customises Open.
type Option func(*openOptions)

// WithLogger routes gorm's warnings and slow query reports to the given printf logger.
func WithLogger(writer Printf) Option {
	return func(o *openOptions) {
		if writer == nil {
			return
		}
		o.logger = gormlogger.New(writer, gormlogger.Config{
			SlowThreshold:             defaultSlowQuery,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			ParameterizedQueries:      true,
		})
	}
}

// Open connects to the configured relational store and applies pool settings.
func Open(ctx context.Context, cfg config.DatabaseConfig, opts ...Option) (*gorm.DB, error) {
	options := openOptions{logger: gormlogger.Discard}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}

	var dialector gorm.Dialector
	switch strings.ToLower(cfg.Driver) {
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 options.logger,
		TranslateError:         true,
		SkipDefaultTransaction: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	})
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := Ping(ctx, db); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Ping verifies connectivity within a bounded time.
func Ping(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("database: db is nil")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		return fmt.Errorf("database: ping: %w", err)
	}
	return nil
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
