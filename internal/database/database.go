// Package database opens the blog's SQL store and keeps its schema current.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"blogger/internal/config"
	"blogger/internal/models"
	"blogger/internal/observability"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const slowQuery = 200 * time.Millisecond

// GormLogger sends gorm's statement log to slog.
type GormLogger struct {
	log   *slog.Logger
	level logger.LogLevel
}

// NewGormLogger returns a GormLogger that emits at level and above.
func NewGormLogger(l *slog.Logger, level logger.LogLevel) *GormLogger {
	return &GormLogger{log: l, level: level}
}

func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &GormLogger{log: g.log, level: level}
}

func (g *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	g.logf(ctx, logger.Info, slog.LevelInfo, msg, args)
}

func (g *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	g.logf(ctx, logger.Warn, slog.LevelWarn, msg, args)
}

func (g *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	g.logf(ctx, logger.Error, slog.LevelError, msg, args)
}

func (g *GormLogger) logf(ctx context.Context, min logger.LogLevel, lvl slog.Level, msg string, args []interface{}) {
	if g.level >= min {
		g.log.Log(ctx, lvl, fmt.Sprintf(msg, args...))
	}
}

// Trace reports failed statements, slow statements at warn, and the rest at info.
// Missing rows and unique violations are expected outcomes and never logged as errors.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	expected := errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrDuplicatedKey)

	var (
		lvl slog.Level
		msg string
	)
	switch {
	case err != nil && !expected && g.level >= logger.Error:
		lvl, msg = slog.LevelError, "sql failed"
	case elapsed > slowQuery && g.level >= logger.Warn:
		lvl, msg = slog.LevelWarn, "sql slow"
	case g.level >= logger.Info:
		lvl, msg = slog.LevelInfo, "sql"
	default:
		return
	}

	sql, rows := fc()
	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Int64("rows", rows),
		slog.Duration("elapsed", elapsed),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	g.log.LogAttrs(ctx, lvl, msg, attrs...)
}

// Dialector picks the gorm dialector for the configured driver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		// Foreign keys and a busy timeout so concurrent writers wait instead of failing.
		return sqlite.Open(cfg.DBPath + "?_foreign_keys=on&_busy_timeout=5000"), nil
	case "postgres":
		sslMode := cfg.DBSSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		dsn := fmt.Sprintf(
			"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			cfg.DBHost,
			cfg.DBPort,
			cfg.DBUser,
			cfg.DBPassword,
			cfg.DBName,
			sslMode,
		)
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}

// Open opens a gorm connection with the application's gorm settings.
// TranslateError maps driver unique violations to gorm.ErrDuplicatedKey.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(observability.Logger, logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Connect opens a database connection using the provided configuration, runs
// migrations and returns the gorm DB instance.
func Connect(cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := Open(dialector)
	if err != nil {
		return nil, err
	}
	observability.Logger.Info("Database connected successfully", slog.String("driver", dialector.Name()))

	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := configurePool(db, dialector.Name()); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates the blog schema.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.User{}, &models.Post{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	observability.Logger.Info("Database migration completed")
	return nil
}

func configurePool(db *gorm.DB, driver string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if driver == "sqlite" {
		// SQLite allows a single writer; one connection serializes access.
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		return nil
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	return nil
}

// Ping checks the database connection within ctx.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
