package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/fx"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func InitPostgresql(cfg Config) (*gorm.DB, error) {
	// Simple protocol keeps pgx from caching prepared statements across the
	// per-tenant search_path switches.
	dialector := postgres.New(postgres.Config{DSN: cfg.PostgresURL, PreferSimpleProtocol: true})
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// ClosePostgresqlOnStop closes the pool when the fx app stops.
func ClosePostgresqlOnStop(lc fx.Lifecycle, db *gorm.DB, logger zerolog.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			if err := sqlDB.Close(); err != nil {
				logger.Error().Err(err).Msg("closing postgres pool")
				return err
			}
			logger.Info().Msg("postgres pool closed")
			return nil
		},
	})
}
